package main

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/db"
	"github.com/paperclip/video-orchestrator/job"
	"github.com/paperclip/video-orchestrator/orchestrator"
	"github.com/paperclip/video-orchestrator/pipeline"
	"github.com/paperclip/video-orchestrator/service"
	"github.com/paperclip/video-orchestrator/service/exceptions"
	"github.com/paperclip/video-orchestrator/video"

	_ "github.com/paperclip/video-orchestrator/provider/luma"
	_ "github.com/paperclip/video-orchestrator/provider/pika"
	_ "github.com/paperclip/video-orchestrator/provider/runway"
	_ "github.com/paperclip/video-orchestrator/provider/template"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}

	var reporter exceptions.Reporter = &exceptions.NoopReporter{}
	if cfg.SentryDSN != "" {
		reporter, err = exceptions.NewSentryReporter(cfg.SentryDSN, cfg.Env)
		if err != nil {
			logger.Fatalf("initializing sentry: %v", err)
		}
	}

	var store interface {
		job.Repository
		video.Repository
	}
	if cfg.Redis.Addr != "" {
		client, err := db.NewClient(&db.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			logger.Fatalf("connecting to redis: %v", err)
		}
		store = db.NewRedisRepository(client)
		logger.WithField("addr", cfg.Redis.Addr).Info("using redis store")
	} else {
		store = db.NewMemoryRepository()
		logger.Warn("no redis configured, job and video state will not survive restarts")
	}

	ledger := job.NewLedger(store, logger)
	orch := orchestrator.New(cfg, store, logger)
	coordinator := pipeline.NewCoordinator(cfg, ledger, orch, logger)

	if providers := orch.Providers(); len(providers) == 0 {
		logger.Fatal("no video providers configured")
	} else {
		logger.WithField("providers", providers).Info("registered providers")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", service.Server{
		Config:       cfg,
		Coordinator:  coordinator,
		Orchestrator: orch,
		Ledger:       ledger,
		Videos:       store,
		Logger:       logger,
		ErrReporter:  reporter,
	})

	logger.WithField("addr", cfg.ListenAddr).Info("listening")
	logger.Fatal(http.ListenAndServe(cfg.ListenAddr, mux))
}
