// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts pipeline jobs created, by stage.
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_created_total",
		Help: "Pipeline jobs created, by stage.",
	}, []string{"stage"})

	// JobsFinished counts jobs reaching a terminal status.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_finished_total",
		Help: "Pipeline jobs reaching a terminal status, by stage and status.",
	}, []string{"stage", "status"})

	// ProviderSelections counts generate calls per chosen provider.
	ProviderSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_selections_total",
		Help: "Video generations started, by provider.",
	}, []string{"provider"})

	// Polls counts status polls against providers.
	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_polls_total",
		Help: "Status polls issued to providers, by provider.",
	}, []string{"provider"})

	// Downloads counts artifact downloads, by provider and result.
	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_downloads_total",
		Help: "Artifact downloads attempted, by provider and result.",
	}, []string{"provider", "result"})

	// ActiveGenerations tracks in-flight generation handles.
	ActiveGenerations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_generations",
		Help: "Video generation handles not yet terminal.",
	})
)
