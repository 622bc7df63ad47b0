package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds the full configuration of the orchestrator service.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	SentryDSN string `envconfig:"SENTRY_DSN"`
	Env       string `envconfig:"ENVIRONMENT" default:"dev"`

	Redis    Redis
	Pipeline Pipeline

	Runway   *Runway
	Pika     *Pika
	Luma     *Luma
	Template *Template
}

// Redis configures the job/video store.
type Redis struct {
	Addr string `envconfig:"REDIS_ADDR"`
	DB   int    `envconfig:"REDIS_DB"`
}

// Pipeline tunes the coordinator and orchestrator.
type Pipeline struct {
	// MaxConcurrentGenerations bounds in-flight remote generate calls
	// across all projects.
	MaxConcurrentGenerations int `envconfig:"MAX_CONCURRENT_GENERATIONS" default:"3"`

	// PollIntervalMS is the render-stage poll cadence in milliseconds.
	PollIntervalMS int `envconfig:"POLL_INTERVAL_MS" default:"2000"`

	// MaxCostUSD is the per-video budget used during provider selection.
	MaxCostUSD float64 `envconfig:"MAX_COST_USD" default:"5"`

	OutputDir string `envconfig:"OUTPUT_DIR" default:"output/videos"`
}

// Runway holds Runway Gen-3 credentials and limits.
type Runway struct {
	APIKey      string `envconfig:"RUNWAY_API_KEY"`
	Endpoint    string `envconfig:"RUNWAY_ENDPOINT" default:"https://api.runwayml.com/v1"`
	Model       string `envconfig:"RUNWAY_MODEL" default:"gen3a_turbo"`
	MaxDuration int    `envconfig:"RUNWAY_MAX_DURATION" default:"10"`
}

// Pika holds Pika Labs credentials and limits.
type Pika struct {
	APIKey      string `envconfig:"PIKA_API_KEY"`
	Endpoint    string `envconfig:"PIKA_ENDPOINT" default:"https://api.pika.art/v1"`
	MaxDuration int    `envconfig:"PIKA_MAX_DURATION" default:"3"`
}

// Luma holds Luma Dream Machine credentials and limits.
type Luma struct {
	APIKey      string `envconfig:"LUMA_API_KEY"`
	Endpoint    string `envconfig:"LUMA_ENDPOINT" default:"https://api.lumalabs.ai/dream-machine/v1"`
	MaxDuration int    `envconfig:"LUMA_MAX_DURATION" default:"5"`
}

// Template configures the local template composer. It needs no
// credentials and is always available.
type Template struct {
	TemplatesDir string `envconfig:"TEMPLATE_TEMPLATES_DIR" default:"templates"`
	OutputDir    string `envconfig:"TEMPLATE_OUTPUT_DIR" default:"output"`
}

// LoadConfig loads configuration from the environment.
func LoadConfig() *Config {
	var cfg Config
	envconfig.MustProcess("", &cfg)
	return &cfg
}

// Logger builds the application logger from the configured level.
func (c *Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	return log, nil
}
