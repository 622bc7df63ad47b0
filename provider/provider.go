package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/video"
)

var (
	providers []string
	factories = map[string]Factory{}
)

var (
	ErrRegistered = errors.New("provider is already registered")
	ErrNotFound   = errors.New("provider not found")
	ErrConfig     = errors.New("bad provider configuration")
)

// State is the state of a generation job as reported by a provider.
type State string

const (
	StateUnknown    = State("unknown")
	StateQueued     = State("queued")
	StateProcessing = State("processing")
	StateCompleted  = State("completed")
	StateFailed     = State("failed")
	StateCancelled  = State("cancelled")
)

// Terminal reports whether the remote job can make no further progress.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Provider knows how to drive one video generation back-end.
type Provider interface {
	// Generate starts a generation job for the script and returns the
	// remote handle.
	Generate(ctx context.Context, script *video.Script, cfg video.Config) (*Job, error)

	// Status refreshes the remote job state. Pull, not push.
	Status(ctx context.Context, jobID string) (*Job, error)

	// Download fetches the finished video into outputPath and returns
	// its metadata.
	Download(ctx context.Context, jobID, outputPath string) (*video.Artifact, error)

	// Cancel stops a remote job. Cancelling an unknown or finished job
	// returns JobNotFoundError.
	Cancel(ctx context.Context, jobID string) error

	// Healthcheck should return nil if the provider is currently
	// available for generating videos, otherwise an error explaining
	// what's going on.
	Healthcheck() error

	// Capabilities describes the capabilities of the provider.
	Capabilities() Capabilities

	// EstimateCost predicts the cost of generating the script.
	EstimateCost(script *video.Script, cfg video.Config) (CostEstimate, error)
}

// Factory is the function responsible for creating the instance of a
// provider. Factories fail when their credentials are absent.
type Factory func(cfg *config.Config) (Provider, error)

// InvalidConfigError is returned if a provider could not be configured
// properly.
type InvalidConfigError string

func (err InvalidConfigError) Error() string {
	return string(err)
}

// JobNotFoundError is returned if a job with a given id could not be
// found by the provider.
type JobNotFoundError struct {
	ID string
}

func (err JobNotFoundError) Error() string {
	return fmt.Sprintf("could not find job with id: %s", err.ID)
}

// Job mirrors the remote system's view of one generation attempt.
type Job struct {
	ID       string `json:"job_id"`
	Provider string `json:"provider"`

	State    State   `json:"status"`
	Progress float64 `json:"progress"`

	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	ResultURL           string     `json:"result_url,omitempty"`
	Message             string     `json:"error_message,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CostEstimate is a provider's cost prediction for one script.
type CostEstimate struct {
	EstimatedCost float64  `json:"estimated_cost"`
	Currency      string   `json:"currency"`
	Factors       []string `json:"factors,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// Register registers a new provider in the internal list of providers.
// Registration order is preserved; it breaks selection-score ties.
func Register(name string, factory Factory) error {
	if _, ok := factories[name]; ok {
		return ErrRegistered
	}
	factories[name] = factory
	providers = append(providers, name)
	return nil
}

// GetFactory looks up the list of registered providers and returns the
// factory function for the given provider name, if it's available.
func GetFactory(name string) (Factory, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, ErrNotFound
	}
	return factory, nil
}

// List returns the providers whose factories succeed with the given
// configuration, in registration order.
func List(c *config.Config) []string {
	names := make([]string, 0, len(providers))
	for _, name := range providers {
		if _, err := factories[name](c); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// Describe describes the given provider. It includes information about
// the provider's capabilities and its current health state.
func Describe(name string, c *config.Config) (*Description, error) {
	factory, err := GetFactory(name)
	if err != nil {
		return nil, err
	}
	description := Description{Name: name}
	p, err := factory(c)
	if err != nil {
		return &description, nil
	}
	description.Enabled = true
	description.Capabilities = p.Capabilities()
	description.Health = Health{OK: true}
	if err = p.Healthcheck(); err != nil {
		description.Health = Health{OK: false, Message: err.Error()}
	}
	return &description, nil
}

// Description holds a provider's name, availability, health and
// capabilities.
type Description struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities,omitempty"`
	Health       Health       `json:"health,omitempty"`
	Enabled      bool         `json:"enabled"`
}

// Health indicates whether a provider is responding.
type Health struct {
	OK      bool   `json:"isHealthy"`
	Message string `json:"message,omitempty"`
}
