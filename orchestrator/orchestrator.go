// Package orchestrator drives video generation across the registered
// provider back-ends. It owns provider selection, the active handle
// set, and the poll/download/cancel protocol.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/metrics"
	"github.com/paperclip/video-orchestrator/provider"
	"github.com/paperclip/video-orchestrator/video"
)

// ErrNoProviderAvailable is returned when no registered provider is
// healthy and affordable for a script.
var ErrNoProviderAvailable = errors.New("no provider available for generation")

// ErrUnknownHandle is returned for operations against a handle the
// orchestrator is not tracking.
var ErrUnknownHandle = errors.New("unknown video handle")

// ProviderCallError wraps a remote provider failure. The stage that
// hit it is marked failed and never retried here; retry policy belongs
// to the caller.
type ProviderCallError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderCallError) Unwrap() error { return e.Err }

// ArtifactDownloadError indicates a completed generation whose
// artifact could not be fetched. The handle stays completed and
// undownloaded, so the next poll retries the download only.
type ArtifactDownloadError struct {
	VideoID string
	Err     error
}

func (e *ArtifactDownloadError) Error() string {
	return fmt.Sprintf("downloading artifact for video %s: %v", e.VideoID, e.Err)
}

func (e *ArtifactDownloadError) Unwrap() error { return e.Err }

// Handle identifies one in-flight generation.
type Handle struct {
	VideoID       string `json:"video_id"`
	Provider      string `json:"provider"`
	ProviderJobID string `json:"provider_job_id"`
}

type handleState struct {
	// mu serializes poll/cancel per handle. At most one in-flight
	// remote operation per handle, enforced here and not by callers.
	mu sync.Mutex

	handle     Handle
	last       provider.Job
	downloaded bool
	cancelled  bool

	// terminal handles stay tracked so later polls remain idempotent,
	// but they no longer count as active.
	terminal bool
}

// Orchestrator selects providers and tracks their remote jobs.
type Orchestrator struct {
	cfg    *config.Config
	repo   video.Repository
	logger *logrus.Logger

	// names keeps registration order; it breaks selection-score ties.
	names     []string
	providers map[string]provider.Provider

	mu     sync.Mutex
	active map[string]*handleState

	sem chan struct{}
}

// New instantiates every registered provider whose factory accepts the
// configuration and returns an orchestrator over them.
func New(cfg *config.Config, repo video.Repository, logger *logrus.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		repo:      repo,
		logger:    logger,
		providers: map[string]provider.Provider{},
		active:    map[string]*handleState{},
	}

	ceiling := cfg.Pipeline.MaxConcurrentGenerations
	if ceiling <= 0 {
		ceiling = 3
	}
	o.sem = make(chan struct{}, ceiling)

	for _, name := range provider.List(cfg) {
		factory, err := provider.GetFactory(name)
		if err != nil {
			continue
		}
		p, err := factory(cfg)
		if err != nil {
			continue
		}
		o.names = append(o.names, name)
		o.providers[name] = p
	}

	return o
}

// Providers returns the usable provider names in registration order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.names))
	copy(names, o.names)
	return names
}

// Generate starts a generation for the script. A preferred provider is
// used when registered and healthy; otherwise selection falls back to
// scoring. No remote call is made for incompatible scripts.
func (o *Orchestrator) Generate(ctx context.Context, script *video.Script, cfg video.Config, preferred string) (*Handle, error) {
	name, err := o.selectProvider(script, cfg, preferred)
	if err != nil {
		return nil, err
	}
	p := o.providers[name]

	v := provider.ValidateScript(script, p.Capabilities())
	if !v.Valid {
		return nil, provider.IncompatibleScriptError{Provider: name, Issues: v.Issues}
	}
	if len(v.Warnings) > 0 {
		o.logger.WithFields(logrus.Fields{
			"provider": name,
			"script":   script.ID,
			"warnings": strings.Join(v.Warnings, "; "),
		}).Warn("script validation warnings")
	}

	vid := video.New(script, name, cfg)

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	job, err := p.Generate(ctx, script, cfg)
	<-o.sem

	if err != nil {
		vid.MarkFailed(err.Error())
		if saveErr := o.repo.SaveVideo(vid); saveErr != nil {
			o.logger.WithError(saveErr).WithField("video", vid.ID).Error("saving failed video")
		}
		return nil, &ProviderCallError{Provider: name, Op: "generate", Err: err}
	}

	vid.MarkGenerating(job.ID)
	if err := o.repo.SaveVideo(vid); err != nil {
		// The remote job is already running and would bill with no
		// record pointing at it. Best effort to stop it.
		if cancelErr := p.Cancel(ctx, job.ID); cancelErr != nil {
			o.logger.WithError(cancelErr).WithFields(logrus.Fields{
				"provider": name,
				"job":      job.ID,
			}).Error("cancelling untracked generation")
		}
		return nil, errors.Wrap(err, "saving video record")
	}

	handle := Handle{VideoID: vid.ID, Provider: name, ProviderJobID: job.ID}

	o.mu.Lock()
	o.active[handle.VideoID] = &handleState{handle: handle, last: *job}
	o.mu.Unlock()

	metrics.ProviderSelections.WithLabelValues(name).Inc()
	metrics.ActiveGenerations.Inc()

	o.logger.WithFields(logrus.Fields{
		"provider": name,
		"video":    vid.ID,
		"job":      job.ID,
		"script":   script.ID,
	}).Info("generation started")

	return &handle, nil
}

func (o *Orchestrator) selectProvider(script *video.Script, cfg video.Config, preferred string) (string, error) {
	if preferred != "" {
		if p, ok := o.providers[preferred]; ok {
			err := p.Healthcheck()
			if err == nil {
				return preferred, nil
			}
			o.logger.WithFields(logrus.Fields{
				"provider": preferred,
				"reason":   err.Error(),
			}).Warn("preferred provider unhealthy, falling back to auto-selection")
		}
	}
	return o.autoSelect(script, cfg)
}

func (o *Orchestrator) autoSelect(script *video.Script, cfg video.Config) (string, error) {
	best := ""
	bestScore := 0.0

	for _, name := range o.names {
		p := o.providers[name]
		if err := p.Healthcheck(); err != nil {
			o.logger.WithFields(logrus.Fields{
				"provider": name,
				"reason":   err.Error(),
			}).Debug("skipping unhealthy provider")
			continue
		}

		score := o.score(name, p, script, cfg)
		if score > bestScore {
			best, bestScore = name, score
		}
	}

	if best == "" {
		return "", ErrNoProviderAvailable
	}

	o.logger.WithFields(logrus.Fields{
		"provider": best,
		"score":    bestScore,
	}).Info("auto-selected provider")
	return best, nil
}

// styleAffinity lists the styles each provider is known to render
// well. Motion back-ends suit documentary footage; the template
// composer suits structured formats.
var styleAffinity = map[string][]string{
	"template": {"educational", "presentation"},
	"runway":   {"documentary"},
	"luma":     {"documentary"},
}

var affinityBonus = map[string]float64{
	"template": 25,
	"runway":   20,
	"luma":     20,
}

var reliabilityBonus = map[string]float64{
	"template": 10,
	"runway":   15,
}

func (o *Orchestrator) score(name string, p provider.Provider, script *video.Script, cfg video.Config) float64 {
	caps := p.Capabilities()

	duration := script.EstimatedDuration
	if duration == 0 {
		duration = 5
	}

	var score float64
	if caps.MaxDuration <= 0 || duration <= caps.MaxDuration {
		score += 30
	} else {
		score -= 20
	}

	switch {
	case cfg.Quality == "4k" && caps.SupportsResolution("4k"):
		score += 20
	case cfg.Quality == "1080p":
		score += 15
	}

	for _, style := range styleAffinity[name] {
		if cfg.Style == style {
			score += affinityBonus[name]
			break
		}
	}

	budget := cfg.MaxCost
	if budget <= 0 {
		budget = o.cfg.Pipeline.MaxCostUSD
	}
	if budget <= 0 {
		budget = math.Inf(1)
	}

	estimate, err := p.EstimateCost(script, cfg)
	switch {
	case err != nil:
		// Unknown cost reads as moderate.
		score += 5
	case estimate.EstimatedCost <= budget:
		score += math.Max(0, 15-estimate.EstimatedCost*10)
	default:
		score -= 30
	}

	score += reliabilityBonus[name]

	return math.Max(0, score)
}

// ProviderStatus reports health and capabilities per usable provider.
// Read-only: a failing health check reads as unhealthy rather than
// propagating.
func (o *Orchestrator) ProviderStatus() map[string]provider.Description {
	out := make(map[string]provider.Description, len(o.names))
	for _, name := range o.names {
		p := o.providers[name]
		d := provider.Description{
			Name:         name,
			Enabled:      true,
			Capabilities: p.Capabilities(),
			Health:       provider.Health{OK: true},
		}
		if err := p.Healthcheck(); err != nil {
			d.Health = provider.Health{OK: false, Message: err.Error()}
		}
		out[name] = d
	}
	return out
}

// CostSummary aggregates a provider's estimates over a batch of
// scripts.
type CostSummary struct {
	TotalCost       float64 `json:"total_cost"`
	AveragePerVideo float64 `json:"average_per_video"`
	Currency        string  `json:"currency"`
	VideoCount      int     `json:"video_count"`
}

// EstimateCost prices a batch of scripts per provider. With a
// preferred provider only that one is priced. Providers that cannot
// price every script are omitted.
func (o *Orchestrator) EstimateCost(scripts []*video.Script, cfg video.Config, preferred string) (map[string]CostSummary, error) {
	names := o.names
	if preferred != "" {
		if _, ok := o.providers[preferred]; !ok {
			return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, preferred)
		}
		names = []string{preferred}
	}
	if len(scripts) == 0 {
		return map[string]CostSummary{}, nil
	}

	out := make(map[string]CostSummary, len(names))
	for _, name := range names {
		p := o.providers[name]

		var total float64
		ok := true
		for _, script := range scripts {
			estimate, err := p.EstimateCost(script, cfg)
			if err != nil {
				o.logger.WithError(err).WithField("provider", name).Warn("cost estimation failed")
				ok = false
				break
			}
			total += estimate.EstimatedCost
		}
		if !ok {
			continue
		}

		out[name] = CostSummary{
			TotalCost:       total,
			AveragePerVideo: total / float64(len(scripts)),
			Currency:        "USD",
			VideoCount:      len(scripts),
		}
	}
	return out, nil
}

// BatchResult pairs one script of a batch with its outcome.
type BatchResult struct {
	ScriptID string  `json:"script_id"`
	Handle   *Handle `json:"handle,omitempty"`
	Err      error   `json:"-"`
}

// GenerateBatch starts generations for many scripts concurrently.
// In-flight remote generate calls stay bounded by the configured
// ceiling; per-script failures land in the result slice instead of
// aborting the batch.
func (o *Orchestrator) GenerateBatch(ctx context.Context, scripts []*video.Script, cfg video.Config, preferred string) []BatchResult {
	results := make([]BatchResult, len(scripts))

	var wg sync.WaitGroup
	for i, script := range scripts {
		wg.Add(1)
		go func(i int, script *video.Script) {
			defer wg.Done()
			handle, err := o.Generate(ctx, script, cfg, preferred)
			results[i] = BatchResult{ScriptID: script.ID, Handle: handle, Err: err}
		}(i, script)
	}
	wg.Wait()

	return results
}

// ActiveJobs snapshots the handles not yet terminal.
func (o *Orchestrator) ActiveJobs() []Handle {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Handle, 0, len(o.active))
	for _, hs := range o.active {
		if hs.terminal {
			continue
		}
		out = append(out, hs.handle)
	}
	return out
}

func (o *Orchestrator) handleState(videoID string) (*handleState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	hs, ok := o.active[videoID]
	return hs, ok
}

// markTerminal retires a handle from the active set. Idempotent; the
// gauge drops once.
func (o *Orchestrator) markTerminal(hs *handleState) {
	o.mu.Lock()
	already := hs.terminal
	hs.terminal = true
	o.mu.Unlock()
	if !already {
		metrics.ActiveGenerations.Dec()
	}
}
