// Package template is the built-in generation back-end. It composes
// placeholder scene renders locally, needs no credentials, and is the
// guaranteed fallback when no remote provider is usable.
package template

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/provider"
	"github.com/paperclip/video-orchestrator/scene"
	"github.com/paperclip/video-orchestrator/video"
)

// Name identifies the template provider by name.
const Name = "template"

func init() {
	err := provider.Register(Name, templateFactory)
	if err != nil {
		fmt.Printf("registering template factory: %v", err)
	}
}

// checksToComplete is how many status checks a job takes to finish:
// queued, processing, completed. The composition itself happens at
// submit time; the stepped progression keeps the poll contract
// observable without wall-clock simulation.
const checksToComplete = 3

type tmpl struct {
	cfg *config.Template

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	job        provider.Job
	checks     int
	resultPath string
	duration   float64
	cost       float64
}

func templateFactory(cfg *config.Config) (provider.Provider, error) {
	tc := cfg.Template
	if tc == nil {
		tc = &config.Template{TemplatesDir: "templates", OutputDir: "output"}
	}
	return &tmpl{cfg: tc, jobs: map[string]*jobState{}}, nil
}

func (p *tmpl) Generate(ctx context.Context, script *video.Script, cfg video.Config) (*provider.Job, error) {
	req := scene.BuildRequest(script, cfg)
	if len(req.Scenes) == 0 {
		return nil, fmt.Errorf("no valid scenes found in script %s", script.ID)
	}

	jobID := fmt.Sprintf("template_%s_%04d",
		time.Now().UTC().Format("20060102_150405"), hash(script.Content)%10000)

	resultPath, err := p.compose(jobID, req, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "composing template video")
	}

	duration := scene.TotalDuration(req.Scenes)
	cost, _ := p.EstimateCost(script, cfg)

	j := provider.Job{
		ID:       jobID,
		Provider: Name,
		State:    provider.StateQueued,
		Metadata: map[string]interface{}{
			"scene_count":        len(req.Scenes),
			"template_style":     cfg.Style,
			"script_id":          script.ID,
			"estimated_duration": duration,
		},
	}

	p.mu.Lock()
	p.jobs[jobID] = &jobState{
		job:        j,
		resultPath: resultPath,
		duration:   duration,
		cost:       cost.EstimatedCost,
	}
	p.mu.Unlock()

	return &j, nil
}

// compose writes the rendered composition for a job. Real encoding is
// delegated elsewhere; the output here stands in for the artifact.
func (p *tmpl) compose(jobID string, req scene.Request, cfg video.Config) (string, error) {
	if err := os.MkdirAll(p.cfg.OutputDir, 0755); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Template composition %s\n", jobID)
	fmt.Fprintf(&b, "Title: %s\nStyle: %s\nQuality: %s\n\n", req.Title, cfg.Style, cfg.Quality)
	for _, s := range req.Scenes {
		fmt.Fprintf(&b, "=== Scene %d: %s (%.1fs) ===\n", s.Number, s.Title, s.DurationEstimate)
		if s.VisualDescription != "" {
			fmt.Fprintf(&b, "%s\n", s.VisualDescription)
		}
		for _, c := range s.Callouts {
			fmt.Fprintf(&b, "CALLOUT: %s\n", c)
		}
		if s.Narration != "" {
			fmt.Fprintf(&b, "Narration: %s\n", s.Narration)
		}
		b.WriteString("\n")
	}

	path := filepath.Join(p.cfg.OutputDir, "video_"+jobID+".mp4")
	if err := ioutil.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (p *tmpl) Status(ctx context.Context, jobID string) (*provider.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.jobs[jobID]
	if !ok {
		return nil, provider.JobNotFoundError{ID: jobID}
	}
	if state.job.State.Terminal() {
		j := state.job
		return &j, nil
	}

	state.checks++
	switch {
	case state.checks < 2:
		state.job.State = provider.StateQueued
		state.job.Progress = 10
	case state.checks < checksToComplete:
		state.job.State = provider.StateProcessing
		state.job.Progress = 60
	default:
		state.job.State = provider.StateCompleted
		state.job.Progress = 100
		state.job.ResultURL = state.resultPath
	}

	j := state.job
	return &j, nil
}

func (p *tmpl) Download(ctx context.Context, jobID, outputPath string) (*video.Artifact, error) {
	p.mu.Lock()
	state, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return nil, provider.JobNotFoundError{ID: jobID}
	}
	if state.job.State != provider.StateCompleted {
		return nil, fmt.Errorf("job %s is not completed (status: %s)", jobID, state.job.State)
	}

	data, err := ioutil.ReadFile(state.resultPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading composed video")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, err
	}
	if err := ioutil.WriteFile(outputPath, data, 0644); err != nil {
		return nil, errors.Wrapf(err, "writing video to %s", outputPath)
	}

	return &video.Artifact{
		FilePath:   outputPath,
		FileSize:   int64(len(data)),
		Duration:   state.duration,
		Resolution: "1920x1080",
		Format:     "mp4",
		Cost:       state.cost,
	}, nil
}

func (p *tmpl) Cancel(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.jobs[jobID]
	if !ok {
		return provider.JobNotFoundError{ID: jobID}
	}
	if state.job.State.Terminal() {
		return provider.JobNotFoundError{ID: jobID}
	}
	state.job.State = provider.StateCancelled
	return nil
}

func (p *tmpl) Healthcheck() error {
	if err := os.MkdirAll(p.cfg.OutputDir, 0755); err != nil {
		return errors.Wrap(err, "output dir not writable")
	}
	probe := filepath.Join(p.cfg.OutputDir, ".healthcheck")
	if err := ioutil.WriteFile(probe, nil, 0644); err != nil {
		return errors.Wrap(err, "output dir not writable")
	}
	os.Remove(probe)
	return nil
}

func (*tmpl) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Formats:      []string{"mp4", "mov", "avi"},
		Resolutions:  []string{"1920x1080", "1280x720", "854x480"},
		AspectRatios: []string{"16:9", "9:16", "1:1", "4:3"},
		MaxDuration:  600,
		MinDuration:  5,
		Styles:       []string{"educational", "documentary", "presentation", "tutorial"},
	}
}

func (p *tmpl) EstimateCost(script *video.Script, cfg video.Config) (provider.CostEstimate, error) {
	total := scene.TotalDuration(scene.Parse(script.Content))
	cost := total * 0.001
	if cost < 0.01 {
		cost = 0.01
	}
	return provider.CostEstimate{
		EstimatedCost: cost,
		Currency:      "USD",
		Factors:       []string{"duration", "template_complexity"},
	}, nil
}

func hash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
