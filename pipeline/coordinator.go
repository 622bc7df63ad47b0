// Package pipeline coordinates the four canonical stages that turn a
// parsed document into a rendered video: parse_document,
// generate_script, create_visuals, render_video.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/job"
	"github.com/paperclip/video-orchestrator/orchestrator"
	"github.com/paperclip/video-orchestrator/provider"
	"github.com/paperclip/video-orchestrator/scene"
	"github.com/paperclip/video-orchestrator/video"
)

// StagePreconditionError signals a pipeline-order violation: a stage
// was asked to start while its predecessor had not finished.
type StagePreconditionError struct {
	Stage       job.Stage
	Predecessor job.Stage
	Status      job.Status
}

func (e StagePreconditionError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("stage %s cannot start: predecessor %s has no job", e.Stage, e.Predecessor)
	}
	return fmt.Sprintf("stage %s cannot start: predecessor %s is %s", e.Stage, e.Predecessor, e.Status)
}

// Generator is the slice of the orchestrator the render stage needs.
type Generator interface {
	Generate(ctx context.Context, script *video.Script, cfg video.Config, preferred string) (*orchestrator.Handle, error)
	Poll(ctx context.Context, handle orchestrator.Handle) (*provider.Job, error)
}

// Project bundles the inputs one pipeline run works on. Document text
// and script content are produced by upstream extraction/AI services;
// the pipeline brackets that work with jobs and drives rendering.
type Project struct {
	ID       string
	Document string
	Script   *video.Script
	Config   video.Config

	// Provider optionally pins a generation back-end; empty means
	// auto-selection.
	Provider string
}

// Coordinator runs projects through the stage pipeline and reports
// their aggregate status.
type Coordinator struct {
	cfg       *config.Config
	ledger    *job.Ledger
	generator Generator
	logger    *logrus.Logger
}

// NewCoordinator wires a coordinator over the ledger and generator.
func NewCoordinator(cfg *config.Config, ledger *job.Ledger, generator Generator, logger *logrus.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, ledger: ledger, generator: generator, logger: logger}
}

// CreateJobs creates the four standard pipeline jobs for a project in
// canonical order.
func (c *Coordinator) CreateJobs(projectID string) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(job.Stages))
	for _, stage := range job.Stages {
		j, err := c.ledger.Create(projectID, stage, job.StagePriority[stage])
		if err != nil {
			return jobs, errors.Wrapf(err, "creating %s job", stage)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// StartJob starts a job after checking the stage ordering: the
// predecessor stage must be terminal first.
func (c *Coordinator) StartJob(jobID string) (*job.Job, error) {
	j, err := c.ledger.Get(jobID)
	if err != nil {
		return nil, err
	}
	if err := c.checkPrecondition(j); err != nil {
		return nil, err
	}
	return c.ledger.Start(jobID)
}

func (c *Coordinator) checkPrecondition(j *job.Job) error {
	idx := stageIndex(j.Stage)
	if idx <= 0 {
		return nil
	}
	predecessor := job.Stages[idx-1]

	jobs, err := c.ledger.ProjectJobs(j.ProjectID)
	if err != nil {
		return err
	}
	for _, other := range jobs {
		if other.Stage != predecessor {
			continue
		}
		if !other.Status.Terminal() {
			return StagePreconditionError{Stage: j.Stage, Predecessor: predecessor, Status: other.Status}
		}
		return nil
	}
	return StagePreconditionError{Stage: j.Stage, Predecessor: predecessor}
}

func stageIndex(stage job.Stage) int {
	for i, s := range job.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// Process runs one project through all four stages. Stage jobs are
// created as the run reaches them; a failing stage fails its job and
// stops the run, leaving earlier completed stages intact.
func (c *Coordinator) Process(ctx context.Context, p Project) error {
	c.logger.WithField("project", p.ID).Info("starting pipeline run")

	if err := c.runStage(ctx, p.ID, job.StageParseDocument, func(ctx context.Context, j *job.Job) error {
		if strings.TrimSpace(p.Document) == "" {
			return errors.New("no parsed document content")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.runStage(ctx, p.ID, job.StageGenerateScript, func(ctx context.Context, j *job.Job) error {
		if p.Script == nil || strings.TrimSpace(p.Script.Content) == "" {
			return errors.New("no script content")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.runStage(ctx, p.ID, job.StageCreateVisuals, func(ctx context.Context, j *job.Job) error {
		scenes := scene.Parse(p.Script.Content)
		if len(scenes) == 0 {
			return errors.New("script has no usable scenes")
		}
		if p.Script.SceneCount == 0 {
			p.Script.SceneCount = len(scenes)
		}
		if p.Script.EstimatedDuration == 0 {
			p.Script.EstimatedDuration = scene.TotalDuration(scenes)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.runStage(ctx, p.ID, job.StageRenderVideo, func(ctx context.Context, j *job.Job) error {
		return c.render(ctx, p, j)
	}); err != nil {
		return err
	}

	c.logger.WithField("project", p.ID).Info("pipeline run complete")
	return nil
}

// runStage creates, starts, runs and completes one stage job. Any
// error fails the job and aborts the run.
func (c *Coordinator) runStage(ctx context.Context, projectID string, stage job.Stage, work func(context.Context, *job.Job) error) error {
	j, err := c.ledger.Create(projectID, stage, job.StagePriority[stage])
	if err != nil {
		return errors.Wrapf(err, "creating %s job", stage)
	}
	if _, err := c.ledger.Start(j.ID); err != nil {
		return errors.Wrapf(err, "starting %s job", stage)
	}

	if err := work(ctx, j); err != nil {
		if _, failErr := c.ledger.Fail(j.ID, err.Error()); failErr != nil {
			c.logger.WithError(failErr).WithField("job", j.ID).Error("recording stage failure")
		}
		return errors.Wrapf(err, "stage %s", stage)
	}

	if _, err := c.ledger.Complete(j.ID); err != nil {
		return errors.Wrapf(err, "completing %s job", stage)
	}
	return nil
}

// render starts a generation and polls it to a terminal state,
// mirroring provider progress onto the render job.
func (c *Coordinator) render(ctx context.Context, p Project, renderJob *job.Job) error {
	handle, err := c.generator.Generate(ctx, p.Script, p.Config, p.Provider)
	if err != nil {
		return err
	}

	interval := time.Duration(c.cfg.Pipeline.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := c.generator.Poll(ctx, *handle)
		if err != nil {
			var downloadErr *orchestrator.ArtifactDownloadError
			if errors.As(err, &downloadErr) {
				// The generation is done; only the download failed.
				// The next poll retries it.
				c.logger.WithError(err).WithField("video", handle.VideoID).Warn("artifact download failed, will retry")
			} else {
				return err
			}
		} else {
			if _, err := c.ledger.UpdateProgress(renderJob.ID, int(state.Progress)); err != nil {
				c.logger.WithError(err).WithField("job", renderJob.ID).Warn("recording render progress")
			}

			switch state.State {
			case provider.StateCompleted:
				return nil
			case provider.StateFailed:
				msg := state.Message
				if msg == "" {
					msg = "generation failed"
				}
				return errors.New(msg)
			case provider.StateCancelled:
				return errors.New("generation cancelled")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
