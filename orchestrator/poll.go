package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/paperclip/video-orchestrator/metrics"
	"github.com/paperclip/video-orchestrator/provider"
	"github.com/paperclip/video-orchestrator/video"
)

// Poll refreshes the remote state of a handle. On the first observed
// completion it downloads the artifact and persists it before
// returning, so callers see completion and materialization as one
// step. Later polls of a finished handle are answered locally.
//
// Polling is pull-only: nothing here runs on a timer, a surrounding
// scheduler decides the cadence.
func (o *Orchestrator) Poll(ctx context.Context, handle Handle) (*provider.Job, error) {
	hs, ok := o.handleState(handle.VideoID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle.VideoID)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	// A cancelled handle stays cancelled even if the provider later
	// reports completion; the artifact is never materialized.
	if hs.cancelled {
		snapshot := hs.last
		snapshot.State = provider.StateCancelled
		return &snapshot, nil
	}
	if hs.downloaded {
		snapshot := hs.last
		return &snapshot, nil
	}

	p, ok := o.providers[hs.handle.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, hs.handle.Provider)
	}

	metrics.Polls.WithLabelValues(hs.handle.Provider).Inc()
	job, err := p.Status(ctx, hs.handle.ProviderJobID)
	if err != nil {
		return nil, &ProviderCallError{Provider: hs.handle.Provider, Op: "status", Err: err}
	}
	hs.last = *job

	switch job.State {
	case provider.StateCompleted:
		return o.materialize(ctx, hs, p, job)

	case provider.StateFailed:
		o.updateVideo(hs.handle.VideoID, func(v *video.Video) { v.MarkFailed(job.Message) })
		o.markTerminal(hs)

	case provider.StateCancelled:
		hs.cancelled = true
		o.updateVideo(hs.handle.VideoID, func(v *video.Video) { v.MarkFailed("cancelled by provider") })
		o.markTerminal(hs)
	}

	return job, nil
}

// materialize downloads the artifact for a freshly completed job. On
// failure the handle stays completed and undownloaded, so the next
// poll retries the download without regenerating anything.
func (o *Orchestrator) materialize(ctx context.Context, hs *handleState, p provider.Provider, job *provider.Job) (*provider.Job, error) {
	outputPath := filepath.Join(o.cfg.Pipeline.OutputDir, hs.handle.VideoID+".mp4")

	artifact, err := p.Download(ctx, hs.handle.ProviderJobID, outputPath)
	if err != nil {
		metrics.Downloads.WithLabelValues(hs.handle.Provider, "error").Inc()
		return nil, &ArtifactDownloadError{VideoID: hs.handle.VideoID, Err: err}
	}
	metrics.Downloads.WithLabelValues(hs.handle.Provider, "success").Inc()

	hs.downloaded = true
	o.updateVideo(hs.handle.VideoID, func(v *video.Video) { v.MarkCompleted(artifact) })
	o.markTerminal(hs)

	o.logger.WithFields(logrus.Fields{
		"provider": hs.handle.Provider,
		"video":    hs.handle.VideoID,
		"path":     artifact.FilePath,
		"size":     artifact.FileSize,
	}).Info("artifact downloaded")

	return job, nil
}

// Cancel stops a generation. A provider that no longer knows the job
// counts as a successful cancel.
func (o *Orchestrator) Cancel(ctx context.Context, handle Handle) (bool, error) {
	hs, ok := o.handleState(handle.VideoID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownHandle, handle.VideoID)
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.cancelled {
		return true, nil
	}

	p, ok := o.providers[hs.handle.Provider]
	if !ok {
		return false, fmt.Errorf("%w: %s", provider.ErrNotFound, hs.handle.Provider)
	}

	err := p.Cancel(ctx, hs.handle.ProviderJobID)
	var notFound provider.JobNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return false, &ProviderCallError{Provider: hs.handle.Provider, Op: "cancel", Err: err}
	}

	hs.cancelled = true
	hs.last.State = provider.StateCancelled
	o.updateVideo(hs.handle.VideoID, func(v *video.Video) { v.MarkFailed("cancelled by user") })
	o.markTerminal(hs)

	o.logger.WithField("video", hs.handle.VideoID).Info("generation cancelled")
	return true, nil
}

func (o *Orchestrator) updateVideo(videoID string, apply func(*video.Video)) {
	v, err := o.repo.GetVideo(videoID)
	if err != nil {
		o.logger.WithError(err).WithField("video", videoID).Error("loading video record")
		return
	}
	apply(v)
	if err := o.repo.SaveVideo(v); err != nil {
		o.logger.WithError(err).WithField("video", videoID).Error("saving video record")
	}
}
