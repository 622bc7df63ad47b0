package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paperclip/video-orchestrator/job"
)

// StageFunc does the work of one job. The worker brackets it with the
// start/complete/fail transitions.
type StageFunc func(ctx context.Context, j *job.Job) error

// Worker drains the queued-job pool by priority. Single process, no
// broker; one job runs at a time.
type Worker struct {
	coordinator *Coordinator
	handlers    map[job.Stage]StageFunc
	interval    time.Duration
	logger      *logrus.Logger
}

// NewWorker builds a worker over the coordinator's ledger. Handlers
// map each stage to its work; stages without a handler fail the job.
func NewWorker(coordinator *Coordinator, handlers map[job.Stage]StageFunc, interval time.Duration, logger *logrus.Logger) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{coordinator: coordinator, handlers: handlers, interval: interval, logger: logger}
}

// RunOnce takes the next queued job, if any, and runs it to a terminal
// state. Reports whether a job was taken.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	next, err := w.coordinator.ledger.NextQueued()
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}

	if _, err := w.coordinator.StartJob(next.ID); err != nil {
		// Ordering violations leave the job queued; it runs after its
		// predecessor finishes.
		var precondition StagePreconditionError
		if errors.As(err, &precondition) {
			w.logger.WithField("job", next.ID).Debug(precondition.Error())
			return false, nil
		}
		return false, err
	}

	handler, ok := w.handlers[next.Stage]
	if !ok {
		_, failErr := w.coordinator.ledger.Fail(next.ID, fmt.Sprintf("no handler for stage %s", next.Stage))
		if failErr != nil {
			return true, failErr
		}
		return true, nil
	}

	if err := handler(ctx, next); err != nil {
		if _, failErr := w.coordinator.ledger.Fail(next.ID, err.Error()); failErr != nil {
			w.logger.WithError(failErr).WithField("job", next.ID).Error("recording job failure")
		}
		return true, nil
	}

	if _, err := w.coordinator.ledger.Complete(next.ID); err != nil {
		return true, err
	}
	return true, nil
}

// Run polls the queue until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.WithError(err).Error("worker iteration failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
