package job

import (
	"fmt"
	"sync"

	"github.com/paperclip/video-orchestrator/metrics"
	"github.com/sirupsen/logrus"
)

// Ledger is the only writer of job records. It serializes
// read-modify-write cycles against the repository so transitions are
// applied exactly once.
type Ledger struct {
	mu     sync.Mutex
	repo   Repository
	logger *logrus.Logger
}

// NewLedger creates a ledger over the given repository.
func NewLedger(repo Repository, logger *logrus.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// Create adds a queued job for a project stage.
func (l *Ledger) Create(projectID string, stage Stage, priority int) (*Job, error) {
	j := New(projectID, stage, priority)
	if err := l.repo.CreateJob(j); err != nil {
		return nil, err
	}
	metrics.JobsCreated.WithLabelValues(string(stage)).Inc()
	l.logger.WithFields(logrus.Fields{
		"job":     j.ID,
		"project": projectID,
		"stage":   stage,
	}).Info("created job")
	return j, nil
}

// Start moves a queued job into processing and stamps started_at.
func (l *Ledger) Start(id string) (*Job, error) {
	return l.apply(id, StatusProcessing)
}

// Complete marks a job finished; progress is forced to 100.
func (l *Ledger) Complete(id string) (*Job, error) {
	return l.apply(id, StatusCompleted)
}

// Fail marks a job failed with the given message. Allowed from queued
// or processing.
func (l *Ledger) Fail(id, msg string) (*Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, err := l.repo.GetJob(id)
	if err != nil {
		return nil, err
	}
	if err := j.transition(StatusFailed); err != nil {
		return nil, err
	}
	j.ErrorMessage = msg
	if err := l.repo.UpdateJob(j); err != nil {
		return nil, err
	}
	metrics.JobsFinished.WithLabelValues(string(j.Stage), string(StatusFailed)).Inc()
	l.logger.WithFields(logrus.Fields{"job": id, "stage": j.Stage}).Error("job failed: " + msg)
	return j, nil
}

// Cancel cancels a queued or processing job.
func (l *Ledger) Cancel(id string) (*Job, error) {
	return l.apply(id, StatusCancelled)
}

func (l *Ledger) apply(id string, to Status) (*Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, err := l.repo.GetJob(id)
	if err != nil {
		return nil, err
	}
	if err := j.transition(to); err != nil {
		return nil, err
	}
	if err := l.repo.UpdateJob(j); err != nil {
		return nil, err
	}
	if to.Terminal() {
		metrics.JobsFinished.WithLabelValues(string(j.Stage), string(to)).Inc()
	}
	l.logger.WithFields(logrus.Fields{
		"job":    id,
		"stage":  j.Stage,
		"status": to,
	}).Info("job transition")
	return j, nil
}

// UpdateProgress records progress for an active job. 100 is reserved
// for Complete; larger in-flight values are capped at 99 so that
// progress==100 holds only for completed jobs.
func (l *Ledger) UpdateProgress(id string, progress int) (*Job, error) {
	if progress < 0 || progress > 100 {
		return nil, fmt.Errorf("progress %d out of range 0..100", progress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	j, err := l.repo.GetJob(id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, InvalidTransitionError{JobID: id, From: j.Status, To: j.Status}
	}
	if progress > 99 {
		progress = 99
	}
	j.Progress = progress
	if err := l.repo.UpdateJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// Get returns a job by id.
func (l *Ledger) Get(id string) (*Job, error) {
	return l.repo.GetJob(id)
}

// ProjectJobs returns all jobs for a project.
func (l *Ledger) ProjectJobs(projectID string) ([]*Job, error) {
	return l.repo.JobsByProject(projectID)
}

// NextQueued returns the queued job with the highest priority, ties
// broken by earliest creation time. Returns nil with no error when the
// queue is empty.
func (l *Ledger) NextQueued() (*Job, error) {
	queued, err := l.repo.JobsByStatus(StatusQueued)
	if err != nil {
		return nil, err
	}
	var next *Job
	for _, j := range queued {
		if next == nil || j.Priority > next.Priority ||
			(j.Priority == next.Priority && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	return next, nil
}
