// Package job owns the pipeline job records and their state machine.
// All mutation goes through the Ledger; everything else sees snapshots.
package job

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

// Stage is one of the four canonical pipeline steps.
type Stage string

const (
	StageParseDocument  = Stage("parse_document")
	StageGenerateScript = Stage("generate_script")
	StageCreateVisuals  = Stage("create_visuals")
	StageRenderVideo    = Stage("render_video")
)

// Stages lists the canonical stages in pipeline order.
var Stages = []Stage{
	StageParseDocument,
	StageGenerateScript,
	StageCreateVisuals,
	StageRenderVideo,
}

// StagePriority encodes intended execution order for a shared worker
// pool. Higher runs sooner.
var StagePriority = map[Stage]int{
	StageParseDocument:  10,
	StageGenerateScript: 8,
	StageCreateVisuals:  6,
	StageRenderVideo:    4,
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     = Status("queued")
	StatusProcessing = Status("processing")
	StatusCompleted  = Status("completed")
	StatusFailed     = Status("failed")
	StatusCancelled  = Status("cancelled")
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the job still occupies the pipeline.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusProcessing
}

// Job is one unit of pipeline work for a project.
type Job struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Stage     Stage  `json:"stage"`

	Status   Status `json:"status"`
	Priority int    `json:"priority"`
	Progress int    `json:"progress"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a queued job.
func New(projectID string, stage Stage, priority int) *Job {
	return &Job{
		ID:        uuid.Must(uuid.NewV4()).String(),
		ProjectID: projectID,
		Stage:     stage,
		Status:    StatusQueued,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// InvalidTransitionError signals an illegal job state change. It is a
// local bug, never retried.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// validTransition enforces the allowed state machine edges:
// queued -> processing|cancelled, processing -> completed|failed|cancelled,
// queued -> failed for jobs that never start. Terminal states allow
// nothing.
func validTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// transition applies a status change, guarding the state machine and
// the terminal timestamps.
func (j *Job) transition(to Status) error {
	if !validTransition(j.Status, to) {
		return InvalidTransitionError{JobID: j.ID, From: j.Status, To: to}
	}
	now := time.Now().UTC()
	switch to {
	case StatusProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StatusCompleted:
		j.Progress = 100
		j.CompletedAt = &now
	case StatusFailed, StatusCancelled:
		j.CompletedAt = &now
	}
	j.Status = to
	return nil
}

// Repository persists jobs. Implementations live in the db package.
type Repository interface {
	CreateJob(j *Job) error
	GetJob(id string) (*Job, error)
	UpdateJob(j *Job) error
	JobsByProject(projectID string) ([]*Job, error)
	JobsByStatus(status Status) ([]*Job, error)
}
