package pipeline

import (
	"github.com/paperclip/video-orchestrator/job"
)

// stageGerunds are the user-facing names of pending pipeline steps.
var stageGerunds = map[job.Stage]string{
	job.StageParseDocument:  "parsing_documents",
	job.StageGenerateScript: "generating_scripts",
	job.StageCreateVisuals:  "creating_visuals",
	job.StageRenderVideo:    "rendering_videos",
}

// Status aggregates a project's pipeline jobs.
type Status struct {
	TotalJobs     int                `json:"total_jobs"`
	StatusCounts  map[job.Status]int `json:"status_counts"`
	ActiveJobs    int                `json:"active_jobs"`
	CompletedJobs int                `json:"completed_jobs"`
	FailedJobs    int                `json:"failed_jobs"`

	AverageProgress float64 `json:"average_progress"`

	// PipelineProgress holds the best progress seen per stage.
	PipelineProgress map[job.Stage]int `json:"pipeline_progress"`

	// NextStep names the first stage not yet complete; nil once the
	// whole pipeline finished.
	NextStep *string `json:"next_step"`
}

// Status reports the aggregate pipeline state for a project.
func (c *Coordinator) Status(projectID string) (*Status, error) {
	jobs, err := c.ledger.ProjectJobs(projectID)
	if err != nil {
		return nil, err
	}

	s := &Status{
		TotalJobs:        len(jobs),
		StatusCounts:     map[job.Status]int{},
		PipelineProgress: map[job.Stage]int{},
	}
	for _, stage := range job.Stages {
		s.PipelineProgress[stage] = 0
	}

	var progressSum int
	for _, j := range jobs {
		s.StatusCounts[j.Status]++
		if j.Status.Active() {
			s.ActiveJobs++
		}
		progressSum += j.Progress
		if j.Progress > s.PipelineProgress[j.Stage] {
			s.PipelineProgress[j.Stage] = j.Progress
		}
	}
	s.CompletedJobs = s.StatusCounts[job.StatusCompleted]
	s.FailedJobs = s.StatusCounts[job.StatusFailed]
	if len(jobs) > 0 {
		s.AverageProgress = float64(progressSum) / float64(len(jobs))
	}

	for _, stage := range job.Stages {
		if s.PipelineProgress[stage] < 100 {
			step := stageGerunds[stage]
			s.NextStep = &step
			break
		}
	}

	return s, nil
}
