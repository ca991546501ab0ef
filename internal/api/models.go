package api

import (
	"time"

	"sheet-etl/internal/pipeline"
)

// JobRequest names a registered job and carries its config section, in the
// same shape as the jobs.<section> block of the YAML file.
type JobRequest struct {
	Job    string         `json:"job"`
	Config map[string]any `json:"config"`
	DryRun bool           `json:"dry_run"`
}

// JobResponse is returned after a successful job creation.
type JobResponse struct {
	JobID string `json:"job_id"`
}

// JobList is returned by GET /jobs.
type JobList struct {
	Jobs []string `json:"jobs"`
}

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// JobStatus represents the runtime state of a launched job.
type JobStatus struct {
	JobID      string           `json:"job_id"`
	Job        string           `json:"job"`
	Status     string           `json:"status"` // queued | running | finished | error | cancelled
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
}
