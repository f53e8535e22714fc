package models

import "time"

// JobStatus is the lifecycle state of a pipeline job. Transitions are
// monotonic: pending < running < terminal, and terminal states are final.
type JobStatus string

const (
	StatusPending        JobStatus = "pending"
	StatusRunning        JobStatus = "running"
	StatusSucceeded      JobStatus = "succeeded"
	StatusPartialFailure JobStatus = "partial_failure"
	StatusFailed         JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusPartialFailure, StatusFailed:
		return true
	}
	return false
}

func (s JobStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusPartialFailure, StatusFailed:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next preserves the
// monotonic lifecycle. A running job may transition to running again so the
// orchestrator can publish progress patches.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == StatusRunning && next == StatusRunning {
		return true
	}
	sr, nr := s.rank(), next.rank()
	if sr < 0 || nr < 0 {
		return false
	}
	return nr > sr
}

// JobParams are the caller-supplied inputs of one pipeline run.
type JobParams struct {
	OutputDir    string `json:"output_dir"`
	ForecastType string `json:"forecast_type"`
	Verbose      bool   `json:"verbose"`
	// Database restricts the run to a single roster database when set.
	Database string `json:"database,omitempty"`
}

// DefaultParams returns the parameters used when the caller supplies none.
func DefaultParams() JobParams {
	return JobParams{
		OutputDir:    "data",
		ForecastType: "data",
		Verbose:      true,
	}
}

// Job is one asynchronous execution of the extraction and delivery matrix.
type Job struct {
	ID          string     `json:"job_id" db:"id"`
	Status      JobStatus  `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	Params      JobParams  `json:"params"`
	Result      *JobResult `json:"result,omitempty"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (j Job) Clone() Job {
	out := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Result != nil {
		out.Result = j.Result.Clone()
	}
	return out
}
