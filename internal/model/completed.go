package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal outcome of a job.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusCanceled Status = "canceled"
	StatusSkipped  Status = "skipped"
)

// CompletedJob is the terminal record written atomically with the deletion
// of the job's QueueEntry (spec §3, §8 "complete is atomic").
type CompletedJob struct {
	JobID       uuid.UUID       `json:"job_id"`
	WorkspaceID string          `json:"workspace_id"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMS  int64           `json:"duration_ms"`
	Worker      string          `json:"worker"`
}

// ErrorDetail is the nested error object inside ErrorResult.
type ErrorDetail struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// ErrorResult is the canonical JSON shape written to Result on failure
// (spec §4.E child-process contract, §7 error handling).
type ErrorResult struct {
	Error    ErrorDetail `json:"error"`
	ExitCode int         `json:"exit_code"`
	LogsTail string      `json:"logs_tail,omitempty"`
}
