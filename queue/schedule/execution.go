package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Execution records a single firing of a scheduled job: when it started,
// whether enqueueing succeeded, and which async job carries the work.
// History rows survive soft-deleted schedules for troubleshooting.
type Execution struct {
	ID             string  `json:"id"`
	ScheduledJobID string  `json:"scheduled_job_id"`
	AsyncJobID     *string `json:"async_job_id,omitempty"` // async job created by this firing

	Status string `json:"status"` // running, completed, failed

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`

	ResultSummary *string `json:"result_summary,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Execution status constants.
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// NewExecution starts a running execution record for a scheduled job.
func NewExecution(scheduledJobID string) *Execution {
	now := time.Now()
	return &Execution{
		ID:             "exec-" + uuid.NewString(),
		ScheduledJobID: scheduledJobID,
		Status:         ExecutionStatusRunning,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Complete marks the execution successful and links the async job it created.
func (e *Execution) Complete(at time.Time, asyncJobID, summary string) {
	e.finish(at)
	e.Status = ExecutionStatusCompleted
	e.AsyncJobID = &asyncJobID
	e.ResultSummary = &summary
}

// Fail marks the execution failed with the error message.
func (e *Execution) Fail(at time.Time, errMsg string) {
	e.finish(at)
	e.Status = ExecutionStatusFailed
	e.ErrorMessage = &errMsg
}

func (e *Execution) finish(at time.Time) {
	ms := at.Sub(e.StartedAt).Milliseconds()
	e.CompletedAt = &at
	e.DurationMs = &ms
	e.UpdatedAt = at
}
