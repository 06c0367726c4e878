// Package queue provides the async job queue that drives roost's background
// work: repo saves, agent prompt dispatch, and anything a handler registers
// for. Jobs persist in SQLite and are claimed by a worker pool in strict
// priority order.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/roostlabs/roost/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Category classifies what kind of work a job represents. The agent uses
// categories to route prompts to delegated models; free-form values are
// tolerated in the store but validated at the CLI and API boundary.
type Category string

const (
	CategoryBug      Category = "bug"
	CategoryFeature  Category = "feature"
	CategoryTest     Category = "test"
	CategoryDocs     Category = "docs"
	CategoryChore    Category = "chore"
	CategoryResearch Category = "research"
)

// IsValidCategory returns true for the known category set.
func IsValidCategory(s string) bool {
	switch Category(s) {
	case CategoryBug, CategoryFeature, CategoryTest, CategoryDocs,
		CategoryChore, CategoryResearch:
		return true
	default:
		return false
	}
}

// Priority orders jobs in the dispatch scan. Critical work always runs
// before high, high before medium, and so on, regardless of category.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to its scan position. Unknown priorities rank after
// low so malformed rows never starve well-formed ones.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// IsValidPriority returns true for the known priority set.
func IsValidPriority(s string) bool {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Job represents one unit of background work.
//
// The queue infrastructure is domain-agnostic: HandlerName routes the job to
// a registered handler, Payload carries handler-specific data, and State
// holds small results (reply previews, commit hashes) the handler wants to
// surface without a second table.
type Job struct {
	ID           string          `json:"id"`
	HandlerName  string          `json:"handler_name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Source       string          `json:"source"` // for deduplication and logging
	Category     Category        `json:"category"`
	Priority     Priority        `json:"priority"`
	Description  string          `json:"description,omitempty"`
	Status       JobStatus       `json:"status"`
	Progress     string          `json:"progress,omitempty"`
	CostEstimate float64         `json:"cost_estimate,omitempty"`
	CostActual   float64         `json:"cost_actual,omitempty"`
	State        map[string]any  `json:"state,omitempty"`
	Error        string          `json:"error,omitempty"`
	ParentJobID  string          `json:"parent_job_id,omitempty"`
	RetryCount   int             `json:"retry_count,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// JobOption customizes a job at creation time.
type JobOption func(*Job)

// WithCategory sets the job category (default: chore).
func WithCategory(c Category) JobOption {
	return func(j *Job) { j.Category = c }
}

// WithPriority sets the job priority (default: medium).
func WithPriority(p Priority) JobOption {
	return func(j *Job) { j.Priority = p }
}

// WithDescription sets the human-readable description shown in listings.
func WithDescription(d string) JobOption {
	return func(j *Job) { j.Description = d }
}

// WithCostEstimate sets the estimated cost checked against the budget gate.
func WithCostEstimate(usd float64) JobOption {
	return func(j *Job) { j.CostEstimate = usd }
}

// WithParent groups this job under a parent job. Children are cancelled
// when the parent is deleted.
func WithParent(parentJobID string) JobOption {
	return func(j *Job) { j.ParentJobID = parentJobID }
}

// NewJob creates a queued job for the named handler.
//
// Example:
//
//	payload, _ := json.Marshal(repos.SavePayload{Repo: "notes"})
//	job, err := queue.NewJob("repos.save", payload, "repo:notes",
//	    queue.WithPriority(queue.PriorityHigh))
func NewJob(handlerName string, payload json.RawMessage, source string, opts ...JobOption) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}

	now := time.Now()
	job := &Job{
		ID:          "job-" + uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Category:    CategoryChore,
		Priority:    PriorityMedium,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, opt := range opts {
		opt(job)
	}

	if !IsValidPriority(string(job.Priority)) {
		return nil, errors.Newf("invalid priority: %s", job.Priority)
	}

	return job, nil
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Start marks the job as running. Only queued jobs can start.
func (j *Job) Start() error {
	if j.Status != JobStatusQueued {
		return errors.Newf("job %s cannot start from status %s", j.ID, j.Status)
	}
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// Pause holds a running job out of execution with a reason. Budget and rate
// gates pause jobs before they start; resume puts them back in the queue.
func (j *Job) Pause(reason string) error {
	if j.Status != JobStatusRunning && j.Status != JobStatusQueued {
		return errors.Newf("job %s cannot pause from status %s", j.ID, j.Status)
	}
	j.Status = JobStatusPaused
	j.SetState("pause_reason", reason)
	j.UpdatedAt = time.Now()
	return nil
}

// Resume returns a paused job to the queue. The dispatch scan will pick it
// up again in priority order.
func (j *Job) Resume() error {
	if j.Status != JobStatusPaused {
		return errors.Newf("job %s cannot resume from status %s", j.ID, j.Status)
	}
	j.Status = JobStatusQueued
	delete(j.State, "pause_reason")
	j.UpdatedAt = time.Now()
	return nil
}

// Complete marks the job as completed.
func (j *Job) Complete() error {
	if j.Status != JobStatusRunning {
		return errors.Newf("job %s cannot complete from status %s", j.ID, j.Status)
	}
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err error) error {
	if j.IsTerminal() {
		return errors.Newf("job %s cannot fail from status %s", j.ID, j.Status)
	}
	now := time.Now()
	j.Status = JobStatusFailed
	if err != nil {
		j.Error = err.Error()
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Cancel marks the job as cancelled with a reason.
func (j *Job) Cancel(reason string) error {
	if j.IsTerminal() {
		return errors.Newf("job %s cannot cancel from status %s", j.ID, j.Status)
	}
	now := time.Now()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Retry returns a failed or cancelled job to the queue with a fresh retry
// budget. The handler runs again from scratch, so run-scoped fields are
// cleared.
func (j *Job) Retry() error {
	if j.Status != JobStatusFailed && j.Status != JobStatusCancelled {
		return errors.Newf("job %s cannot retry from status %s", j.ID, j.Status)
	}
	j.Status = JobStatusQueued
	j.Error = ""
	j.Progress = ""
	j.RetryCount = 0
	j.StartedAt = nil
	j.CompletedAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

// UpdateProgress records a short free-form progress note.
func (j *Job) UpdateProgress(progress string) {
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// RecordCost adds to the actual cost incurred.
func (j *Job) RecordCost(usd float64) {
	j.CostActual += usd
	j.UpdatedAt = time.Now()
}

// SetState stores a small result value on the job, allocating the map on
// first use.
func (j *Job) SetState(key string, value any) {
	if j.State == nil {
		j.State = make(map[string]any)
	}
	j.State[key] = value
	j.UpdatedAt = time.Now()
}

// MarshalJobState converts the state map to its TEXT column form.
func MarshalJobState(state map[string]any) (string, error) {
	if len(state) == 0 {
		return "", nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal job state")
	}
	return string(data), nil
}

// UnmarshalJobState converts a TEXT column value back to a state map.
func UnmarshalJobState(data string) (map[string]any, error) {
	if data == "" {
		return nil, nil
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal job state")
	}
	return state, nil
}
