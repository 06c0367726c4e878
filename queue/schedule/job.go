// Package schedule provides recurring jobs that feed the async queue.
//
// A scheduled job carries a pre-computed handler name and payload. The
// Ticker scans for due jobs every interval, records an Execution for each
// firing, enqueues the corresponding async job, and advances next_run_at.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/roostlabs/roost/errors"
)

// Job is a recurring schedule entry.
type Job struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`                       // display name ("autosave-sweep")
	HandlerName     string            `json:"handler_name"`               // queue handler to invoke ("repos.save")
	Payload         json.RawMessage   `json:"payload,omitempty"`          // pre-computed JSON payload for the handler
	SourceURL       string            `json:"source_url,omitempty"`       // dedup key against active async jobs
	IntervalSeconds int               `json:"interval_seconds"`
	NextRunAt       *time.Time        `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time        `json:"last_run_at,omitempty"`
	LastExecutionID string            `json:"last_execution_id,omitempty"`
	State           string            `json:"state"`
	CreatedFromDoc  string            `json:"created_from_doc,omitempty"` // prompt doc that defined this schedule
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// State constants for scheduled jobs.
const (
	StateActive   = "active"   // running on schedule
	StatePaused   = "paused"   // temporarily paused
	StateStopping = "stopping" // in the process of stopping
	StateInactive = "inactive" // not scheduled
	StateDeleted  = "deleted"  // soft deleted, kept for execution history
)

// IsValidState reports whether s is a known schedule state.
func IsValidState(s string) bool {
	switch s {
	case StateActive, StatePaused, StateStopping, StateInactive, StateDeleted:
		return true
	}
	return false
}

// NewJob builds an active scheduled job that first runs immediately and
// then every intervalSeconds.
func NewJob(name, handlerName string, payload json.RawMessage, sourceURL string, intervalSeconds int) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handler name cannot be empty")
	}
	if intervalSeconds < 1 {
		return nil, errors.Newf("interval must be at least 1 second, got %d", intervalSeconds)
	}

	now := time.Now()
	return &Job{
		ID:              "sched-" + uuid.NewString(),
		Name:            name,
		HandlerName:     handlerName,
		Payload:         payload,
		SourceURL:       sourceURL,
		IntervalSeconds: intervalSeconds,
		NextRunAt:       &now,
		State:           StateActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Interval returns the job's cadence as a duration.
func (j *Job) Interval() time.Duration {
	return time.Duration(j.IntervalSeconds) * time.Second
}

// DisplayName returns the job name, falling back to the handler name for
// jobs created without one.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.HandlerName
}
