package queue

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/roostlabs/roost/errors"
)

func TestNewJob_Defaults(t *testing.T) {
	job, err := NewJob("repos.save", nil, "repo:notes")
	if err != nil {
		t.Fatalf("NewJob() failed: %v", err)
	}

	if !strings.HasPrefix(job.ID, "job-") {
		t.Errorf("expected job ID with job- prefix, got %q", job.ID)
	}
	if job.Status != JobStatusQueued {
		t.Errorf("expected new job to be queued, got %s", job.Status)
	}
	if job.Priority != PriorityMedium {
		t.Errorf("expected default priority medium, got %s", job.Priority)
	}
	if job.Category != CategoryChore {
		t.Errorf("expected default category chore, got %s", job.Category)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Error("expected started/completed timestamps to be unset")
	}
}

func TestNewJob_Options(t *testing.T) {
	payload := json.RawMessage(`{"prompt":"fix the flaky test"}`)
	job, err := NewJob("agent.prompt", payload, "cli",
		WithCategory(CategoryBug),
		WithPriority(PriorityCritical),
		WithDescription("fix flaky watcher test"),
		WithCostEstimate(0.25),
		WithParent("job-parent"))
	if err != nil {
		t.Fatalf("NewJob() failed: %v", err)
	}

	if job.Category != CategoryBug {
		t.Errorf("expected category bug, got %s", job.Category)
	}
	if job.Priority != PriorityCritical {
		t.Errorf("expected priority critical, got %s", job.Priority)
	}
	if job.Description != "fix flaky watcher test" {
		t.Errorf("unexpected description %q", job.Description)
	}
	if job.CostEstimate != 0.25 {
		t.Errorf("expected cost estimate 0.25, got %f", job.CostEstimate)
	}
	if job.ParentJobID != "job-parent" {
		t.Errorf("expected parent job ID, got %q", job.ParentJobID)
	}
	if string(job.Payload) != string(payload) {
		t.Errorf("payload not preserved: %s", job.Payload)
	}
}

func TestNewJob_Validation(t *testing.T) {
	if _, err := NewJob("", nil, "cli"); err == nil {
		t.Error("expected error for empty handler name")
	}

	if _, err := NewJob("agent.prompt", nil, "cli", WithPriority("urgent")); err == nil {
		t.Error("expected error for unknown priority")
	}
}

func TestPriorityRank(t *testing.T) {
	tests := []struct {
		priority Priority
		rank     int
	}{
		{PriorityCritical, 0},
		{PriorityHigh, 1},
		{PriorityMedium, 2},
		{PriorityLow, 3},
		{Priority("bogus"), 4},
	}
	for _, tt := range tests {
		if got := tt.priority.Rank(); got != tt.rank {
			t.Errorf("Rank(%s) = %d, want %d", tt.priority, got, tt.rank)
		}
	}
}

func TestJobLifecycle_HappyPath(t *testing.T) {
	job, err := createTestJob("agent.prompt", "cli", 0.10)
	if err != nil {
		t.Fatalf("createTestJob() failed: %v", err)
	}

	if err := job.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if job.Status != JobStatusRunning {
		t.Errorf("expected running, got %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	if err := job.Complete(); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if job.Status != JobStatusCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if job.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if !job.IsTerminal() {
		t.Error("completed job should be terminal")
	}
}

func TestJobLifecycle_InvalidTransitions(t *testing.T) {
	job, _ := createTestJob("agent.prompt", "cli", 0)

	// Can't complete or pause a queued job that never started.
	if err := job.Complete(); err == nil {
		t.Error("expected error completing a queued job")
	}
	if err := job.Resume(); err == nil {
		t.Error("expected error resuming a job that is not paused")
	}

	if err := job.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := job.Start(); err == nil {
		t.Error("expected error starting an already-running job")
	}

	if err := job.Complete(); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if err := job.Fail(errors.New("too late")); err == nil {
		t.Error("expected error failing a completed job")
	}
	if err := job.Cancel("too late"); err == nil {
		t.Error("expected error cancelling a completed job")
	}
}

func TestJobPauseResume(t *testing.T) {
	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := job.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := job.Pause("budget_exhausted"); err != nil {
		t.Fatalf("Pause() failed: %v", err)
	}
	if job.Status != JobStatusPaused {
		t.Errorf("expected paused, got %s", job.Status)
	}
	if job.State["pause_reason"] != "budget_exhausted" {
		t.Errorf("expected pause reason in state, got %v", job.State["pause_reason"])
	}

	if err := job.Resume(); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	if job.Status != JobStatusQueued {
		t.Errorf("expected resume to re-queue the job, got %s", job.Status)
	}
	if _, ok := job.State["pause_reason"]; ok {
		t.Error("expected pause reason cleared on resume")
	}
}

func TestJobFail(t *testing.T) {
	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := job.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := job.Fail(errors.New("agent unreachable")); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}
	if job.Status != JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if job.Error != "agent unreachable" {
		t.Errorf("unexpected error message %q", job.Error)
	}
	if job.CompletedAt == nil {
		t.Error("expected CompletedAt set on failure")
	}
}

func TestJobCancelFromQueued(t *testing.T) {
	job, _ := createTestJob("agent.prompt", "cli", 0)

	if err := job.Cancel("user requested"); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if job.Status != JobStatusCancelled {
		t.Errorf("expected cancelled, got %s", job.Status)
	}
	if job.Error != "user requested" {
		t.Errorf("unexpected cancel reason %q", job.Error)
	}
}

func TestJobStateHelpers(t *testing.T) {
	job, _ := createTestJob("agent.prompt", "cli", 0)

	job.SetState("reply_preview", "done: moved the test to a table")
	job.SetState("attempts", 2)

	encoded, err := MarshalJobState(job.State)
	if err != nil {
		t.Fatalf("MarshalJobState() failed: %v", err)
	}

	decoded, err := UnmarshalJobState(encoded)
	if err != nil {
		t.Fatalf("UnmarshalJobState() failed: %v", err)
	}
	if decoded["reply_preview"] != "done: moved the test to a table" {
		t.Errorf("unexpected state round-trip: %v", decoded)
	}

	// Empty state stays empty both ways.
	empty, err := MarshalJobState(nil)
	if err != nil || empty != "" {
		t.Errorf("expected empty string for nil state, got %q (%v)", empty, err)
	}
	none, err := UnmarshalJobState("")
	if err != nil || none != nil {
		t.Errorf("expected nil map for empty string, got %v (%v)", none, err)
	}
}

func TestValidators(t *testing.T) {
	if !IsValidStatus("queued") || IsValidStatus("sleeping") {
		t.Error("IsValidStatus misclassified")
	}
	if !IsValidCategory("research") || IsValidCategory("misc") {
		t.Error("IsValidCategory misclassified")
	}
	if !IsValidPriority("low") || IsValidPriority("urgent") {
		t.Error("IsValidPriority misclassified")
	}
}
