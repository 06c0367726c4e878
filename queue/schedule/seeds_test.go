package schedule

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	roosttest "github.com/roostlabs/roost/internal/testing"
)

func seedConfig(sweepSeconds int, briefingPrompt string) *am.Config {
	cfg := &am.Config{}
	cfg.Autosave.Enabled = true
	cfg.Autosave.SweepIntervalSeconds = sweepSeconds
	cfg.Autosave.DailyBriefingPrompt = briefingPrompt
	return cfg
}

func TestEnsureSeedJobs_CreatesEnabledSchedules(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	if err := EnsureSeedJobs(store, seedConfig(900, "daily-briefing"), zap.NewNop().Sugar()); err != nil {
		t.Fatalf("EnsureSeedJobs() failed: %v", err)
	}

	sweep, err := store.GetJob(AutosaveSweepJobID)
	if err != nil {
		t.Fatalf("GetJob(sweep) failed: %v", err)
	}
	if sweep.HandlerName != "repos.save" {
		t.Errorf("sweep handler mismatch: %q", sweep.HandlerName)
	}
	if sweep.IntervalSeconds != 900 {
		t.Errorf("sweep interval mismatch: %d", sweep.IntervalSeconds)
	}
	if sweep.State != StateActive {
		t.Errorf("expected sweep active, got %q", sweep.State)
	}

	briefing, err := store.GetJob(DailyBriefingJobID)
	if err != nil {
		t.Fatalf("GetJob(briefing) failed: %v", err)
	}
	if briefing.HandlerName != "agent.prompt" {
		t.Errorf("briefing handler mismatch: %q", briefing.HandlerName)
	}
	if briefing.IntervalSeconds != dailyBriefingIntervalSeconds {
		t.Errorf("briefing interval mismatch: %d", briefing.IntervalSeconds)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(briefing.Payload, &payload); err != nil {
		t.Fatalf("unmarshal briefing payload: %v", err)
	}
	if payload["prompt_doc"] != "daily-briefing" {
		t.Errorf("expected prompt doc in payload, got %v", payload)
	}
	if payload["since"] != "last_run" {
		t.Errorf("expected incremental since marker, got %v", payload)
	}
}

func TestEnsureSeedJobs_SkipsDisabledSchedules(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	// Sweep disabled (zero interval), briefing disabled (no prompt).
	if err := EnsureSeedJobs(store, seedConfig(0, ""), zap.NewNop().Sugar()); err != nil {
		t.Fatalf("EnsureSeedJobs() failed: %v", err)
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no seed jobs, got %d", len(jobs))
	}
}

func TestEnsureSeedJobs_ConfigDrivesState(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)
	log := zap.NewNop().Sugar()

	if err := EnsureSeedJobs(store, seedConfig(900, ""), log); err != nil {
		t.Fatalf("EnsureSeedJobs() enable failed: %v", err)
	}

	// Disabling pauses the existing row instead of deleting it.
	if err := EnsureSeedJobs(store, seedConfig(0, ""), log); err != nil {
		t.Fatalf("EnsureSeedJobs() disable failed: %v", err)
	}
	sweep, err := store.GetJob(AutosaveSweepJobID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if sweep.State != StatePaused {
		t.Errorf("expected paused after disabling, got %q", sweep.State)
	}

	// Re-enabling resumes it and applies the new interval.
	if err := EnsureSeedJobs(store, seedConfig(1800, ""), log); err != nil {
		t.Fatalf("EnsureSeedJobs() re-enable failed: %v", err)
	}
	sweep, err = store.GetJob(AutosaveSweepJobID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if sweep.State != StateActive {
		t.Errorf("expected active after re-enabling, got %q", sweep.State)
	}
	if sweep.IntervalSeconds != 1800 {
		t.Errorf("expected interval updated, got %d", sweep.IntervalSeconds)
	}
}

func TestEnsureSeedJobs_Idempotent(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)
	log := zap.NewNop().Sugar()

	cfg := seedConfig(900, "daily-briefing")
	if err := EnsureSeedJobs(store, cfg, log); err != nil {
		t.Fatalf("EnsureSeedJobs() failed: %v", err)
	}
	if err := EnsureSeedJobs(store, cfg, log); err != nil {
		t.Fatalf("EnsureSeedJobs() second run failed: %v", err)
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected exactly 2 seed jobs, got %d", len(jobs))
	}
}

func TestEnsureSeedJobs_NilConfig(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	if err := EnsureSeedJobs(store, nil, zap.NewNop().Sugar()); err != nil {
		t.Errorf("expected nil config to be a no-op, got %v", err)
	}
}
