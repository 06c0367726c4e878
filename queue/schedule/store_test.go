package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/roostlabs/roost/errors"
	roosttest "github.com/roostlabs/roost/internal/testing"
)

func mustNewJob(t *testing.T, name, handler string, intervalSeconds int) *Job {
	t.Helper()
	job, err := NewJob(name, handler, json.RawMessage(`{"all":true}`), "roost://schedule/"+name, intervalSeconds)
	if err != nil {
		t.Fatalf("NewJob() failed: %v", err)
	}
	return job
}

func TestNewJob_Defaults(t *testing.T) {
	job := mustNewJob(t, "sweep", "repos.save", 900)

	if len(job.ID) < len("sched-")+10 || job.ID[:6] != "sched-" {
		t.Errorf("expected sched- prefixed ID, got %q", job.ID)
	}
	if job.State != StateActive {
		t.Errorf("expected active state, got %q", job.State)
	}
	if job.NextRunAt == nil {
		t.Error("expected NextRunAt set so the job is due immediately")
	}
	if job.LastRunAt != nil {
		t.Error("expected no LastRunAt on a fresh job")
	}
	if job.Interval() != 15*time.Minute {
		t.Errorf("interval mismatch: %s", job.Interval())
	}
}

func TestNewJob_Validation(t *testing.T) {
	if _, err := NewJob("x", "", nil, "", 60); err == nil {
		t.Error("expected error for empty handler")
	}
	if _, err := NewJob("x", "repos.save", nil, "", 0); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestIsValidState(t *testing.T) {
	for _, s := range []string{StateActive, StatePaused, StateStopping, StateInactive, StateDeleted} {
		if !IsValidState(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if IsValidState("dormant") {
		t.Error("expected unknown state to be invalid")
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	job := mustNewJob(t, "sweep", "repos.save", 900)
	job.Metadata = map[string]string{"category": "chore", "seed": "true"}
	job.CreatedFromDoc = "autosave.md"

	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if got.Name != "sweep" {
		t.Errorf("name round-trip failed: %q", got.Name)
	}
	if got.HandlerName != "repos.save" {
		t.Errorf("handler round-trip failed: %q", got.HandlerName)
	}
	if string(got.Payload) != `{"all":true}` {
		t.Errorf("payload round-trip failed: %s", got.Payload)
	}
	if got.SourceURL != "roost://schedule/sweep" {
		t.Errorf("source round-trip failed: %q", got.SourceURL)
	}
	if got.IntervalSeconds != 900 {
		t.Errorf("interval round-trip failed: %d", got.IntervalSeconds)
	}
	if got.NextRunAt == nil {
		t.Fatal("expected NextRunAt persisted")
	}
	if got.LastRunAt != nil {
		t.Error("expected LastRunAt to stay nil")
	}
	if got.Metadata["category"] != "chore" || got.Metadata["seed"] != "true" {
		t.Errorf("metadata round-trip failed: %v", got.Metadata)
	}
	if got.CreatedFromDoc != "autosave.md" {
		t.Errorf("created_from_doc round-trip failed: %q", got.CreatedFromDoc)
	}
}

func TestStoreGetJob_NotFound(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob("sched-missing")
	if !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestStoreListJobsDue(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)
	now := time.Now()

	overdue := mustNewJob(t, "overdue", "repos.save", 60)
	past := now.Add(-2 * time.Minute)
	overdue.NextRunAt = &past

	older := mustNewJob(t, "older", "repos.pull", 60)
	earlier := now.Add(-5 * time.Minute)
	older.NextRunAt = &earlier

	future := mustNewJob(t, "future", "repos.save", 60)
	later := now.Add(time.Hour)
	future.NextRunAt = &later

	pausedDue := mustNewJob(t, "paused", "repos.save", 60)
	pausedDue.NextRunAt = &past
	pausedDue.State = StatePaused

	for _, j := range []*Job{overdue, older, future, pausedDue} {
		if err := store.CreateJob(j); err != nil {
			t.Fatalf("CreateJob(%s) failed: %v", j.Name, err)
		}
	}

	due, err := store.ListJobsDue(now)
	if err != nil {
		t.Fatalf("ListJobsDue() failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due jobs, got %d", len(due))
	}
	if due[0].Name != "older" || due[1].Name != "overdue" {
		t.Errorf("expected oldest due first, got %q then %q", due[0].Name, due[1].Name)
	}
}

func TestStoreGetNextScheduledJob(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	next, err := store.GetNextScheduledJob()
	if err != nil {
		t.Fatalf("GetNextScheduledJob() failed: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nil on empty schedule, got %v", next)
	}

	soon := mustNewJob(t, "soon", "repos.save", 60)
	in5 := time.Now().Add(5 * time.Minute)
	soon.NextRunAt = &in5

	later := mustNewJob(t, "later", "repos.pull", 60)
	in60 := time.Now().Add(time.Hour)
	later.NextRunAt = &in60

	for _, j := range []*Job{later, soon} {
		if err := store.CreateJob(j); err != nil {
			t.Fatalf("CreateJob(%s) failed: %v", j.Name, err)
		}
	}

	next, err = store.GetNextScheduledJob()
	if err != nil {
		t.Fatalf("GetNextScheduledJob() failed: %v", err)
	}
	if next == nil || next.Name != "soon" {
		t.Errorf("expected soonest job, got %v", next)
	}
}

func TestStoreUpdateJobState(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	job := mustNewJob(t, "sweep", "repos.save", 900)
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	if err := store.UpdateJobState(job.ID, StatePaused); err != nil {
		t.Fatalf("UpdateJobState() failed: %v", err)
	}
	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if got.State != StatePaused {
		t.Errorf("expected paused, got %q", got.State)
	}

	if err := store.UpdateJobState(job.ID, "dormant"); err == nil {
		t.Error("expected error for invalid state")
	}
	if err := store.UpdateJobState("sched-missing", StateActive); !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestStoreUpdateJobInterval(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	job := mustNewJob(t, "sweep", "repos.save", 900)
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	if err := store.UpdateJobInterval(job.ID, 1800); err != nil {
		t.Fatalf("UpdateJobInterval() failed: %v", err)
	}
	got, _ := store.GetJob(job.ID)
	if got.IntervalSeconds != 1800 {
		t.Errorf("expected 1800, got %d", got.IntervalSeconds)
	}

	if err := store.UpdateJobInterval(job.ID, 0); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestStoreUpdateJobAfterExecution(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	job := mustNewJob(t, "sweep", "repos.save", 900)
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob() failed: %v", err)
	}

	lastRun := time.Now().Truncate(time.Second)
	nextRun := lastRun.Add(15 * time.Minute)
	if err := store.UpdateJobAfterExecution(job.ID, lastRun, "exec-123", nextRun); err != nil {
		t.Fatalf("UpdateJobAfterExecution() failed: %v", err)
	}

	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(lastRun) {
		t.Errorf("last run round-trip failed: %v", got.LastRunAt)
	}
	if got.LastExecutionID != "exec-123" {
		t.Errorf("execution id round-trip failed: %q", got.LastExecutionID)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(nextRun) {
		t.Errorf("next run round-trip failed: %v", got.NextRunAt)
	}

	err = store.UpdateJobAfterExecution("sched-missing", lastRun, "exec-123", nextRun)
	if !errors.IsNotFoundError(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestStoreListJobsExcludesDeleted(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	keep := mustNewJob(t, "keep", "repos.save", 900)
	drop := mustNewJob(t, "drop", "repos.pull", 900)
	for _, j := range []*Job{keep, drop} {
		if err := store.CreateJob(j); err != nil {
			t.Fatalf("CreateJob(%s) failed: %v", j.Name, err)
		}
	}

	if err := store.DeleteJob(drop.ID); err != nil {
		t.Fatalf("DeleteJob() failed: %v", err)
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "keep" {
		t.Errorf("expected only the kept job, got %d jobs", len(jobs))
	}

	// Soft delete keeps the row reachable by ID for execution history.
	got, err := store.GetJob(drop.ID)
	if err != nil {
		t.Fatalf("GetJob() after delete failed: %v", err)
	}
	if got.State != StateDeleted {
		t.Errorf("expected deleted state, got %q", got.State)
	}
}

func TestStoreListJobsNewestFirst(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	store := NewStore(db)

	first := mustNewJob(t, "first", "repos.save", 900)
	second := mustNewJob(t, "second", "repos.pull", 900)
	for _, j := range []*Job{first, second} {
		if err := store.CreateJob(j); err != nil {
			t.Fatalf("CreateJob(%s) failed: %v", j.Name, err)
		}
	}

	// RFC3339 storage has second precision, so backdate the first row to
	// make the ordering unambiguous.
	backdated := fmtTime(time.Now().Add(-time.Hour))
	if _, err := db.Exec(`UPDATE scheduled_jobs SET created_at = ? WHERE id = ?`, backdated, first.ID); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs() failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Name != "second" {
		t.Errorf("expected newest first, got %v", jobs)
	}
}
