package queue

import (
	"testing"
	"time"

	"github.com/roostlabs/roost/errors"
	roosttest "github.com/roostlabs/roost/internal/testing"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	job, _ := createTestJob("agent.prompt", "cli", 0.05)
	if err := q.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	claimed, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim %s, got %+v", job.ID, claimed)
	}
	if claimed.Status != JobStatusRunning {
		t.Errorf("expected dequeued job running, got %s", claimed.Status)
	}

	// The claim persisted: a second dequeue finds nothing.
	again, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if again != nil {
		t.Errorf("expected empty queue after claim, got %+v", again)
	}
}

func TestQueueDequeue_SkipsPaused(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := q.Enqueue(job); err != nil {
		t.Fatal(err)
	}
	if err := q.Pause(job.ID, "rate_limited"); err != nil {
		t.Fatalf("Pause() failed: %v", err)
	}

	claimed, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("paused job should not dequeue, got %+v", claimed)
	}

	if err := q.Resume(job.ID); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	claimed, err = q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Errorf("resumed job should dequeue, got %+v", claimed)
	}
}

func TestQueueLifecycleTransitions(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := q.Enqueue(job); err != nil {
		t.Fatal(err)
	}

	claimed, err := q.Dequeue()
	if err != nil || claimed == nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}

	if err := q.Complete(claimed.ID); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	got, err := q.Get(claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}

	// Terminal jobs reject further transitions.
	if err := q.Cancel(claimed.ID, "nope"); err == nil {
		t.Error("expected error cancelling completed job")
	}
}

func TestQueueFail(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := q.Enqueue(job); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(); err != nil {
		t.Fatal(err)
	}

	if err := q.Fail(job.ID, errors.New("agent unreachable")); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}

	got, err := q.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobStatusFailed || got.Error != "agent unreachable" {
		t.Errorf("failure not persisted: %+v", got)
	}
}

func TestQueueRetry(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := q.Enqueue(job); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(); err != nil {
		t.Fatal(err)
	}
	if err := q.Fail(job.ID, errors.New("agent unreachable")); err != nil {
		t.Fatal(err)
	}

	if err := q.Retry(job.ID); err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}

	got, err := q.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobStatusQueued {
		t.Errorf("expected queued after retry, got %s", got.Status)
	}
	if got.Error != "" || got.CompletedAt != nil {
		t.Errorf("run-scoped fields not cleared: %+v", got)
	}

	// Only terminal failures can retry.
	if err := q.Retry(job.ID); err == nil {
		t.Error("expected error retrying queued job")
	}
}

func TestQueueSubscribe(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	ch := q.Subscribe()
	defer q.Unsubscribe(ch)

	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := q.Enqueue(job); err != nil {
		t.Fatal(err)
	}

	select {
	case update := <-ch:
		if update.ID != job.ID || update.Status != JobStatusQueued {
			t.Errorf("unexpected update %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("no enqueue notification received")
	}

	if _, err := q.Dequeue(); err != nil {
		t.Fatal(err)
	}

	select {
	case update := <-ch:
		if update.Status != JobStatusRunning {
			t.Errorf("expected running update, got %s", update.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no dequeue notification received")
	}
}

func TestQueueUnsubscribeClosesChannel(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	ch := q.Subscribe()
	q.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("expected channel closed after unsubscribe")
	}

	// Notifications after unsubscribe must not panic.
	job, _ := createTestJob("agent.prompt", "cli", 0)
	if err := q.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() after unsubscribe failed: %v", err)
	}
}

func TestQueueSlowSubscriberDoesNotBlock(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	// Never read from this subscription; its buffer fills and overflow drops.
	ch := q.Subscribe()
	defer q.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 150; i++ {
			job, _ := createTestJob("agent.prompt", "cli", 0)
			if err := q.Enqueue(job); err != nil {
				t.Errorf("Enqueue() failed: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked on slow subscriber")
	}
}

func TestQueueGetStats(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	for i := 0; i < 3; i++ {
		job, _ := createTestJob("agent.prompt", "cli", 0)
		if err := q.Enqueue(job); err != nil {
			t.Fatal(err)
		}
	}
	claimed, err := q.Dequeue()
	if err != nil || claimed == nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	if err := q.Complete(claimed.ID); err != nil {
		t.Fatal(err)
	}

	stats, err := q.GetStats()
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.Queued != 2 {
		t.Errorf("expected 2 queued, got %d", stats.Queued)
	}
	if stats.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", stats.Completed)
	}
	if stats.Total != 3 {
		t.Errorf("expected 3 total, got %d", stats.Total)
	}
}

func TestQueueDeleteJobWithChildren(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	parent, _ := createTestJob("agent.prompt", "cli", 0)
	if err := q.Enqueue(parent); err != nil {
		t.Fatal(err)
	}

	var childIDs []string
	for i := 0; i < 2; i++ {
		child, _ := createTestJob("agent.prompt", "cli", 0, WithParent(parent.ID))
		if err := q.Enqueue(child); err != nil {
			t.Fatal(err)
		}
		childIDs = append(childIDs, child.ID)
	}

	if err := q.DeleteJobWithChildren(parent.ID); err != nil {
		t.Fatalf("DeleteJobWithChildren() failed: %v", err)
	}

	if _, err := q.Get(parent.ID); !errors.IsNotFoundError(err) {
		t.Errorf("expected parent gone, got %v", err)
	}
	for _, id := range childIDs {
		if _, err := q.Get(id); !errors.IsNotFoundError(err) {
			t.Errorf("expected child %s gone, got %v", id, err)
		}
	}
}

func TestQueueCleanup(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)
	q := NewQueue(db)

	job, _ := createTestJob("repos.save", "repo:old", 0)
	if err := job.Start(); err != nil {
		t.Fatal(err)
	}
	if err := job.Complete(); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-72 * time.Hour)
	job.CompletedAt = &past
	if err := q.Store().CreateJob(job); err != nil {
		t.Fatal(err)
	}

	removed, err := q.Cleanup(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
}
