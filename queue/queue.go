package queue

import (
	"database/sql"
	"sync"
	"time"

	"github.com/roostlabs/roost/errors"
)

// Stats summarizes queue occupancy by status.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// Queue coordinates job lifecycle transitions and fans out change
// notifications to subscribers. All state lives in the store; the queue adds
// in-process serialization so two workers never claim the same job.
type Queue struct {
	store *Store

	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a queue over the given database.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// Store exposes the underlying store for read-side queries (dedup finders,
// listings). Lifecycle transitions must go through the queue.
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue persists a new job and notifies subscribers.
func (q *Queue) Enqueue(job *Job) error {
	if err := q.store.CreateJob(job); err != nil {
		return errors.WithDetail(err, "handler: "+job.HandlerName)
	}
	q.notifySubscribers(job)
	return nil
}

// Dequeue claims the next queued job, marking it running. Returns (nil, nil)
// when nothing is queued. The queue lock serializes claims so concurrent
// workers in one process never race on the same row.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.NextQueuedJob()
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	if err := job.Start(); err != nil {
		return nil, err
	}
	if err := q.store.UpdateJob(job); err != nil {
		return nil, errors.WithDetail(err, "job_id: "+job.ID)
	}

	q.notifyLocked(job)
	return job, nil
}

// Get returns the job with the given ID.
func (q *Queue) Get(jobID string) (*Job, error) {
	return q.store.GetJob(jobID)
}

// Update persists job changes and notifies subscribers.
func (q *Queue) Update(job *Job) error {
	if err := q.store.UpdateJob(job); err != nil {
		return err
	}
	q.notifySubscribers(job)
	return nil
}

// Pause holds a job out of dispatch with a reason.
func (q *Queue) Pause(jobID, reason string) error {
	return q.transition(jobID, func(job *Job) error {
		return job.Pause(reason)
	})
}

// Resume returns a paused job to the queue.
func (q *Queue) Resume(jobID string) error {
	return q.transition(jobID, func(job *Job) error {
		return job.Resume()
	})
}

// Complete marks a job as successfully finished.
func (q *Queue) Complete(jobID string) error {
	return q.transition(jobID, func(job *Job) error {
		return job.Complete()
	})
}

// Fail marks a job as failed with the given error.
func (q *Queue) Fail(jobID string, jobErr error) error {
	return q.transition(jobID, func(job *Job) error {
		return job.Fail(jobErr)
	})
}

// Cancel marks a job as cancelled with a reason.
func (q *Queue) Cancel(jobID, reason string) error {
	return q.transition(jobID, func(job *Job) error {
		return job.Cancel(reason)
	})
}

// Retry re-queues a failed or cancelled job.
func (q *Queue) Retry(jobID string) error {
	return q.transition(jobID, func(job *Job) error {
		return job.Retry()
	})
}

// transition loads a job, applies the mutation, and persists the result.
func (q *Queue) transition(jobID string, mutate func(*Job) error) error {
	job, err := q.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if err := mutate(job); err != nil {
		return err
	}
	return q.Update(job)
}

// DeleteJobWithChildren removes a job and all of its children. Running
// children are cancelled first so workers holding them fail their updates
// instead of resurrecting deleted rows.
func (q *Queue) DeleteJobWithChildren(jobID string) error {
	children, err := q.store.ListJobsByParent(jobID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if !child.IsTerminal() {
			if err := child.Cancel("parent job deleted"); err == nil {
				q.notifySubscribers(child)
			}
		}
		if err := q.store.DeleteJob(child.ID); err != nil && !errors.IsNotFoundError(err) {
			return errors.WithDetail(err, "child_job_id: "+child.ID)
		}
	}
	return q.store.DeleteJob(jobID)
}

// GetStats returns queue occupancy counts.
func (q *Queue) GetStats() (*Stats, error) {
	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Paused:    counts[JobStatusPaused],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Cancelled: counts[JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// GetJobCounts returns the raw per-status counts.
func (q *Queue) GetJobCounts() (map[JobStatus]int, error) {
	return q.store.CountByStatus()
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (q *Queue) ListJobs(status string, limit int) ([]*Job, error) {
	return q.store.ListJobs(status, limit)
}

// ListActiveJobs returns queued, running, and paused jobs.
func (q *Queue) ListActiveJobs() ([]*Job, error) {
	return q.store.ListActiveJobs()
}

// Cleanup removes terminal jobs older than the cutoff.
func (q *Queue) Cleanup(olderThan time.Time) (int, error) {
	return q.store.CleanupOldJobs(olderThan)
}

// Subscribe returns a channel that receives every job change. The channel is
// buffered; slow consumers drop updates rather than blocking the queue.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, 100)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifySubscribers sends a job update to all subscribers without blocking.
func (q *Queue) notifySubscribers(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	q.notifyLocked(job)
}

// notifyLocked requires q.mu held (read or write).
func (q *Queue) notifyLocked(job *Job) {
	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
			// Subscriber buffer full; drop rather than stall dispatch.
		}
	}
}
