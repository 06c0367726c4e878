package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/sym"
)

// ExecutionBroadcaster pushes execution lifecycle events to live clients.
// Declared here so the server package can implement it without a cycle.
type ExecutionBroadcaster interface {
	BroadcastExecutionStarted(scheduledJobID, executionID, name string)
	BroadcastExecutionFailed(scheduledJobID, executionID, name, errorMsg string, errorDetails []string, durationMs int64)
}

// Ticker drives scheduled jobs. Every interval it scans for due jobs and,
// for each one, records an execution, enqueues the async job, and advances
// next_run_at by the job's interval.
type Ticker struct {
	store       *Store
	executions  *ExecutionStore
	queue       *queue.Queue
	pool        *queue.WorkerPool // optional, adds worker metrics to the activity line
	broadcaster ExecutionBroadcaster
	interval    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastActiveWork  int // last queued+running count, to log activity only on change
}

// TickerConfig contains ticker settings.
type TickerConfig struct {
	Interval time.Duration // due-job scan cadence
}

// DefaultTickerConfig returns the one second production default.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: time.Second}
}

// TickerConfigFromAM derives ticker settings from the resolved config.
func TickerConfigFromAM(cfg *am.Config) TickerConfig {
	tc := DefaultTickerConfig()
	if cfg != nil && cfg.Queue.TickerIntervalSeconds > 0 {
		tc.Interval = time.Duration(cfg.Queue.TickerIntervalSeconds) * time.Second
	}
	return tc
}

// NewTicker creates a ticker. The worker pool and broadcaster are optional.
func NewTicker(store *Store, q *queue.Queue, pool *queue.WorkerPool, broadcaster ExecutionBroadcaster, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, q, pool, broadcaster, cfg, log)
}

// NewTickerWithContext creates a ticker whose lifetime is bound to the
// parent context.
func NewTickerWithContext(ctx context.Context, store *Store, q *queue.Queue, pool *queue.WorkerPool, broadcaster ExecutionBroadcaster, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	return &Ticker{
		store:       store,
		executions:  NewExecutionStore(store.db),
		queue:       q,
		pool:        pool,
		broadcaster: broadcaster,
		interval:    interval,
		ctx:         tickerCtx,
		cancel:      cancel,
		logger:      log.Named("schedule"),
	}
}

// Start begins the tick loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow(sym.Open+" schedule ticker started", "interval", t.interval)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow(sym.Close + " schedule ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			t.logActivity(tickTime)

			if err := t.checkScheduledJobs(tickTime); err != nil {
				t.logger.Warnw(sym.Queue+" schedule tick error", "error", err, "tick", t.ticksSinceStart)
			}
		}
	}
}

// logActivity logs the queue pulse line: a glyph per five active jobs and
// the time until the next scheduled execution. Logged only when the active
// work count changes so an idle daemon stays quiet.
func (t *Ticker) logActivity(now time.Time) {
	nextJob, err := t.store.GetNextScheduledJob()
	if err != nil {
		t.logger.Warnw("failed to get next scheduled job", "error", err)
		return
	}

	stats, err := t.queue.GetStats()
	if err != nil {
		t.logger.Warnw("failed to get queue stats", "error", err)
		stats = &queue.Stats{}
	}
	activeWork := stats.Queued + stats.Running

	t.mu.Lock()
	changed := activeWork != t.lastActiveWork
	t.lastActiveWork = activeWork
	t.mu.Unlock()
	if !changed {
		return
	}

	indicator := ""
	if activeWork > 0 {
		glyphs := (activeWork / 5) + 1
		if glyphs > 60 {
			glyphs = 60
		}
		indicator = strings.TrimSpace(strings.Repeat(sym.Queue+" ", glyphs)) + " "
	}

	if nextJob == nil || nextJob.NextRunAt == nil {
		if activeWork > 0 {
			t.logger.Infof("%sno scheduled executions, %d jobs active", indicator, activeWork)
		} else {
			t.logger.Info("no scheduled executions")
		}
		return
	}

	timeUntil := nextJob.NextRunAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}

	msg := fmt.Sprintf("%snext execution '%s' in %s", indicator, nextJob.DisplayName(), timeUntil.Round(time.Second))
	if activeWork > 0 {
		msg += fmt.Sprintf(", %d jobs active", activeWork)
	}
	if t.pool != nil {
		metrics := t.pool.GetSystemMetrics()
		msg += fmt.Sprintf(" │ workers %d/%d │ mem %.1f/%.1fGB (%.0f%%)",
			metrics.WorkersActive, metrics.WorkersTotal,
			metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent)
	}
	t.logger.Info(msg)
}

// checkScheduledJobs finds due jobs and fires each one. A failure in one
// job does not block the rest of the batch.
func (t *Ticker) checkScheduledJobs(now time.Time) error {
	jobs, err := t.store.ListJobsDueContext(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due scheduled jobs")
	}
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.executeScheduledJob(job, now); err != nil {
			t.logger.Errorw(sym.Queue+" failed to execute scheduled job",
				"job_id", job.ID,
				"name", job.DisplayName(),
				"error", err)
			continue
		}
	}
	return nil
}

// executeScheduledJob fires one due job: it records an execution, enqueues
// the async job, and on success advances the schedule by the job's interval.
// Execution history is best-effort; a history write failure never stops the
// firing itself.
func (t *Ticker) executeScheduledJob(scheduled *Job, now time.Time) error {
	t.logger.Infow(sym.Queue+" executing scheduled job",
		"job_id", scheduled.ID,
		"name", scheduled.DisplayName(),
		"handler", scheduled.HandlerName,
		"source_url", scheduled.SourceURL)

	execution := NewExecution(scheduled.ID)
	if err := t.executions.CreateExecution(execution); err != nil {
		t.logger.Errorw("failed to create execution record",
			"job_id", scheduled.ID,
			"error", err)
	}
	if t.broadcaster != nil {
		t.broadcaster.BroadcastExecutionStarted(scheduled.ID, execution.ID, scheduled.DisplayName())
	}

	asyncJobID, err := t.enqueueAsyncJob(scheduled)
	completed := time.Now()

	if err != nil {
		execution.Fail(completed, err.Error())

		t.logger.Errorw(sym.Queue+" schedule execution failed",
			"job_id", scheduled.ID,
			"name", scheduled.DisplayName(),
			"execution_id", execution.ID,
			"duration_ms", *execution.DurationMs,
			"error", err)

		if t.broadcaster != nil {
			t.broadcaster.BroadcastExecutionFailed(scheduled.ID, execution.ID, scheduled.DisplayName(),
				err.Error(), errors.GetAllDetails(err), *execution.DurationMs)
		}
	} else {
		execution.Complete(completed, asyncJobID, fmt.Sprintf("created async job %s", asyncJobID))
		nextRun := now.Add(scheduled.Interval())

		t.logger.Infow(sym.Queue+" schedule execution ok",
			"job_id", scheduled.ID,
			"name", scheduled.DisplayName(),
			"async_job_id", asyncJobID,
			"execution_id", execution.ID,
			"duration_ms", *execution.DurationMs,
			"next_run_at", nextRun.Format(time.RFC3339))

		if err := t.store.UpdateJobAfterExecution(scheduled.ID, now, execution.ID, nextRun); err != nil {
			return errors.Wrap(err, "failed to update scheduled job after execution")
		}
	}

	if err := t.executions.UpdateExecution(execution); err != nil {
		t.logger.Errorw("failed to update execution record",
			"execution_id", execution.ID,
			"error", err)
	}
	return nil
}

// enqueueAsyncJob creates the async job for a due schedule. When an active
// job with the same source and handler already exists, its ID is returned
// instead of enqueueing a duplicate.
func (t *Ticker) enqueueAsyncJob(scheduled *Job) (string, error) {
	if scheduled.HandlerName == "" {
		return "", errors.Newf("scheduled job %s has no handler", scheduled.ID)
	}

	payload := t.resolvePayloadLastRun(scheduled)

	existing, err := t.queue.Store().FindActiveJobBySourceAndHandler(scheduled.SourceURL, scheduled.HandlerName)
	if err != nil {
		return "", errors.Wrap(err, "failed to check for duplicate job")
	}
	if existing != nil {
		t.logger.Debugw("skipping duplicate scheduled enqueue",
			"source_url", scheduled.SourceURL,
			"handler", scheduled.HandlerName,
			"existing_job_id", existing.ID,
			"existing_status", existing.Status)
		return existing.ID, nil
	}

	opts := []queue.JobOption{queue.WithDescription(scheduled.DisplayName())}
	if c := scheduled.Metadata["category"]; queue.IsValidCategory(c) {
		opts = append(opts, queue.WithCategory(queue.Category(c)))
	}
	if p := scheduled.Metadata["priority"]; queue.IsValidPriority(p) {
		opts = append(opts, queue.WithPriority(queue.Priority(p)))
	}

	job, err := queue.NewJob(scheduled.HandlerName, payload, scheduled.SourceURL, opts...)
	if err != nil {
		return "", errors.Wrap(err, "failed to create async job")
	}
	job.SetState("scheduled_job_id", scheduled.ID)

	if err := t.queue.Enqueue(job); err != nil {
		return "", errors.Wrap(err, "failed to enqueue async job")
	}

	t.logger.Debugw("enqueued scheduled job",
		"job_id", job.ID,
		"handler", scheduled.HandlerName,
		"scheduled_job_id", scheduled.ID)

	return job.ID, nil
}

// resolvePayloadLastRun substitutes "since":"last_run" in the payload with
// the job's actual last run time, enabling incremental handlers. First runs
// drop the key entirely so handlers process everything.
func (t *Ticker) resolvePayloadLastRun(scheduled *Job) json.RawMessage {
	if len(scheduled.Payload) == 0 {
		return scheduled.Payload
	}
	if !strings.Contains(string(scheduled.Payload), `"last_run"`) {
		return scheduled.Payload
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(scheduled.Payload, &payload); err != nil {
		return scheduled.Payload
	}

	since, ok := payload["since"].(string)
	if !ok || since != "last_run" {
		return scheduled.Payload
	}

	if scheduled.LastRunAt != nil {
		payload["since"] = fmtTime(*scheduled.LastRunAt)
		t.logger.Debugw("resolved since=last_run",
			"job_id", scheduled.ID,
			"last_run_at", fmtTime(*scheduled.LastRunAt))
	} else {
		delete(payload, "since")
		t.logger.Debugw("no last run recorded, dropping since filter",
			"job_id", scheduled.ID)
	}

	resolved, err := json.Marshal(payload)
	if err != nil {
		return scheduled.Payload
	}
	return resolved
}

// GetStats returns ticker loop statistics.
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
