package queue

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue/budget"
	"github.com/roostlabs/roost/sym"
)

const (
	// MaxOrphanedJobsToRecover caps startup recovery so a crash with a huge
	// backlog cannot overwhelm the daemon on restart
	MaxOrphanedJobsToRecover = 1000

	// DefaultMaxRetries is used when the config leaves max_retries unset
	DefaultMaxRetries = 3
)

// BudgetTracker gates job dispatch on spend limits.
type BudgetTracker interface {
	CheckBudget(estimatedCost float64) error
	GetStatus() (*budget.Status, error)
}

// RateLimiter gates job dispatch on a sliding-window call rate.
type RateLimiter interface {
	Allow() error
	Stats() (callsInWindow int, callsRemaining int)
}

// queueLogger wraps zap.SugaredLogger with lifecycle-colored methods:
// - DEBUG level → STARTING (✿ opening operations)
// - WARN level → CLOSING (❀ closing operations)
// - INFO level → steady-state queue operations
type queueLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening (✿) event at DEBUG level.
func (l queueLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.Open+" "+msg, keysAndValues...)
}

// Closing logs a closing (❀) event at WARN level.
func (l queueLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.Close+" "+msg, keysAndValues...)
}

// Note logs steady-state queue operations at INFO level.
func (l queueLogger) Note(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WorkerPool runs a fixed set of workers that claim and execute queued jobs.
type WorkerPool struct {
	queue         *Queue
	budgetTracker BudgetTracker // optional, nil skips budget gating
	rateLimiter   RateLimiter   // optional, nil skips rate gating
	db            *sql.DB
	config        *am.Config
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context // worker context is recreated from this after Stop
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	jobsProcessed int // drives the warm-up poll interval
	activeWorkers int
	startTime     time.Time
	logger        queueLogger
	mu            sync.Mutex
}

// WorkerPoolConfig contains worker pool settings.
type WorkerPoolConfig struct {
	Workers            int           `json:"workers"`              // concurrent workers
	PollInterval       time.Duration `json:"poll_interval"`        // queue poll cadence; 0 enables warm-up ramp
	MaxRetries         int           `json:"max_retries"`          // attempts before a transient failure is final
	PauseOnBudget      bool          `json:"pause_on_budget"`      // pause instead of fail when budget is exhausted
	GracefulStartPhase time.Duration `json:"graceful_start_phase"` // orphan recovery spread; 0 requeues immediately
}

// DefaultWorkerPoolConfig returns the production defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:            2,
		PollInterval:       2 * time.Second,
		MaxRetries:         DefaultMaxRetries,
		PauseOnBudget:      true,
		GracefulStartPhase: 5 * time.Minute,
	}
}

// PoolConfigFromAM derives pool settings from the resolved config.
func PoolConfigFromAM(cfg *am.Config) WorkerPoolConfig {
	pc := DefaultWorkerPoolConfig()
	if cfg == nil {
		return pc
	}
	if cfg.Queue.Workers > 0 {
		pc.Workers = cfg.Queue.Workers
	}
	if cfg.Queue.PollIntervalSeconds > 0 {
		pc.PollInterval = time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second
	}
	if cfg.Queue.MaxRetries > 0 {
		pc.MaxRetries = cfg.Queue.MaxRetries
	}
	pc.PauseOnBudget = cfg.Queue.PauseOnBudget
	if !cfg.Queue.GracefulStart {
		pc.GracefulStartPhase = 0
	}
	return pc
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// Callers must register handlers via Registry() before calling Start().
func NewWorkerPool(db *sql.DB, cfg *am.Config, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), db, cfg, poolCfg, logger)
}

// NewWorkerPoolWithContext creates a worker pool whose lifetime is bound to
// ctx. Cancelling ctx stops the workers; Stop() also cancels independently.
func NewWorkerPoolWithContext(ctx context.Context, db *sql.DB, cfg *am.Config, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	registry := NewHandlerRegistry()
	return NewWorkerPoolWithRegistry(ctx, db, cfg, poolCfg, logger, registry, nil, nil)
}

// NewWorkerPoolWithRegistry creates a worker pool with an explicit registry
// and optional budget/rate gates. This is the daemon wiring entry point;
// budgetTracker and rateLimiter may be nil for tests and simple setups.
func NewWorkerPoolWithRegistry(ctx context.Context, db *sql.DB, cfg *am.Config, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger, registry *HandlerRegistry, budgetTracker BudgetTracker, rateLimiter RateLimiter) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:         NewQueue(db),
		budgetTracker: budgetTracker,
		rateLimiter:   rateLimiter,
		db:            db,
		config:        cfg,
		poolConfig:    poolCfg,
		workers:       poolCfg.Workers,
		parentCtx:     ctx,
		ctx:           workerCtx,
		cancel:        cancel,
		executor:      NewRegistryExecutor(registry, nil),
		logger:        queueLogger{logger.Named("queue")},
	}
}

// Start recovers orphaned jobs and spawns the workers.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()

	// Recreate the worker context if a previous Stop() cancelled it. This
	// must happen before spawning workers to avoid races.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}

	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to recover orphaned jobs", "error", err)
		// Workers still start; orphans stay running until the next restart.
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.SugaredLogger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.wg.Add(1)
	go wp.gateReleaseLoop()
}

// Stop cancels the workers and waits up to 30 seconds for running jobs to
// checkpoint and exit.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Note(sym.Close + " Worker pool stopped, all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be checkpointing", "timeout", timeout)
	}
}

// Drain synchronously processes queued jobs until the queue is empty or ctx
// is cancelled, returning the number of dispatch passes that found work. It
// is the one-shot counterpart to Start/Stop for cron-driven runs; construct
// the pool with the same ctx so execution and the loop stop together.
//
// No timer survives between one-shot runs, so gate-placed pauses (retry
// backoff, rate limit, budget) are released up front and re-offered to the
// gates, which re-pause whatever is still blocked.
func (wp *WorkerPool) Drain(ctx context.Context) (int, error) {
	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to recover orphaned jobs", "error", err)
	}
	if err := wp.releaseGatePausedJobs(); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to release gate-paused jobs", "error", err)
	}

	processed := 0
	for {
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		default:
		}

		stats, err := wp.queue.GetStats()
		if err != nil {
			return processed, errors.Wrap(err, "failed to read queue stats")
		}
		if stats.Queued == 0 {
			return processed, nil
		}

		if err := wp.processNextJob(); err != nil {
			return processed, err
		}
		processed++
	}
}

// gatePauseReasons are the pause reasons placed by the dispatch gates and
// the retry scheduler, as opposed to pauses requested by an operator.
var gatePauseReasons = map[string]bool{
	"retry_wait":       true,
	"rate_limited":     true,
	"budget_exhausted": true,
}

// releaseGatePausedJobs returns gate-paused jobs to the queue. Operator
// pauses are left alone.
func (wp *WorkerPool) releaseGatePausedJobs() error {
	paused, err := wp.queue.store.ListJobs(string(JobStatusPaused), MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list paused jobs")
	}

	released := 0
	for _, job := range paused {
		reason, _ := job.State["pause_reason"].(string)
		if !gatePauseReasons[reason] {
			continue
		}
		if err := wp.queue.Resume(job.ID); err != nil {
			wp.logger.SugaredLogger.Warnw("Failed to release gate-paused job", "job_id", job.ID, "error", err)
			continue
		}
		released++
	}
	if released > 0 {
		wp.logger.Note(sym.Queue+" Released gate-paused jobs", "count", released)
	}
	return nil
}

// gateReleaseLoop periodically returns gate-paused jobs to the queue while
// the pool runs. Rate and budget windows reopen with the passage of time,
// not with an event the pool can observe, so without this sweep a job
// paused by a gate stays paused for the daemon's whole lifetime. Released
// jobs are re-offered to the gates on the next dispatch, which re-pause
// whatever is still blocked. retry_wait pauses carry their own release
// timer but are swept here too in case that timer died with a previous
// process.
func (wp *WorkerPool) gateReleaseLoop() {
	defer wp.wg.Done()

	interval := wp.gateReleaseInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.releaseGatePausedJobs(); err != nil {
				wp.logger.SugaredLogger.Warnw("Failed to release gate-paused jobs", "error", err)
			}
			if newInterval := wp.gateReleaseInterval(); newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
			}
		}
	}
}

// gateReleaseInterval is coarser than the worker poll so a released job
// isn't immediately churned back into a still-closed gate.
func (wp *WorkerPool) gateReleaseInterval() time.Duration {
	return 5 * wp.getWorkerInterval()
}

// recoverOrphanedJobs re-queues jobs left in "running" by an ungraceful
// shutdown (crash, kill -9, power loss).
//
// With a graceful start phase configured the backlog is spread out:
// the first job requeues immediately, the next few over a short warm phase,
// and the remainder over a longer slow phase. Without one, everything
// requeues at once.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	orphanedJobs, err := wp.queue.store.ListJobs(string(JobStatusRunning), MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}
	if len(orphanedJobs) == 0 {
		return nil
	}

	wp.logger.Starting("Found orphaned jobs from previous shutdown", "count", len(orphanedJobs))

	if wp.poolConfig.GracefulStartPhase <= 0 {
		for _, job := range orphanedJobs {
			if err := wp.requeueOrphanedJob(job); err != nil {
				wp.logger.SugaredLogger.Warnw("Failed to recover orphaned job", "job_id", job.ID, "error", err)
			}
		}
		return nil
	}

	// First job immediately so work resumes without delay.
	if err := wp.requeueOrphanedJob(orphanedJobs[0]); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to recover orphaned job", "job_id", orphanedJobs[0].ID, "error", err)
	} else {
		wp.logger.Starting("Immediately recovered first job", "current", 1, "total", len(orphanedJobs))
	}

	if len(orphanedJobs) > 1 {
		wp.logger.Starting("Recovering remaining jobs gradually", "count", len(orphanedJobs)-1)
		go wp.gradualRecovery(orphanedJobs[1:])
	}

	return nil
}

// requeueOrphanedJob returns a single orphaned job to the queue.
func (wp *WorkerPool) requeueOrphanedJob(job *Job) error {
	job.Status = JobStatusQueued
	job.Error = "" // clear stale error from the interrupted run
	job.UpdatedAt = time.Now()

	if err := wp.queue.Update(job); err != nil {
		return errors.Wrapf(err, "failed to update recovered job %s", job.ID)
	}

	wp.logger.Starting("Recovered orphaned job", "job_id", job.ID, "handler", job.HandlerName)
	return nil
}

// gradualRecovery spreads orphan requeues over the graceful start window:
// a warm phase (GracefulStartPhase/5) for up to 9 jobs, then a slow phase
// (GracefulStartPhase*3) for the rest.
func (wp *WorkerPool) gradualRecovery(jobs []*Job) {
	if len(jobs) == 0 {
		return
	}

	startTime := time.Now()
	warmStartDuration := wp.poolConfig.GracefulStartPhase / 5
	slowStartDuration := wp.poolConfig.GracefulStartPhase * 3

	warmStartLimit := min(9, len(jobs))
	warmStartInterval := warmStartDuration / time.Duration(warmStartLimit)
	wp.logger.Starting("Warm start phase", "count", warmStartLimit, "interval", warmStartInterval)

	warmRecovered := wp.recoverJobsWithInterval(jobs[:warmStartLimit], warmStartInterval, "warm start")
	wp.logger.Starting("Warm start complete", "recovered", warmRecovered, "duration", time.Since(startTime))

	remainingJobs := jobs[warmStartLimit:]
	if len(remainingJobs) == 0 {
		wp.logger.Starting("All jobs recovered during warm start")
		return
	}

	slowStartInterval := slowStartDuration / time.Duration(len(remainingJobs))
	wp.logger.Starting("Slow start phase", "count", len(remainingJobs), "interval", slowStartInterval)

	slowRecovered := wp.recoverJobsWithInterval(remainingJobs, slowStartInterval, "slow start")
	wp.logger.Starting("Gradual recovery complete", "recovered", warmRecovered+slowRecovered, "total", len(jobs), "duration", time.Since(startTime))
}

// recoverJobsWithInterval requeues a batch with a delay between each job.
// Returns the number successfully recovered.
func (wp *WorkerPool) recoverJobsWithInterval(jobs []*Job, interval time.Duration, phase string) int {
	recovered := 0
	for i, job := range jobs {
		select {
		case <-wp.ctx.Done():
			wp.logger.Closing("Gradual recovery cancelled during "+phase, "recovered", recovered, "total", len(jobs))
			return recovered
		default:
		}

		if err := wp.requeueOrphanedJob(job); err != nil {
			wp.logger.SugaredLogger.Warnw("Failed to recover job during "+phase, "job_id", job.ID, "error", err)
			continue
		}
		recovered++

		if recovered%10 == 0 {
			wp.logger.Starting("Gradual recovery progress", "current", recovered, "total", len(jobs), "phase", phase)
		}

		if i < len(jobs)-1 {
			time.Sleep(interval)
		}
	}
	return recovered
}

// worker polls the queue and processes jobs until the context is cancelled.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	interval := wp.getWorkerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					// Shutting down; exit without logging.
					return
				default:
					if errors.Is(err, sql.ErrConnDone) {
						// Database closed underneath us during shutdown.
						return
					}
					errorCount++
					wp.logger.SugaredLogger.Errorw("Worker error processing job",
						"worker_id", id,
						"error", err,
						"consecutive_errors", errorCount)

					if errorCount >= maxConsecutiveErrors {
						wp.logger.SugaredLogger.Warnw("Worker backing off due to consecutive errors",
							"worker_id", id,
							"backoff", backoffDuration,
							"consecutive_errors", errorCount)
						time.Sleep(backoffDuration)
						backoffDuration = min(backoffDuration*2, maxBackoff)
					}
				}
			} else {
				if errorCount > 0 {
					wp.logger.SugaredLogger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
			}

			newInterval := wp.getWorkerInterval()
			if newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
			}
		}
	}
}

// getWorkerInterval returns the current poll interval. With no explicit
// PollInterval configured, workers poll every second during warm-up (first
// 20 jobs or 2 minutes) and every 5 seconds after.
func (wp *WorkerPool) getWorkerInterval() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.poolConfig.PollInterval > 0 {
		return wp.poolConfig.PollInterval
	}

	elapsed := time.Since(wp.startTime)
	if wp.jobsProcessed < 20 || elapsed < 2*time.Minute {
		return 1 * time.Second
	}
	return 5 * time.Second
}

// processNextJob claims the next queued job and runs it through the dispatch
// gates: rate limit first (protects the agent API), then budget (protects
// the wallet), then parent liveness, then execution.
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return nil
	}

	if paused, err := wp.checkRateLimit(job); paused || err != nil {
		if err != nil {
			return errors.Wrapf(err, "rate limit check failed for job %s", job.ID)
		}
		return nil
	}

	if paused, err := wp.checkBudget(job); paused || err != nil {
		if err != nil {
			return errors.Wrapf(err, "budget check failed for job %s", job.ID)
		}
		return nil
	}

	wp.updateJobGateState(job)

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.mu.Unlock()

	// A deleted or failed parent cancels its children before they run.
	if job.ParentJobID != "" {
		parent, err := wp.queue.Get(job.ParentJobID)
		if err != nil {
			if cancelErr := job.Cancel("parent job deleted"); cancelErr != nil {
				return cancelErr
			}
			return wp.queue.Update(job)
		}
		if parent.Status == JobStatusFailed || parent.Status == JobStatusCancelled {
			if cancelErr := job.Cancel("parent job " + string(parent.Status)); cancelErr != nil {
				return cancelErr
			}
			return wp.queue.Update(job)
		}
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	if err := wp.executor.Execute(wp.ctx, job); err != nil {
		select {
		case <-wp.ctx.Done():
			// Shutdown interrupted the job; requeue it with state intact so
			// the next start resumes from the checkpoint.
			wp.logger.Closing("Job interrupted during execution, re-queuing", "job_id", job.ID)
			job.Status = JobStatusQueued
			job.UpdatedAt = time.Now()
			if updateErr := wp.queue.Update(job); updateErr != nil {
				wp.logger.SugaredLogger.Errorw("Failed to re-queue interrupted job", "job_id", job.ID, "error", updateErr)
			}
			return nil
		default:
			return wp.handleJobError(job, err)
		}
	}

	return wp.queue.Complete(job.ID)
}

// handleJobError decides between retry and final failure. Handlers request
// retries explicitly with RetryableError; errors that merely look transient
// get backoff retries up to MaxRetries.
func (wp *WorkerPool) handleJobError(job *Job, jobErr error) error {
	maxRetries := wp.poolConfig.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	delay, explicit := IsRetryable(jobErr)
	if !explicit {
		if ClassifyError(jobErr) != ErrorClassTransient {
			return wp.queue.Fail(job.ID, jobErr)
		}
		delay = retryBackoff(job.RetryCount)
	}

	if job.RetryCount >= maxRetries {
		return wp.queue.Fail(job.ID, errors.Wrapf(jobErr, "retries exhausted after %d attempts", job.RetryCount+1))
	}

	return wp.retryJob(job, jobErr, delay)
}

// retryJob schedules another attempt. With zero delay the job goes straight
// back to queued; otherwise it parks as paused and a timer releases it, since
// the dispatch scan has no notion of "not before".
func (wp *WorkerPool) retryJob(job *Job, jobErr error, delay time.Duration) error {
	job.RetryCount++
	job.Error = jobErr.Error()

	if delay <= 0 {
		job.Status = JobStatusQueued
		job.UpdatedAt = time.Now()
		if err := wp.queue.Update(job); err != nil {
			return err
		}
		wp.logger.Note(sym.Queue+" Job re-queued for retry",
			"job_id", job.ID, "retry", job.RetryCount, "error", jobErr.Error())
		return nil
	}

	if err := job.Pause("retry_wait"); err != nil {
		return err
	}
	if err := wp.queue.Update(job); err != nil {
		return err
	}
	wp.logger.Note(sym.Queue+" Job retry scheduled",
		"job_id", job.ID, "retry", job.RetryCount, "delay", delay, "error", jobErr.Error())

	jobID := job.ID
	time.AfterFunc(delay, func() {
		// Resume fails if the job was cancelled while waiting; that's final.
		if err := wp.queue.Resume(jobID); err != nil {
			wp.logger.SugaredLogger.Warnw("Failed to release job for retry", "job_id", jobID, "error", err)
		}
	})
	return nil
}

// retryBackoff returns the wait before retry attempt n: 10s doubling per
// attempt, capped at 5 minutes.
func retryBackoff(retryCount int) time.Duration {
	delay := 10 * time.Second
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return delay
}

// checkRateLimit pauses the job when the dispatch window is full.
// Returns true if the job was paused.
func (wp *WorkerPool) checkRateLimit(job *Job) (paused bool, err error) {
	if wp.rateLimiter == nil {
		return false, nil
	}

	if err := wp.rateLimiter.Allow(); err != nil {
		if pauseErr := wp.queue.Pause(job.ID, "rate_limited"); pauseErr != nil {
			return false, errors.Wrapf(pauseErr, "failed to pause job %s", job.ID)
		}
		callsInWindow, callsRemaining := wp.rateLimiter.Stats()
		wp.logger.SugaredLogger.Infow(sym.Queue+" Rate limit reached, job paused",
			"job_id", job.ID,
			"calls_in_window", callsInWindow,
			"calls_remaining", callsRemaining,
			"reason", "rate_limited")
		return true, nil
	}
	return false, nil
}

// checkBudget pauses or fails the job when spend limits are exhausted.
// Returns true if the job was paused or failed.
func (wp *WorkerPool) checkBudget(job *Job) (paused bool, err error) {
	if wp.budgetTracker == nil {
		return false, nil
	}

	if err := wp.budgetTracker.CheckBudget(job.CostEstimate); err != nil {
		if status, statusErr := wp.budgetTracker.GetStatus(); statusErr == nil {
			wp.logger.SugaredLogger.Infow(sym.Queue+" Budget exhausted",
				"job_id", job.ID,
				"estimated_cost", job.CostEstimate,
				"daily_spend", status.DailySpend,
				"daily_remaining", status.DailyRemaining,
				"monthly_spend", status.MonthlySpend,
				"monthly_remaining", status.MonthlyRemaining,
				"pause_on_budget", wp.poolConfig.PauseOnBudget,
				"reason", "budget_exhausted")
		}

		if wp.poolConfig.PauseOnBudget {
			if pauseErr := wp.queue.Pause(job.ID, "budget_exhausted"); pauseErr != nil {
				return false, errors.Wrapf(pauseErr, "failed to pause job %s", job.ID)
			}
			return true, nil
		}
		return true, wp.queue.Fail(job.ID, err)
	}
	return false, nil
}

// updateJobGateState records current rate and budget headroom on the job so
// listings show why work is or isn't flowing.
func (wp *WorkerPool) updateJobGateState(job *Job) {
	if wp.budgetTracker == nil || wp.rateLimiter == nil {
		return
	}

	status, err := wp.budgetTracker.GetStatus()
	if err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to get budget status", "error", err)
		return
	}

	callsInWindow, callsRemaining := wp.rateLimiter.Stats()
	job.SetState("calls_this_minute", callsInWindow)
	job.SetState("calls_remaining", callsRemaining)
	job.SetState("spend_today", status.DailySpend)
	job.SetState("spend_this_month", status.MonthlySpend)
	job.SetState("budget_remaining_today", status.DailyRemaining)

	if err := wp.queue.Update(job); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to update job gate state", "error", err)
	}
}

// GetQueue returns the pool's queue for enqueuing jobs.
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry. Register handlers before Start():
//
//	pool := queue.NewWorkerPool(db, cfg, poolCfg, logger)
//	pool.Registry().Register(repos.NewSaveHandler(manager))
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	if registryExec, ok := wp.executor.(*RegistryExecutor); ok {
		return registryExec.registry
	}
	return nil
}
