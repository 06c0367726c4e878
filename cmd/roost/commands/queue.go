package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/agent"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/internal/util"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/queue/budget"
	"github.com/roostlabs/roost/sym"
	"github.com/roostlabs/roost/workspace"
)

// QueueCmd groups job queue operations
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: sym.Queue + " Manage the job queue",
	Long: sym.Queue + ` queue — Add, inspect, and process background jobs.

Jobs carry a priority (critical, high, medium, low) and a category (bug,
feature, test, docs, chore, research). The dispatch scan always runs higher
priorities first; within a priority, oldest first.

Commands:
  roost queue add <description>   # Queue a prompt for the agent
  roost queue list                # List jobs
  roost queue show <job-id>       # Show one job in detail
  roost queue cancel <job-id>     # Cancel a queued or running job
  roost queue retry <job-id>      # Re-queue a failed job
  roost queue process             # One-shot drain (cron mode)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Queue a prompt for the agent",
	Long: `Queue a prompt job. The description becomes the prompt text sent to the
agent gateway when the job runs; the reply lands in the workspace replies
directory.

Examples:
  roost queue add "summarize this week's commits"
  roost queue add "fix the flaky save test" --category bug --priority high
  roost queue add "survey rss libraries" --category research --cost 0.05`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long: `List jobs, newest first, optionally filtered by status.

Status filters: queued, running, paused, completed, failed, cancelled.

Examples:
  roost queue list                    # Recent jobs
  roost queue list --status queued    # Only queued jobs
  roost queue list --limit 50         # Show up to 50 jobs`,
	RunE: runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job in detail",
	Long: `Display a job's status, priority, retries, cost, timestamps, and the
reply preview when the agent has answered.

Example:
  roost queue show job-4f8a2c1e`,
	Args: cobra.ExactArgs(1),
	RunE: runQueueShow,
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueCancel,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a failed or cancelled job",
	Long: `Return a failed or cancelled job to the queue with a fresh retry budget.
The job keeps its original priority.

Example:
  roost queue retry job-4f8a2c1e`,
	Args: cobra.ExactArgs(1),
	RunE: runQueueRetry,
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Process queued jobs once and exit (cron mode)",
	Long: `Drain the queue once: process jobs until none are queued, then exit.
This is the cron counterpart to 'roost start'; the workspace lock keeps the
two from dispatching the same jobs, so process refuses to run while the
daemon holds it.

'roost init' prints a ready-made crontab line for this command.

Example:
  roost queue process`,
	RunE: runQueueProcess,
}

var (
	queueAddCategory string
	queueAddPriority string
	queueAddCost     float64
	queueListStatus  string
	queueListLimit   int
)

func init() {
	queueAddCmd.Flags().StringVar(&queueAddCategory, "category", string(queue.CategoryChore), "Job category (bug, feature, test, docs, chore, research)")
	queueAddCmd.Flags().StringVar(&queueAddPriority, "priority", string(queue.PriorityMedium), "Job priority (critical, high, medium, low)")
	queueAddCmd.Flags().Float64Var(&queueAddCost, "cost", 0, "Estimated cost in USD, checked against budgets before dispatch")
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Filter by status")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 20, "Maximum number of jobs to display")

	QueueCmd.AddCommand(queueAddCmd)
	QueueCmd.AddCommand(queueListCmd)
	QueueCmd.AddCommand(queueShowCmd)
	QueueCmd.AddCommand(queueCancelCmd)
	QueueCmd.AddCommand(queueRetryCmd)
	QueueCmd.AddCommand(queueProcessCmd)
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	description := strings.Join(args, " ")
	if !queue.IsValidCategory(queueAddCategory) {
		return errors.NewInvalidRequestError(fmt.Sprintf("unknown category %q (bug, feature, test, docs, chore, research)", queueAddCategory))
	}
	if !queue.IsValidPriority(queueAddPriority) {
		return errors.NewInvalidRequestError(fmt.Sprintf("unknown priority %q (critical, high, medium, low)", queueAddPriority))
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	payload, err := json.Marshal(agent.Payload{
		Description: description,
		Category:    queueAddCategory,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode payload")
	}

	job, err := queue.NewJob(agent.HandlerName, payload, "cli",
		queue.WithCategory(queue.Category(queueAddCategory)),
		queue.WithPriority(queue.Priority(queueAddPriority)),
		queue.WithDescription(description),
		queue.WithCostEstimate(queueAddCost),
	)
	if err != nil {
		return err
	}

	q := queue.NewQueue(database)
	if err := q.Enqueue(job); err != nil {
		return errors.Wrap(err, "failed to enqueue job")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(job)
	}

	fmt.Printf("%s Queued job %s (%s, priority %s)\n", sym.Queue, job.ID, job.Category, job.Priority)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	if queueListStatus != "" && !queue.IsValidStatus(queueListStatus) {
		return errors.NewInvalidRequestError(fmt.Sprintf("unknown status %q (queued, running, paused, completed, failed, cancelled)", queueListStatus))
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	jobs, err := q.ListJobs(queueListStatus, queueListLimit)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(jobs)
	}

	if len(jobs) == 0 {
		fmt.Printf("%s No jobs found\n", sym.Queue)
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			string(job.Status),
			string(job.Priority),
			string(job.Category),
			job.CreatedAt.Format("2006-01-02 15:04"),
			util.Truncate(job.Description, 40),
		})
	}
	display.Table(os.Stdout, []string{"JOB ID", "STATUS", "PRIORITY", "CATEGORY", "CREATED", "DESCRIPTION"}, rows)
	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	job, err := q.Get(args[0])
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(job)
	}

	fmt.Printf("%s Job %s\n", sym.Queue, job.ID)
	fmt.Printf("  Handler:  %s\n", job.HandlerName)
	fmt.Printf("  Source:   %s\n", job.Source)
	fmt.Printf("  Status:   %s\n", job.Status)
	fmt.Printf("  Priority: %s\n", job.Priority)
	fmt.Printf("  Category: %s\n", job.Category)
	if job.Description != "" {
		fmt.Printf("  Request:  %s\n", util.Truncate(job.Description, 120))
	}
	if job.Progress != "" {
		fmt.Printf("  Progress: %s\n", job.Progress)
	}
	if job.RetryCount > 0 {
		fmt.Printf("  Retries:  %d\n", job.RetryCount)
	}
	if job.Error != "" {
		fmt.Printf("  Error:    %s\n", job.Error)
	}
	fmt.Printf("\n")

	fmt.Printf("Cost estimate: $%.3f\n", job.CostEstimate)
	if job.CostActual > 0 {
		fmt.Printf("Actual cost:   $%.4f\n", job.CostActual)
	}
	fmt.Printf("\n")

	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	if preview, ok := job.State["reply_preview"].(string); ok && preview != "" {
		fmt.Printf("\nReply preview:\n  %s\n", preview)
	}
	if path, ok := job.State["reply_path"].(string); ok && path != "" {
		fmt.Printf("Full reply: %s\n", path)
	}
	return nil
}

func runQueueCancel(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	if err := q.Cancel(args[0], "cancelled from the command line"); err != nil {
		return err
	}

	fmt.Printf("%s Job %s cancelled\n", sym.Queue, args[0])
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	if err := q.Retry(args[0]); err != nil {
		return err
	}

	fmt.Printf("%s Job %s re-queued\n", sym.Queue, args[0])
	return nil
}

func runQueueProcess(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ws := workspace.New(cfg)
	if err := ws.Ensure(); err != nil {
		return errors.Wrap(err, "failed to create workspace directories")
	}

	lock, err := workspace.AcquireLock(ws.LockPath())
	if err != nil {
		if errors.IsLockedError(err) {
			return errors.WithHint(err, "another roost process is dispatching (daemon running?); skipping this run")
		}
		return err
	}
	defer lock.Release()

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	rt := buildJobRuntime(cfg, database, ws)
	poolCfg := queue.PoolConfigFromAM(cfg)
	tracker := budget.NewTracker(database, budget.ConfigFromAM(cfg))
	limiter := budget.NewLimiter(cfg.Queue.MaxDispatchPerMinute)

	pool := queue.NewWorkerPoolWithRegistry(ctx, database, cfg, poolCfg, logger.Logger, rt.registry, tracker, limiter)

	processed, err := pool.Drain(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Printf("%s Interrupted after %d job(s)\n", sym.Queue, processed)
			return nil
		}
		return errors.Wrap(err, "queue processing failed")
	}

	fmt.Printf("%s Processed %d job(s)\n", sym.Queue, processed)
	return nil
}
