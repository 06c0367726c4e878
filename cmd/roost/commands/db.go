package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/queue/schedule"
	"github.com/roostlabs/roost/sym"
)

// DbCmd groups database maintenance operations
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the roost database",
	Long: sym.DB + ` db — Inspect and maintain the roost database.

Examples:
  roost db stats                  # Show record counts and storage health
  roost db cleanup                # Prune old completed jobs and executions
  roost db cleanup --days 7      # Prune records older than 7 days`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display record counts for jobs, schedules, repositories, and AI usage",
	RunE:  runDbStats,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old completed jobs and schedule executions",
	Long: `Delete completed, failed, and cancelled jobs older than the retention
window, along with old schedule execution records. Queued, running, and
paused jobs are never touched.`,
	RunE: runDbCleanup,
}

var dbCleanupDays int

func init() {
	dbCleanupCmd.Flags().IntVar(&dbCleanupDays, "days", 30, "Retention window in days")

	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database)
	stats, err := q.GetStats()
	if err != nil {
		return errors.Wrap(err, "failed to query job stats")
	}

	var scheduledJobs, executions, registeredRepos, usageRows int
	counts := []struct {
		table string
		dest  *int
	}{
		{"scheduled_jobs", &scheduledJobs},
		{"scheduled_job_executions", &executions},
		{"repos", &registeredRepos},
		{"ai_model_usage", &usageRows},
	}
	for _, c := range counts {
		if err := database.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dest); err != nil {
			return errors.Wrapf(err, "failed to count %s", c.table)
		}
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n\n", resolvedDatabasePath())

	fmt.Printf("Jobs (%d total):\n", stats.Total)
	fmt.Printf("  Queued:     %d\n", stats.Queued)
	fmt.Printf("  Running:    %d\n", stats.Running)
	fmt.Printf("  Paused:     %d\n", stats.Paused)
	fmt.Printf("  Completed:  %d\n", stats.Completed)
	fmt.Printf("  Failed:     %d\n", stats.Failed)
	fmt.Printf("  Cancelled:  %d\n", stats.Cancelled)
	fmt.Println()

	fmt.Printf("Scheduled jobs:      %d (%d recorded executions)\n", scheduledJobs, executions)
	fmt.Printf("Registered repos:    %d\n", registeredRepos)
	fmt.Printf("AI usage records:    %d\n", usageRows)

	return nil
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	if dbCleanupDays < 1 {
		return fmt.Errorf("--days must be at least 1, got %d", dbCleanupDays)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	cutoff := time.Now().AddDate(0, 0, -dbCleanupDays)

	q := queue.NewQueue(database)
	jobsPruned, err := q.Cleanup(cutoff)
	if err != nil {
		return errors.Wrap(err, "failed to prune old jobs")
	}

	execStore := schedule.NewExecutionStore(database)
	execsPruned, err := execStore.CleanupOldExecutions(dbCleanupDays)
	if err != nil {
		return errors.Wrap(err, "failed to prune old executions")
	}

	fmt.Printf("%s Pruned %d finished jobs and %d schedule executions older than %d days\n",
		sym.DB, jobsPruned, execsPruned, dbCleanupDays)
	return nil
}
