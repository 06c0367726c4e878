package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/agent"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue/schedule"
	"github.com/roostlabs/roost/sym"
)

// ScheduleCmd groups recurring job operations
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Watch + " Manage recurring jobs",
	Long: sym.Watch + ` schedule — Manage jobs the daemon runs on an interval.

Each scheduled job enqueues a regular queue job when due, so scheduled work
flows through the same priorities, budgets, and retries as everything else.
The daemon seeds an autosave sweep and, when configured, a daily briefing.

Commands:
  roost schedule list            # List scheduled jobs
  roost schedule add             # Add a recurring job
  roost schedule pause <id>      # Stop a job from running
  roost schedule resume <id>     # Put a paused job back on schedule`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE:  runScheduleList,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a recurring job",
	Long: `Add a recurring job. Either --prompt names a stored prompt document to
render on each run, or --payload supplies raw handler JSON.

Examples:
  roost schedule add --name briefing --prompt daily-briefing --every 24h
  roost schedule add --name sweep --handler repos.save --payload '{"all":true}' --every 1h`,
	RunE: runScheduleAdd,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulePause,
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleResume,
}

var (
	scheduleAddName    string
	scheduleAddHandler string
	scheduleAddPrompt  string
	scheduleAddPayload string
	scheduleAddEvery   time.Duration
)

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleAddName, "name", "", "Display name for the job")
	scheduleAddCmd.Flags().StringVar(&scheduleAddHandler, "handler", agent.HandlerName, "Handler to run (agent.prompt, repos.save)")
	scheduleAddCmd.Flags().StringVar(&scheduleAddPrompt, "prompt", "", "Stored prompt document to render each run")
	scheduleAddCmd.Flags().StringVar(&scheduleAddPayload, "payload", "", "Raw handler payload JSON")
	scheduleAddCmd.Flags().DurationVar(&scheduleAddEvery, "every", time.Hour, "Run interval (e.g. 30m, 1h, 24h)")

	ScheduleCmd.AddCommand(scheduleListCmd)
	ScheduleCmd.AddCommand(scheduleAddCmd)
	ScheduleCmd.AddCommand(schedulePauseCmd)
	ScheduleCmd.AddCommand(scheduleResumeCmd)
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	jobs, err := store.ListJobs()
	if err != nil {
		return errors.Wrap(err, "failed to list scheduled jobs")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(jobs)
	}

	if len(jobs) == 0 {
		fmt.Printf("%s No scheduled jobs (the daemon seeds them on start)\n", sym.Watch)
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		nextRun := "-"
		if job.NextRunAt != nil {
			nextRun = job.NextRunAt.Format("2006-01-02 15:04")
		}
		lastRun := "never"
		if job.LastRunAt != nil {
			lastRun = job.LastRunAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			job.ID,
			job.DisplayName(),
			job.HandlerName,
			job.Interval().String(),
			job.State,
			nextRun,
			lastRun,
		})
	}
	display.Table(os.Stdout, []string{"ID", "NAME", "HANDLER", "EVERY", "STATE", "NEXT RUN", "LAST RUN"}, rows)
	fmt.Printf("\nTotal: %d scheduled job(s)\n", len(jobs))
	return nil
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	if scheduleAddPrompt != "" && scheduleAddPayload != "" {
		return errors.NewInvalidRequestError("--prompt and --payload are mutually exclusive")
	}

	var payload json.RawMessage
	switch {
	case scheduleAddPrompt != "":
		data, err := json.Marshal(agent.Payload{PromptDoc: scheduleAddPrompt})
		if err != nil {
			return errors.Wrap(err, "failed to encode payload")
		}
		payload = data
	case scheduleAddPayload != "":
		if !json.Valid([]byte(scheduleAddPayload)) {
			return errors.NewInvalidRequestError("--payload must be valid JSON")
		}
		payload = json.RawMessage(scheduleAddPayload)
	default:
		return errors.NewInvalidRequestError("one of --prompt or --payload is required")
	}

	job, err := schedule.NewJob(scheduleAddName, scheduleAddHandler, payload, "", int(scheduleAddEvery.Seconds()))
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	if err := store.CreateJob(job); err != nil {
		return errors.Wrap(err, "failed to create scheduled job")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(job)
	}

	fmt.Printf("%s Scheduled %s every %s (id %s)\n", sym.Watch, job.DisplayName(), job.Interval(), job.ID)
	return nil
}

func runSchedulePause(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	if err := store.UpdateJobState(args[0], schedule.StatePaused); err != nil {
		return err
	}

	fmt.Printf("%s Scheduled job %s paused\n", sym.Watch, args[0])
	return nil
}

func runScheduleResume(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	if err := store.UpdateJobState(args[0], schedule.StateActive); err != nil {
		return err
	}

	fmt.Printf("%s Scheduled job %s resumed\n", sym.Watch, args[0])
	return nil
}
