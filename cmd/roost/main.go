package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/cmd/roost/commands"
	"github.com/roostlabs/roost/logger"
)

var rootCmd = &cobra.Command{
	Use:   "roost",
	Short: "roost - workspace keeper for a resident agent",
	Long: `roost - the nest a resident AI agent works from.

roost keeps a workspace of git repositories, a prioritized job queue, a
scheduler for recurring work, and a prompt library. Work flows in over the
CLI, the HTTP/WebSocket API, or MCP, and out to the agent gateway.

Available commands:
  init     - Prepare the workspace (directories, key, identity, prompts)
  clone    - Register and clone a repository into the workspace
  repos    - List registered repositories
  save     - Commit and push repository changes
  queue    - Add, inspect, and process background jobs
  schedule - Manage recurring jobs
  start    - Run the daemon (workers + scheduler + API server)
  doctor   - Audit workspace health
  usage    - Show AI usage, cost, and budget headroom
  prompt   - Manage the prompt library
  config   - Show and set configuration
  mcp      - Serve roost tools over MCP stdio

Examples:
  roost init                          # First-time workspace setup
  roost clone git@host:org/notes.git  # Register a repository
  roost queue add "fix the tests"     # Queue work for the agent
  roost start                         # Run the daemon in foreground
  roost queue process                 # One-shot drain (cron mode)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
			if _, err := am.UseConfigFile(cfgFile); err != nil {
				return err
			}
		}

		verbosity, _ := cmd.Flags().GetCount("verbosity")
		jsonLogs := false
		if cfg, err := am.Load(); err == nil {
			jsonLogs = cfg.Logging.JSON
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbosity", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output results as JSON")
	rootCmd.PersistentFlags().String("config", "", "Use a single config file instead of the merge cascade")

	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.KeygenCmd)
	rootCmd.AddCommand(commands.CloneCmd)
	rootCmd.AddCommand(commands.ReposCmd)
	rootCmd.AddCommand(commands.SaveCmd)
	rootCmd.AddCommand(commands.PullCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.DoctorCmd)
	rootCmd.AddCommand(commands.UsageCmd)
	rootCmd.AddCommand(commands.PromptCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.McpCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
