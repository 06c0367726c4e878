package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/mcpserver"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/repos"
	"github.com/roostlabs/roost/workspace"
)

// McpCmd serves roost tools over MCP stdio
var McpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve roost tools over MCP stdio",
	Long: `mcp — Serve roost tools to the agent over the Model Context Protocol.

Runs an MCP server on stdin/stdout exposing queue_add, queue_list,
queue_status, queue_cancel, repo_save, and prompt_send, so the agent can
manage its own backlog and save its own work. Jobs added here are picked up
by the daemon or the next 'roost queue process' run; this command never
dispatches work itself.

Stdout carries the protocol, so all logging goes to stderr.

Example MCP client configuration:
  { "command": "roost", "args": ["mcp"] }`,
	RunE: runMcp,
}

func runMcp(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ws := workspace.New(cfg)
	if err := ws.Ensure(); err != nil {
		return errors.Wrap(err, "failed to create workspace directories")
	}

	q := queue.NewQueue(database)
	manager := repos.NewManager(repos.NewStore(database), ws, cfg, logger.Logger)

	srv := mcpserver.New(q, manager, ws, logger.Logger)
	logger.Infow("MCP server listening on stdio")
	return srv.Serve()
}
