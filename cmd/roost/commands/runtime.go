package commands

import (
	"database/sql"

	"github.com/roostlabs/roost/agent"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/logger"
	"github.com/roostlabs/roost/prompt"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/repos"
	"github.com/roostlabs/roost/workspace"
)

// jobRuntime bundles the pieces the daemon and the one-shot processor share:
// the handler registry plus the stores its handlers hang off.
type jobRuntime struct {
	registry *queue.HandlerRegistry
	manager  *repos.Manager
	prompts  *prompt.Store
}

// buildJobRuntime wires the agent.prompt and repos.save handlers. A prompt
// library that fails to load is reported and treated as empty; raw-text
// prompts still work without it.
func buildJobRuntime(cfg *am.Config, database *sql.DB, ws *workspace.Workspace) *jobRuntime {
	q := queue.NewQueue(database)

	reposStore := repos.NewStore(database)
	manager := repos.NewManager(reposStore, ws, cfg, logger.Logger)

	prompts := prompt.NewStore(ws.PromptsDir, logger.Logger)
	if err := prompts.Load(); err != nil {
		logger.Warnw("Failed to load prompt library", "dir", ws.PromptsDir, "error", err)
	}

	registry := queue.NewHandlerRegistry()
	registry.Register(agent.NewPromptHandler(cfg, q, prompts, ws.RepliesDir(), database, logger.Logger))
	registry.Register(repos.NewSaveHandler(manager, q, logger.Logger))

	return &jobRuntime{
		registry: registry,
		manager:  manager,
		prompts:  prompts,
	}
}
