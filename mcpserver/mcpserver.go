// Package mcpserver exposes roost over the Model Context Protocol so the
// resident agent can manage its own backlog: queue tools for adding,
// inspecting, and cancelling jobs, plus repo saves and prompt dispatch.
// It serves on stdio via `roost mcp`.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/roostlabs/roost/agent"
	"github.com/roostlabs/roost/internal/util"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/repos"
	"github.com/roostlabs/roost/version"
	"github.com/roostlabs/roost/workspace"
)

// Server bridges MCP tool calls onto the queue and repos manager.
type Server struct {
	queue  *queue.Queue
	repos  *repos.Manager
	ws     *workspace.Workspace
	server *server.MCPServer
	logger *zap.SugaredLogger
}

// New wires the MCP tool surface. The workspace is used only to name the
// replies directory in tool output and may be nil.
func New(q *queue.Queue, manager *repos.Manager, ws *workspace.Workspace, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		queue:  q,
		repos:  manager,
		ws:     ws,
		logger: logger,
	}

	s.server = server.NewMCPServer(
		"roost",
		version.Get().Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// registerTools declares the tool schemas and binds their handlers.
func (s *Server) registerTools() {
	queueAdd := mcp.NewTool("queue_add",
		mcp.WithDescription("Add a task to roost's job queue. The daemon dispatches it to the agent when a worker is free."),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What the task should accomplish"),
		),
		mcp.WithString("category",
			mcp.Description("Task category: bug, feature, test, docs, chore, or research (default: chore)"),
		),
		mcp.WithString("priority",
			mcp.Description("Queue priority: critical, high, medium, or low (default: medium)"),
		),
	)
	s.server.AddTool(queueAdd, s.handleQueueAdd)

	queueList := mcp.NewTool("queue_list",
		mcp.WithDescription("List jobs in roost's queue, newest first"),
		mcp.WithString("status",
			mcp.Description("Filter by status: queued, running, paused, completed, failed, or cancelled"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of jobs to return (default: 20)"),
		),
	)
	s.server.AddTool(queueList, s.handleQueueList)

	queueStatus := mcp.NewTool("queue_status",
		mcp.WithDescription("Show one job's status, progress, and cost"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID, as returned by queue_add or queue_list"),
		),
	)
	s.server.AddTool(queueStatus, s.handleQueueStatus)

	queueCancel := mcp.NewTool("queue_cancel",
		mcp.WithDescription("Cancel a queued or running job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job ID to cancel"),
		),
	)
	s.server.AddTool(queueCancel, s.handleQueueCancel)

	repoSave := mcp.NewTool("repo_save",
		mcp.WithDescription("Commit and push a registered repository's changes. Without a repo name, saves every registered repository."),
		mcp.WithString("repo",
			mcp.Description("Repository name; omit to save all"),
		),
		mcp.WithString("message",
			mcp.Description("Commit message override"),
		),
	)
	s.server.AddTool(repoSave, s.handleRepoSave)

	promptSend := mcp.NewTool("prompt_send",
		mcp.WithDescription("Send a prompt to the agent as a high-priority job. The reply is written to the workspace replies directory."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Prompt text to dispatch"),
		),
		mcp.WithString("category",
			mcp.Description("Delegation category for model selection"),
		),
	)
	s.server.AddTool(promptSend, s.handlePromptSend)
}

func (s *Server) handleQueueAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	description, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	category := request.GetString("category", string(queue.CategoryChore))
	priority := request.GetString("priority", string(queue.PriorityMedium))

	payload, err := json.Marshal(agent.Payload{
		Description: description,
		Category:    category,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode payload: %v", err)), nil
	}

	job, err := queue.NewJob(agent.HandlerName, payload, "mcp",
		queue.WithCategory(queue.Category(category)),
		queue.WithPriority(queue.Priority(priority)),
		queue.WithDescription(description),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.queue.Enqueue(job); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to enqueue job: %v", err)), nil
	}

	s.logger.Infow("Job enqueued via MCP", "job_id", job.ID, "category", category, "priority", priority)
	return mcp.NewToolResultText(fmt.Sprintf("Queued job %s (%s, priority %s)", job.ID, category, priority)), nil
}

func (s *Server) handleQueueList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := request.GetString("status", "")
	limit := request.GetInt("limit", 20)

	jobs, err := s.queue.ListJobs(status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list jobs: %v", err)), nil
	}
	if len(jobs) == 0 {
		if status != "" {
			return mcp.NewToolResultText(fmt.Sprintf("No %s jobs", status)), nil
		}
		return mcp.NewToolResultText("Queue is empty"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d job(s):\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(&b, "- %s [%s, %s] %s", job.ID, job.Status, job.Priority, job.HandlerName)
		if job.Description != "" {
			fmt.Fprintf(&b, ": %s", util.Truncate(job.Description, 80))
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleQueueStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, err := s.queue.Get(jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get job: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", job.ID)
	fmt.Fprintf(&b, "  handler:  %s\n", job.HandlerName)
	fmt.Fprintf(&b, "  status:   %s\n", job.Status)
	fmt.Fprintf(&b, "  priority: %s\n", job.Priority)
	if job.Description != "" {
		fmt.Fprintf(&b, "  task:     %s\n", job.Description)
	}
	if job.Progress != "" {
		fmt.Fprintf(&b, "  progress: %s\n", job.Progress)
	}
	if job.Error != "" {
		fmt.Fprintf(&b, "  error:    %s\n", job.Error)
	}
	if job.CostActual > 0 {
		fmt.Fprintf(&b, "  cost:     $%.4f\n", job.CostActual)
	}
	fmt.Fprintf(&b, "  created:  %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(&b, "  finished: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleQueueCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.queue.Cancel(jobID, "cancelled via MCP"); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel job: %v", err)), nil
	}

	s.logger.Infow("Job cancelled via MCP", "job_id", jobID)
	return mcp.NewToolResultText(fmt.Sprintf("Cancelled job %s", jobID)), nil
}

func (s *Server) handleRepoSave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("repo", "")
	message := request.GetString("message", "")

	if name != "" {
		result, err := s.repos.Save(ctx, name, message)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to save %s: %v", name, err)), nil
		}
		return mcp.NewToolResultText(formatSaveResult(result)), nil
	}

	results, err := s.repos.SaveAll(ctx, message)
	if len(results) == 0 {
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to save repositories: %v", err)), nil
		}
		return mcp.NewToolResultText("No repositories registered"), nil
	}

	var b strings.Builder
	for _, result := range results {
		b.WriteString(formatSaveResult(result))
		b.WriteByte('\n')
	}
	if err != nil {
		// SaveAll joins per-repo failures; the successful saves above
		// still happened.
		fmt.Fprintf(&b, "Some saves failed: %v\n", err)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handlePromptSend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	promptText, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	category := request.GetString("category", "")

	payload, err := json.Marshal(agent.Payload{
		Description: promptText,
		Category:    category,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode payload: %v", err)), nil
	}

	// Prompts jump the backlog: the caller is waiting on the reply.
	job, err := queue.NewJob(agent.HandlerName, payload, "mcp",
		queue.WithPriority(queue.PriorityHigh),
		queue.WithDescription(util.Truncate(promptText, 120)),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.queue.Enqueue(job); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to enqueue prompt: %v", err)), nil
	}

	s.logger.Infow("Prompt enqueued via MCP", "job_id", job.ID)

	reply := fmt.Sprintf("%s.md in the workspace replies directory", job.ID)
	if s.ws != nil {
		reply = fmt.Sprintf("%s/%s.md", s.ws.RepliesDir(), job.ID)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Prompt queued as job %s; the reply will be written to %s", job.ID, reply)), nil
}

// formatSaveResult renders one repository save outcome.
func formatSaveResult(result *repos.SaveResult) string {
	if !result.Committed {
		return fmt.Sprintf("%s: clean, nothing to save", result.Repo)
	}
	hash := result.CommitHash
	if len(hash) > 7 {
		hash = hash[:7]
	}
	state := "pushed"
	if !result.Pushed {
		state = "not pushed"
	}
	return fmt.Sprintf("%s: committed %s (%d file(s), %s)", result.Repo, hash, result.Files, state)
}

// Serve runs the MCP server over stdio until the client disconnects.
func (s *Server) Serve() error {
	s.logger.Infow("MCP server listening on stdio")
	return server.ServeStdio(s.server)
}
