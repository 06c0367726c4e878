package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/ai/delegate"
	"github.com/roostlabs/roost/ai/openrouter"
	"github.com/roostlabs/roost/ai/provider"
	"github.com/roostlabs/roost/ai/tracker"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/internal/util"
	"github.com/roostlabs/roost/prompt"
	"github.com/roostlabs/roost/queue"
)

// HandlerName is the registered queue handler name for prompt dispatch.
const HandlerName = "agent.prompt"

// replyPreviewRunes caps the reply excerpt stored in job state. The full
// reply goes to a file.
const replyPreviewRunes = 280

// Payload is the agent.prompt job payload. Either PromptDoc names a stored
// prompt document to render, or Description carries the raw prompt text.
type Payload struct {
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	PromptDoc   string            `json:"prompt_doc,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`

	// Since is set by the schedule ticker ("last_run" substitution) and
	// merged into Variables under the same name.
	Since string `json:"since,omitempty"`
}

// gatewayDispatcher is the gateway surface the handler needs. Split from
// *Client for tests.
type gatewayDispatcher interface {
	SendPrompt(ctx context.Context, req *PromptRequest) (*PromptResponse, error)
}

// modelDispatcher is the delegation surface the handler needs.
type modelDispatcher interface {
	Execute(ctx context.Context, category string, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// PromptHandler executes agent.prompt jobs: render the prompt, dispatch it
// to the gateway or a model, record cost, and persist the reply.
type PromptHandler struct {
	config     *am.Config
	queue      *queue.Queue
	prompts    *prompt.Store
	repliesDir string
	db         *sql.DB
	logger     *zap.SugaredLogger

	// Dispatch seams. Production uses the real gateway client and a
	// per-job delegator; tests swap these.
	gateway     gatewayDispatcher
	newDelegate func(job *queue.Job) modelDispatcher
}

// NewPromptHandler wires the handler. repliesDir is where full replies land,
// normally <workspace>/state/replies.
func NewPromptHandler(cfg *am.Config, q *queue.Queue, prompts *prompt.Store, repliesDir string, db *sql.DB, logger *zap.SugaredLogger) *PromptHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	h := &PromptHandler{
		config:     cfg,
		queue:      q,
		prompts:    prompts,
		repliesDir: repliesDir,
		db:         db,
		logger:     logger,
		gateway:    NewClient(&cfg.Agent, logger),
	}
	h.newDelegate = func(job *queue.Job) modelDispatcher {
		// The provider client is built per job so usage rows carry the
		// job ID.
		client := provider.NewAIClientWithProvider(cfg, provider.ProviderAuto, provider.ClientConfig{
			DB:            db,
			Logger:        logger,
			OperationType: HandlerName,
			EntityType:    "job",
			EntityID:      job.ID,
		})
		return delegate.NewDelegator(client, cfg, logger)
	}
	return h
}

// Name implements queue.JobHandler.
func (h *PromptHandler) Name() string {
	return HandlerName
}

// Execute implements queue.JobHandler.
func (h *PromptHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload Payload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errors.Wrapf(err, "failed to decode prompt payload for job %s", job.ID)
		}
	}

	vars := make(map[string]string, len(payload.Variables)+1)
	for k, v := range payload.Variables {
		vars[k] = v
	}
	if payload.Since != "" {
		if _, bound := vars["since"]; !bound {
			vars["since"] = payload.Since
		}
	}

	promptText, doc, err := h.renderPrompt(job, &payload, vars)
	if err != nil {
		return err
	}

	category := payload.Category
	if category == "" && doc != nil {
		category = doc.Metadata.Category
	}
	if category == "" {
		category = string(job.Category)
	}

	job.UpdateProgress("awaiting reply")
	if err := h.queue.Update(job); err != nil {
		h.logger.Warnw("Failed to persist job progress", "job_id", job.ID, "error", err)
	}

	start := time.Now()
	var reply, model string
	var cost float64

	if h.config.Agent.Enabled {
		resp, err := h.gateway.SendPrompt(ctx, &PromptRequest{
			JobID:    job.ID,
			Prompt:   promptText,
			Category: category,
			Priority: string(job.Priority),
			Metadata: map[string]string{"source": job.Source},
		})
		if err != nil {
			return errors.Wrapf(err, "gateway dispatch failed for job %s", job.ID)
		}
		reply, model, cost = resp.Reply, resp.Model, resp.Usage.CostUSD
		h.trackGatewayUsage(job, resp, start)
	} else {
		chatReq := openrouter.ChatRequest{UserPrompt: promptText}
		if doc != nil {
			if doc.Metadata.Model != "" {
				chatReq.Model = &doc.Metadata.Model
			}
			chatReq.Temperature = doc.Metadata.Temperature
			chatReq.MaxTokens = doc.Metadata.MaxTokens
		}

		resp, err := h.newDelegate(job).Execute(ctx, category, chatReq)
		if err != nil {
			return err
		}
		reply, model = resp.Content, resp.Model
		// The provider client already wrote the usage row; local inference
		// is free.
		if !h.config.LocalInference.Enabled {
			cost = openrouter.CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
	}

	job.RecordCost(cost)
	job.SetState("model", model)
	job.SetState("reply_preview", util.Truncate(reply, replyPreviewRunes))
	job.UpdateProgress("reply received")

	if path, err := h.writeReply(job, category, model, cost, reply); err != nil {
		// The reply was produced and billed; losing the file copy should
		// not fail (and re-bill) the job.
		h.logger.Warnw("Failed to write reply file", "job_id", job.ID, "error", err)
	} else if path != "" {
		job.SetState("reply_path", path)
	}

	if err := h.queue.Update(job); err != nil {
		return errors.Wrapf(err, "failed to persist reply state for job %s", job.ID)
	}

	h.logger.Infow("Prompt job completed",
		"job_id", job.ID,
		"category", category,
		"model", model,
		"cost_usd", cost,
		"reply_chars", len(reply))
	return nil
}

// renderPrompt resolves the prompt text: a rendered document when the
// payload names one, the raw description otherwise.
func (h *PromptHandler) renderPrompt(job *queue.Job, payload *Payload, vars map[string]string) (string, *prompt.Document, error) {
	if payload.PromptDoc != "" {
		// Reload so edits to the prompts directory take effect without a
		// daemon restart.
		if err := h.prompts.Load(); err != nil {
			return "", nil, errors.Wrap(err, "failed to load prompt documents")
		}
		doc, err := h.prompts.Get(payload.PromptDoc)
		if err != nil {
			return "", nil, errors.Wrapf(err, "job %s", job.ID)
		}
		if err := doc.CheckRequires(); err != nil {
			return "", nil, err
		}
		text, err := doc.Render(vars)
		if err != nil {
			return "", nil, errors.Wrapf(err, "failed to render prompt %q", payload.PromptDoc)
		}
		return text, doc, nil
	}

	text := payload.Description
	if text == "" {
		text = job.Description
	}
	if text == "" {
		return "", nil, errors.New("prompt job has neither prompt_doc nor description")
	}
	return text, nil, nil
}

// writeReply persists the full reply as a markdown file named after the job.
func (h *PromptHandler) writeReply(job *queue.Job, category, model string, cost float64, reply string) (string, error) {
	if h.repliesDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(h.repliesDir, am.DefaultDirPermissions); err != nil {
		return "", errors.Wrapf(err, "failed to create replies directory %s", h.repliesDir)
	}

	content := fmt.Sprintf(`---
job: %s
category: %s
model: %s
cost_usd: %.6f
created: %s
---
%s
`, job.ID, category, model, cost, time.Now().UTC().Format(time.RFC3339), reply)

	path := filepath.Join(h.repliesDir, job.ID+".md")
	if err := os.WriteFile(path, []byte(content), am.DefaultFilePermissions); err != nil {
		return "", errors.Wrapf(err, "failed to write reply to %s", path)
	}
	return path, nil
}

// trackGatewayUsage lands a usage row for a gateway dispatch. The direct
// provider path records its own rows; this covers the gateway's.
func (h *PromptHandler) trackGatewayUsage(job *queue.Job, resp *PromptResponse, start time.Time) {
	if h.db == nil {
		return
	}

	model := resp.Model
	if model == "" {
		model = "agent-gateway"
	}
	now := time.Now()
	total := resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	usage := &tracker.ModelUsage{
		OperationType:     HandlerName,
		EntityType:        "job",
		EntityID:          job.ID,
		ModelName:         model,
		ModelProvider:     "gateway",
		RequestTimestamp:  start,
		ResponseTimestamp: &now,
		PromptTokens:      &resp.Usage.PromptTokens,
		CompletionTokens:  &resp.Usage.CompletionTokens,
		TotalTokens:       &total,
		Cost:              &resp.Usage.CostUSD,
		Success:           true,
	}
	if err := tracker.NewUsageTracker(h.db).TrackUsage(usage); err != nil {
		h.logger.Warnw("Failed to record gateway usage", "job_id", job.ID, "error", err)
	}
}
