package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roostlabs/roost/ai/openrouter"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	roosttest "github.com/roostlabs/roost/internal/testing"
	"github.com/roostlabs/roost/prompt"
	"github.com/roostlabs/roost/queue"
)

type fakeGateway struct {
	req  *PromptRequest
	resp *PromptResponse
	err  error
}

func (f *fakeGateway) SendPrompt(_ context.Context, req *PromptRequest) (*PromptResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeDelegator struct {
	category string
	req      openrouter.ChatRequest
	resp     *openrouter.ChatResponse
	err      error
}

func (f *fakeDelegator) Execute(_ context.Context, category string, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	f.category = category
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type handlerFixture struct {
	h          *PromptHandler
	q          *queue.Queue
	db         *sql.DB
	cfg        *am.Config
	promptDir  string
	repliesDir string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	db := roosttest.CreateMigratedTestDB(t)
	q := queue.NewQueue(db)
	promptDir := t.TempDir()
	repliesDir := filepath.Join(t.TempDir(), "replies")

	cfg := &am.Config{}
	cfg.Agent.Enabled = true

	h := NewPromptHandler(cfg, q, prompt.NewStore(promptDir, nil), repliesDir, db, zap.NewNop().Sugar())
	return &handlerFixture{h: h, q: q, db: db, cfg: cfg, promptDir: promptDir, repliesDir: repliesDir}
}

// enqueue persists a job so the handler's state updates have a row to land on,
// the same way the worker pool hands jobs over.
func (f *handlerFixture) enqueue(t *testing.T, payload any, opts ...queue.JobOption) *queue.Job {
	t.Helper()

	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	job, err := queue.NewJob(HandlerName, raw, "test:prompt", opts...)
	require.NoError(t, err)
	require.NoError(t, f.q.Enqueue(job))
	return job
}

func writePromptDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644))
}

func TestPromptHandlerName(t *testing.T) {
	f := newHandlerFixture(t)
	assert.Equal(t, "agent.prompt", f.h.Name())
}

func TestExecuteGatewayPath(t *testing.T) {
	f := newHandlerFixture(t)
	gw := &fakeGateway{resp: &PromptResponse{
		Reply: "Rayleigh scattering favors short wavelengths.",
		Model: "anthropic/claude-sonnet-4",
		Usage: Usage{PromptTokens: 12, CompletionTokens: 48, CostUSD: 0.0031},
	}}
	f.h.gateway = gw

	job := f.enqueue(t, Payload{Description: "why is the sky blue?", Category: "research"},
		queue.WithCategory(queue.CategoryResearch), queue.WithPriority(queue.PriorityHigh))

	require.NoError(t, f.h.Execute(context.Background(), job))

	require.NotNil(t, gw.req, "gateway was never called")
	assert.Equal(t, job.ID, gw.req.JobID)
	assert.Equal(t, "why is the sky blue?", gw.req.Prompt)
	assert.Equal(t, "research", gw.req.Category)
	assert.Equal(t, "high", gw.req.Priority)
	assert.Equal(t, "test:prompt", gw.req.Metadata["source"])

	got, err := f.q.Get(job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0031, got.CostActual, 1e-9)
	assert.Equal(t, "anthropic/claude-sonnet-4", got.State["model"])
	assert.Equal(t, "Rayleigh scattering favors short wavelengths.", got.State["reply_preview"])
	assert.Equal(t, "reply received", got.Progress)

	replyPath, ok := got.State["reply_path"].(string)
	require.True(t, ok, "reply_path missing from job state")
	content, err := os.ReadFile(replyPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "job: "+job.ID)
	assert.Contains(t, string(content), "category: research")
	assert.Contains(t, string(content), "model: anthropic/claude-sonnet-4")
	assert.Contains(t, string(content), "cost_usd: 0.003100")
	assert.Contains(t, string(content), "Rayleigh scattering favors short wavelengths.")
}

func TestExecuteGatewayRecordsUsage(t *testing.T) {
	f := newHandlerFixture(t)
	f.h.gateway = &fakeGateway{resp: &PromptResponse{
		Reply: "done",
		Model: "anthropic/claude-sonnet-4",
		Usage: Usage{PromptTokens: 100, CompletionTokens: 20, CostUSD: 0.002},
	}}

	job := f.enqueue(t, Payload{Description: "ping"})
	require.NoError(t, f.h.Execute(context.Background(), job))

	var (
		opType, entityID, model, provider string
		totalTokens                       int
		cost                              float64
		success                           bool
	)
	row := f.db.QueryRow(`
		SELECT operation_type, entity_id, model_name, model_provider,
		       total_tokens, cost, success
		FROM ai_model_usage`)
	require.NoError(t, row.Scan(&opType, &entityID, &model, &provider, &totalTokens, &cost, &success))

	assert.Equal(t, "agent.prompt", opType)
	assert.Equal(t, job.ID, entityID)
	assert.Equal(t, "anthropic/claude-sonnet-4", model)
	assert.Equal(t, "gateway", provider)
	assert.Equal(t, 120, totalTokens)
	assert.InDelta(t, 0.002, cost, 1e-9)
	assert.True(t, success)
}

func TestExecuteGatewayError(t *testing.T) {
	f := newHandlerFixture(t)
	f.h.gateway = &fakeGateway{err: errors.New("agent gateway returned status 503: restarting")}

	job := f.enqueue(t, Payload{Description: "ping"})
	err := f.h.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway dispatch failed")
	assert.Contains(t, err.Error(), "status 503")
}

func TestExecuteDelegationPath(t *testing.T) {
	f := newHandlerFixture(t)
	f.cfg.Agent.Enabled = false

	writePromptDoc(t, f.promptDir, "triage", `---
name: triage
description: Triage a reported problem
category: bug
model: openai/gpt-4o-mini
temperature: 0.2
max_tokens: 256
variables:
  - description
---
Investigate and triage: {{description}}
`)

	fake := &fakeDelegator{resp: &openrouter.ChatResponse{
		Content: "Looks like a nil map write in the config watcher.",
		Model:   "openai/gpt-4o-mini",
		Usage:   openrouter.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}}
	f.h.newDelegate = func(*queue.Job) modelDispatcher { return fake }

	job := f.enqueue(t, Payload{
		PromptDoc: "triage",
		Variables: map[string]string{"description": "crash on startup"},
	})
	require.NoError(t, f.h.Execute(context.Background(), job))

	// The document's category and tuning pin the request.
	assert.Equal(t, "bug", fake.category)
	require.NotNil(t, fake.req.Model)
	assert.Equal(t, "openai/gpt-4o-mini", *fake.req.Model)
	require.NotNil(t, fake.req.Temperature)
	assert.InDelta(t, 0.2, *fake.req.Temperature, 1e-9)
	require.NotNil(t, fake.req.MaxTokens)
	assert.Equal(t, 256, *fake.req.MaxTokens)
	assert.Equal(t, "Investigate and triage: crash on startup", fake.req.UserPrompt)

	got, err := f.q.Get(job.ID)
	require.NoError(t, err)
	wantCost := openrouter.CalculateCost("openai/gpt-4o-mini", 100, 50)
	assert.InDelta(t, wantCost, got.CostActual, 1e-9)
	assert.Equal(t, "openai/gpt-4o-mini", got.State["model"])
}

func TestExecuteLocalInferenceIsFree(t *testing.T) {
	f := newHandlerFixture(t)
	f.cfg.Agent.Enabled = false
	f.cfg.LocalInference.Enabled = true
	f.h.repliesDir = ""

	fake := &fakeDelegator{resp: &openrouter.ChatResponse{
		Content: "local reply",
		Model:   "qwen2.5:7b",
		Usage:   openrouter.Usage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50},
	}}
	f.h.newDelegate = func(*queue.Job) modelDispatcher { return fake }

	job := f.enqueue(t, Payload{Description: "summarize"})
	require.NoError(t, f.h.Execute(context.Background(), job))

	got, err := f.q.Get(job.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CostActual)
	assert.Equal(t, "qwen2.5:7b", got.State["model"])
	_, hasPath := got.State["reply_path"]
	assert.False(t, hasPath, "no replies directory configured, so no reply_path")
}

func TestExecuteTruncatesReplyPreview(t *testing.T) {
	f := newHandlerFixture(t)
	longReply := strings.Repeat("scattering ", 40)
	f.h.gateway = &fakeGateway{resp: &PromptResponse{Reply: longReply, Model: "m"}}

	job := f.enqueue(t, Payload{Description: "ramble"})
	require.NoError(t, f.h.Execute(context.Background(), job))

	got, err := f.q.Get(job.ID)
	require.NoError(t, err)
	preview, ok := got.State["reply_preview"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(preview, "…"), "preview should be truncated: %q", preview)
	assert.Len(t, []rune(preview), 281)

	// The file still carries the full reply.
	replyPath := got.State["reply_path"].(string)
	content, err := os.ReadFile(replyPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), longReply)
}

func TestExecuteMergesSinceVariable(t *testing.T) {
	f := newHandlerFixture(t)
	gw := &fakeGateway{resp: &PromptResponse{Reply: "briefed", Model: "m"}}
	f.h.gateway = gw

	writePromptDoc(t, f.promptDir, "briefing", `---
description: Daily briefing
category: research
variables:
  - since
---
Summarize everything since {{since}}.
`)

	job := f.enqueue(t, Payload{PromptDoc: "briefing", Since: "2026-08-24T07:00:00Z"})
	require.NoError(t, f.h.Execute(context.Background(), job))
	assert.Equal(t, "Summarize everything since 2026-08-24T07:00:00Z.", gw.req.Prompt)
}

func TestExecuteExplicitVariableBeatsSince(t *testing.T) {
	f := newHandlerFixture(t)
	gw := &fakeGateway{resp: &PromptResponse{Reply: "briefed", Model: "m"}}
	f.h.gateway = gw

	writePromptDoc(t, f.promptDir, "briefing", `---
description: Daily briefing
variables:
  - since
---
Since {{since}}.
`)

	job := f.enqueue(t, Payload{
		PromptDoc: "briefing",
		Variables: map[string]string{"since": "yesterday"},
		Since:     "2026-08-24T07:00:00Z",
	})
	require.NoError(t, f.h.Execute(context.Background(), job))
	assert.Equal(t, "Since yesterday.", gw.req.Prompt)
}

func TestExecutePromptDocCategoryFallsBackToJob(t *testing.T) {
	f := newHandlerFixture(t)
	gw := &fakeGateway{resp: &PromptResponse{Reply: "ok", Model: "m"}}
	f.h.gateway = gw

	writePromptDoc(t, f.promptDir, "plain", `No frontmatter category here.
`)

	job := f.enqueue(t, Payload{PromptDoc: "plain"}, queue.WithCategory(queue.CategoryDocs))
	require.NoError(t, f.h.Execute(context.Background(), job))
	assert.Equal(t, "docs", gw.req.Category)
}

func TestExecuteMissingPromptDoc(t *testing.T) {
	f := newHandlerFixture(t)

	job := f.enqueue(t, Payload{PromptDoc: "nope"})
	err := f.h.Execute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Contains(t, err.Error(), `prompt "nope"`)
}

func TestExecuteUnboundVariableFails(t *testing.T) {
	f := newHandlerFixture(t)

	writePromptDoc(t, f.promptDir, "needy", `---
variables:
  - repo
---
Describe {{repo}}.
`)

	job := f.enqueue(t, Payload{PromptDoc: "needy"})
	err := f.h.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound variables: repo")
}

func TestExecuteFallsBackToJobDescription(t *testing.T) {
	f := newHandlerFixture(t)
	gw := &fakeGateway{resp: &PromptResponse{Reply: "ok", Model: "m"}}
	f.h.gateway = gw

	job := f.enqueue(t, nil, queue.WithDescription("summarize the notes repo"))
	require.NoError(t, f.h.Execute(context.Background(), job))
	assert.Equal(t, "summarize the notes repo", gw.req.Prompt)
	assert.Equal(t, "chore", gw.req.Category)
}

func TestExecuteNoPromptSource(t *testing.T) {
	f := newHandlerFixture(t)

	job := f.enqueue(t, nil)
	err := f.h.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither prompt_doc nor description")
}

func TestExecuteBadPayload(t *testing.T) {
	f := newHandlerFixture(t)

	job, err := queue.NewJob(HandlerName, json.RawMessage(`{not json`), "test:bad")
	require.NoError(t, err)
	require.NoError(t, f.q.Enqueue(job))

	err = f.h.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode prompt payload")
}
