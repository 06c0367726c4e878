// Package delegate routes prompt work to ordered model candidates by job
// category. Expensive models front the chains for work that needs them;
// cheap ones take the routine categories. When a candidate is unavailable
// the next one is tried, so a single model outage does not stall the queue.
package delegate

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/ai/openrouter"
	"github.com/roostlabs/roost/ai/provider"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// defaultChains maps job categories to model candidates, best first.
// Config entries under openrouter.delegation.<category> replace a chain
// wholesale. Every model here must have a pricing table entry so recorded
// costs stay accurate.
var defaultChains = map[string][]string{
	"bug":      {"anthropic/claude-sonnet-4", "openai/gpt-4.1", "openai/gpt-4o"},
	"feature":  {"anthropic/claude-sonnet-4", "openai/gpt-4.1", "google/gemini-2.5-pro"},
	"test":     {"openai/gpt-4.1-mini", "anthropic/claude-3.5-haiku", "openai/gpt-4o-mini"},
	"docs":     {"openai/gpt-4o-mini", "google/gemini-2.5-flash", "mistralai/mistral-7b-instruct"},
	"chore":    {"openai/gpt-4o-mini", "meta-llama/llama-3.1-8b-instruct"},
	"research": {"anthropic/claude-opus-4", "anthropic/claude-sonnet-4", "google/gemini-2.5-pro"},
}

// Delegator picks model candidates per category and executes requests
// against them in order.
type Delegator struct {
	client   provider.AIClient
	chains   map[string][]string
	fallback string
	logger   *zap.SugaredLogger
}

// NewDelegator builds a delegator over the given client. Chains from
// cfg.OpenRouter.Delegation override the compiled-in defaults per category;
// categories with no chain fall back to the configured default model.
func NewDelegator(client provider.AIClient, cfg *am.Config, logger *zap.SugaredLogger) *Delegator {
	chains := make(map[string][]string, len(defaultChains))
	for category, models := range defaultChains {
		chains[category] = models
	}
	for category, models := range cfg.OpenRouter.Delegation {
		if len(models) == 0 {
			continue
		}
		chains[strings.ToLower(strings.TrimSpace(category))] = models
	}

	fallback := cfg.OpenRouter.Model
	if fallback == "" {
		fallback = openrouter.DefaultModel
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Delegator{
		client:   client,
		chains:   chains,
		fallback: fallback,
		logger:   logger,
	}
}

// Pick returns the candidate chain for a category. Unknown categories get a
// single-model chain with the default. The returned slice is the caller's to
// keep.
func (d *Delegator) Pick(category string) []string {
	category = strings.ToLower(strings.TrimSpace(category))
	if chain, ok := d.chains[category]; ok {
		out := make([]string, len(chain))
		copy(out, chain)
		return out
	}
	return []string{d.fallback}
}

// Execute runs the request against the category's candidates in order. A
// candidate that is unavailable (unknown model, rate limited, upstream 5xx,
// network failure) falls through to the next; auth and request errors stop
// the chain. A request with Model already set bypasses the chains entirely —
// a pinned model has no fallback. The response's Model field names the model
// that served.
func (d *Delegator) Execute(ctx context.Context, category string, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	candidates := d.Pick(category)
	if req.Model != nil && *req.Model != "" {
		candidates = []string{*req.Model}
	}

	var lastErr error
	for i, model := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "delegation canceled")
		}

		attempt := req
		attempt.Model = &model

		resp, err := d.client.Chat(ctx, attempt)
		if err == nil {
			if resp.Model == "" {
				resp.Model = model
			}
			if i > 0 {
				d.logger.Infow("Delegation fell through to backup model",
					"category", category, "model", resp.Model, "attempt", i+1)
			}
			return resp, nil
		}

		if !isCandidateSkippable(err) {
			return nil, errors.Wrapf(err, "model %s refused delegated request", model)
		}

		d.logger.Warnw("Delegation candidate failed, trying next",
			"category", category, "model", model, "error", err)
		lastErr = err
	}

	return nil, errors.Wrapf(lastErr, "all %d delegation candidates failed for category %q", len(candidates), category)
}

// isCandidateSkippable reports whether the next candidate should be tried.
func isCandidateSkippable(err error) bool {
	var apiErr *openrouter.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound, http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		}
		return apiErr.StatusCode >= 500
	}
	return openrouter.IsRetryableError(err)
}
