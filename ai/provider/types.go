// Package provider selects between model backends: a local inference
// server (Ollama, LocalAI) and the OpenRouter cloud gateway.
package provider

import (
	"context"

	"github.com/roostlabs/roost/ai/openrouter"
	"github.com/roostlabs/roost/errors"
)

// Provider identifies an LLM backend.
type Provider string

const (
	// ProviderLocal is a local inference server with an OpenAI-compatible
	// endpoint.
	ProviderLocal Provider = "local"

	// ProviderOpenRouter is the OpenRouter.ai cloud gateway.
	ProviderOpenRouter Provider = "openrouter"

	// ProviderAuto selects from configuration: local when enabled,
	// otherwise OpenRouter.
	ProviderAuto Provider = "auto"
)

// AIClient is the chat surface shared by all backends.
type AIClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// StreamingAIClient is implemented by backends that can stream tokens.
// Callers discover support by type assertion from AIClient.
type StreamingAIClient interface {
	AIClient

	// ChatStreaming sends a request and streams the reply. The channel
	// receives chunks as they arrive; the final chunk has Done set.
	ChatStreaming(ctx context.Context, req openrouter.ChatRequest, streamChan chan<- StreamChunk) error
}

// StreamChunk is one piece of a streamed reply.
type StreamChunk struct {
	Content string
	Done    bool
	Error   error
}

// ParseProvider converts a CLI or config string to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "auto", "":
		return ProviderAuto, nil
	default:
		return "", errors.Newf("unknown provider %q (valid: local, openrouter, auto)", s)
	}
}
