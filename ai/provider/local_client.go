package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/ai/openrouter"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// Local inference defaults. Ollama ignores unknown option fields, so the
// same request shape works against LocalAI.
const (
	defaultLocalTimeout     = 120 * time.Second
	defaultLocalTemperature = 0.7
	defaultLocalMaxTokens   = 4096
)

// LocalClient talks to an OpenAI-compatible inference server at
// local_inference.base_url. Local calls have no API cost, so nothing is
// written to the usage ledger.
type LocalClient struct {
	baseURL     string
	model       string
	contextSize int
	httpClient  *http.Client
	logger      *zap.SugaredLogger
}

// NewLocalClient creates a client from the local inference config.
func NewLocalClient(cfg *am.LocalInferenceConfig, logger *zap.SugaredLogger) *LocalClient {
	timeout := defaultLocalTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	contextSize := 0
	if cfg.ContextSize != nil {
		contextSize = *cfg.ContextSize
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &LocalClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		contextSize: contextSize,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Model returns the configured local model name.
func (lc *LocalClient) Model() string {
	return lc.model
}

// localChatRequest matches the OpenAI chat-completions format. Options
// carries the Ollama-specific knobs the OpenAI shape has no field for.
type localChatRequest struct {
	Model    string         `json:"model"`
	Messages []localMessage `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *localChatOpts `json:"options,omitempty"`
}

type localMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatOpts struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"num_predict,omitempty"` // Ollama naming
	NumCtx      int     `json:"num_ctx,omitempty"`     // Context window size
}

type localChatResponse struct {
	Model string `json:"model"`
	Choices []struct {
		Message      localMessage `json:"message"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage *openrouter.Usage `json:"usage,omitempty"`
}

func (lc *LocalClient) buildRequest(req openrouter.ChatRequest, stream bool) localChatRequest {
	model := lc.model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	temperature := defaultLocalTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := defaultLocalMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	messages := []localMessage{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]localMessage{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	return localChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options: &localChatOpts{
			Temperature: temperature,
			MaxTokens:   maxTokens,
			NumCtx:      lc.contextSize,
		},
	}
}

// post sends the request and verifies the status. The caller owns the
// returned body.
func (lc *LocalClient) post(ctx context.Context, reqBody localChatRequest) (*http.Response, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", lc.baseURL+"/v1/chat/completions", bytes.NewBuffer(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := lc.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "local inference request failed")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errors.Newf("local inference returned status %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// Chat implements AIClient against the local server.
func (lc *LocalClient) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	apiReq := lc.buildRequest(req, false)

	lc.logger.Debugw("Local inference request",
		"model", apiReq.Model, "prompt_length", len(req.UserPrompt))

	resp, err := lc.post(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var completion localChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	if len(completion.Choices) == 0 {
		return nil, errors.New("no completion choices from local inference")
	}

	model := completion.Model
	if model == "" {
		model = apiReq.Model
	}

	out := &openrouter.ChatResponse{
		Content: strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:   model,
	}
	// Ollama reports token usage on this endpoint; LocalAI may omit it.
	if completion.Usage != nil {
		out.Usage = *completion.Usage
	}

	return out, nil
}

// ChatStreaming implements StreamingAIClient over the server's SSE stream.
func (lc *LocalClient) ChatStreaming(ctx context.Context, req openrouter.ChatRequest, streamChan chan<- StreamChunk) error {
	resp, err := lc.post(ctx, lc.buildRequest(req, true))
	if err != nil {
		streamChan <- StreamChunk{Error: err}
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		// SSE frame: "data: {...}" with a final "data: [DONE]".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			streamChan <- StreamChunk{Done: true}
			return nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			err = errors.Wrap(err, "failed to decode stream chunk")
			streamChan <- StreamChunk{Error: err}
			return err
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			streamChan <- StreamChunk{Content: content}
		}
		if chunk.Choices[0].FinishReason != "" {
			streamChan <- StreamChunk{Done: true}
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		err = errors.Wrap(err, "stream read error")
		streamChan <- StreamChunk{Error: err}
		return err
	}

	// Stream ended without an explicit completion marker.
	streamChan <- StreamChunk{Done: true}
	return nil
}
