// Package openrouter is the OpenRouter.ai chat-completions client.
// Every call is recorded in the usage ledger so the budget gates can
// meter spend.
package openrouter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/ai/tracker"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/internal/httpclient"
	"github.com/roostlabs/roost/version"
)

const (
	// DefaultModel is the fallback model when none is configured.
	// Matches the openrouter.model default in am/defaults.go.
	DefaultModel = "openai/gpt-4o-mini"

	// maxAttempts bounds the retry loop for transient failures.
	maxAttempts = 3

	defaultRetryBaseDelay = time.Second
)

// Client is an OpenRouter.ai API client.
type Client struct {
	apiKey         string
	baseURL        string
	httpClient     *httpclient.SaferClient
	config         Config
	usage          *tracker.UsageTracker
	logger         *zap.SugaredLogger
	retryBaseDelay time.Duration
}

// Config holds client configuration.
type Config struct {
	APIKey        string
	Model         string
	Temperature   *float64           // nil = default 0.2
	MaxTokens     *int               // nil = default 1000
	Logger        *zap.SugaredLogger // nil = nop logger
	DB            *sql.DB            // Enables usage recording when set
	OperationType string             // Stamped on usage rows (e.g., "agent.prompt")
	EntityType    string             // e.g., "job"
	EntityID      string             // e.g., the job ID
}

// NewClient creates an OpenRouter client with roost defaults.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		defaultTemp := 0.2
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 1000
		config.MaxTokens = &defaultTokens
	}

	var usage *tracker.UsageTracker
	if config.DB != nil {
		usage = tracker.NewUsageTracker(config.DB)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// SSRF-safer outbound client: blocks private IPs, metadata endpoints,
	// and dangerous schemes behind redirects.
	saferClient := httpclient.NewSaferClient(120 * time.Second)

	return &Client{
		apiKey:         config.APIKey,
		baseURL:        "https://openrouter.ai/api/v1",
		httpClient:     saferClient,
		config:         config,
		usage:          usage,
		logger:         logger,
		retryBaseDelay: defaultRetryBaseDelay,
	}
}

// APIError is a non-200 response from the OpenRouter API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter returned status %d: %s", e.StatusCode, e.Body)
}

// ChatCompletionRequest is the wire request for /chat/completions.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message is one turn in a chat completion.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the wire response from /chat/completions.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption for a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is a high-level request to the model.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // Override the client default
	MaxTokens    *int     // Override the client default
	Model        *string  // Override the client default
}

// ChatResponse is the model's reply.
type ChatResponse struct {
	Content string
	Model   string // Model that actually served the request
	Usage   Usage
}

// CreateChatCompletion sends one chat completion request. Non-200 responses
// come back as *APIError so callers can classify by status.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	// X-Title shows up in the OpenRouter dashboard per-app breakdown.
	httpReq.Header.Set("X-Title", version.UserAgent())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends a chat request with retries and usage recording. Transient
// failures (network errors, 5xx) are retried up to maxAttempts with linear
// backoff; everything else fails immediately.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHint(
			errors.New("OpenRouter API key not configured"),
			"set openrouter.api_key with `roost config set openrouter.api_key <key>`")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	c.logger.Debugw("OpenRouter chat request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"prompt_length", len(req.UserPrompt),
	)

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	apiReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	requestTime := time.Now()

	var resp *ChatCompletionResponse
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryBaseDelay
			c.logger.Debugw("Retrying OpenRouter request",
				"attempt", attempt+1, "max_attempts", maxAttempts, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err = c.CreateChatCompletion(ctx, apiReq)
		if err == nil {
			if attempt > 0 {
				c.logger.Infow("OpenRouter request succeeded after retries",
					"attempts", attempt+1, "model", model)
			}
			break
		}

		c.logger.Warnw("OpenRouter API error",
			"attempt", attempt+1, "max_attempts", maxAttempts,
			"model", model, "error", err)

		if IsRetryableError(err) {
			continue
		}

		c.trackFailure(requestTime, model, temperature, maxTokens, err)
		return nil, errors.Wrap(err, "openrouter request failed")
	}

	if err != nil {
		c.trackFailure(requestTime, model, temperature, maxTokens, err)
		return nil, errors.Wrapf(err, "openrouter request failed after %d attempts", maxAttempts)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from OpenRouter")
	}

	// The API reports which model actually served the request; delegation
	// and usage rows want that name, not the alias we asked for.
	servedModel := resp.Model
	if servedModel == "" {
		servedModel = model
	}

	content := resp.Choices[0].Message.Content
	cost := CalculateCost(servedModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	c.logger.Debugw("OpenRouter response",
		"model", servedModel,
		"content_length", len(content),
		"total_tokens", resp.Usage.TotalTokens,
		"cost_usd", cost,
	)

	if c.usage != nil {
		responseTime := time.Now()
		promptTokens := resp.Usage.PromptTokens
		completionTokens := resp.Usage.CompletionTokens
		totalTokens := resp.Usage.TotalTokens

		usage := &tracker.ModelUsage{
			OperationType:     c.config.OperationType,
			EntityType:        c.config.EntityType,
			EntityID:          c.config.EntityID,
			ModelName:         servedModel,
			ModelProvider:     "openrouter",
			ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
			RequestTimestamp:  requestTime,
			ResponseTimestamp: &responseTime,
			PromptTokens:      &promptTokens,
			CompletionTokens:  &completionTokens,
			TotalTokens:       &totalTokens,
			Cost:              &cost,
			Success:           true,
		}

		if err := c.usage.TrackUsage(usage); err != nil {
			// The budget gate reads this ledger; a dropped row matters.
			c.logger.Warnw("Failed to record model usage",
				"error", err, "model", servedModel, "tokens", totalTokens)
		}
	}

	return &ChatResponse{
		Content: strings.TrimSpace(content),
		Model:   servedModel,
		Usage:   resp.Usage,
	}, nil
}

// trackFailure records a failed call in the usage ledger.
func (c *Client) trackFailure(requestTime time.Time, model string, temperature float64, maxTokens int, err error) {
	if c.usage == nil {
		return
	}

	responseTime := time.Now()
	errMsg := err.Error()

	usage := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		EntityType:        c.config.EntityType,
		EntityID:          c.config.EntityID,
		ModelName:         model,
		ModelProvider:     "openrouter",
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           false,
		ErrorMessage:      &errMsg,
	}

	if trackErr := c.usage.TrackUsage(usage); trackErr != nil {
		c.logger.Warnw("Failed to record failed request",
			"error", trackErr, "model", model, "original_error", errMsg)
	}
}

// Transient failure signatures worth another attempt.
var retryableErrorFragments = []string{
	"connection reset by peer",
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"i/o timeout",
}

// IsRetryableError reports whether err is transient: a network timeout,
// a refused or reset connection, or a 5xx from the API. The delegation
// layer applies the same test when deciding to try the next candidate.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, fragment := range retryableErrorFragments {
		if strings.Contains(errStr, fragment) {
			return true
		}
	}

	return false
}

// IsConfigured reports whether the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client. Only for tests; production code
// keeps the SSRF-safer default.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
