package openrouter

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/roostlabs/roost/errors"
	roosttest "github.com/roostlabs/roost/internal/testing"
	"github.com/roostlabs/roost/version"
)

// newTestClient points a client at an httptest server and removes the
// retry delay so failure paths run fast.
func newTestClient(server *httptest.Server, config Config) *Client {
	if config.APIKey == "" {
		config.APIKey = "test-key"
	}
	client := NewClient(config)
	client.baseURL = server.URL
	client.retryBaseDelay = time.Millisecond
	client.SetHTTPClient(server.Client()) // the SSRF-safer default blocks loopback
	return client
}

func completionResponse(model, content string, usage Usage) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      "gen-test",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{
			{Index: 0, Message: Message{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: usage,
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{APIKey: "test-key"})

	if client.config.Model != DefaultModel {
		t.Errorf("default model = %q, want %q", client.config.Model, DefaultModel)
	}
	if client.config.Temperature == nil || *client.config.Temperature != 0.2 {
		t.Errorf("default temperature = %v, want 0.2", client.config.Temperature)
	}
	if client.config.MaxTokens == nil || *client.config.MaxTokens != 1000 {
		t.Errorf("default max tokens = %v, want 1000", client.config.MaxTokens)
	}
	if !client.IsConfigured() {
		t.Error("IsConfigured() = false with an API key set")
	}
	if NewClient(Config{}).IsConfigured() {
		t.Error("IsConfigured() = true without an API key")
	}
}

func TestChatSendsAuthAndHeaders(t *testing.T) {
	var gotReq ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}
		if got := r.Header.Get("X-Title"); got != version.UserAgent() {
			t.Errorf("X-Title = %q, want %q", got, version.UserAgent())
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		resp := completionResponse("openai/gpt-4o-mini", "Hello from the test server \n", Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		})
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server, Config{})

	resp, err := client.Chat(context.Background(), ChatRequest{
		SystemPrompt: "You are the roost keeper.",
		UserPrompt:   "Summarize overnight activity.",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Content != "Hello from the test server" {
		t.Errorf("Content = %q, want the trimmed reply", resp.Content)
	}
	if resp.Model != "openai/gpt-4o-mini" {
		t.Errorf("Model = %q, want openai/gpt-4o-mini", resp.Model)
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", resp.Usage.TotalTokens)
	}

	if len(gotReq.Messages) != 2 {
		t.Fatalf("sent %d messages, want system + user", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("message roles = %s, %s; want system, user", gotReq.Messages[0].Role, gotReq.Messages[1].Role)
	}
}

func TestChatAppliesRequestOverrides(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Model != "anthropic/claude-sonnet-4" {
			t.Errorf("model = %q, want the override", req.Model)
		}
		if req.Temperature != 0.9 {
			t.Errorf("temperature = %f, want 0.9", req.Temperature)
		}
		if req.MaxTokens != 500 {
			t.Errorf("max_tokens = %d, want 500", req.MaxTokens)
		}

		json.NewEncoder(w).Encode(completionResponse(req.Model, "ok", Usage{}))
	}))
	defer server.Close()

	client := newTestClient(server, Config{})

	temperature := 0.9
	maxTokens := 500
	model := "anthropic/claude-sonnet-4"
	_, err := client.Chat(context.Background(), ChatRequest{
		UserPrompt:  "test",
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Model:       &model,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount < 3 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(completionResponse("openai/gpt-4o-mini", "recovered", Usage{TotalTokens: 5}))
	}))
	defer server.Close()

	client := newTestClient(server, Config{})

	resp, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "test"})
	if err != nil {
		t.Fatalf("Chat failed after retries: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q, want recovered", resp.Content)
	}
	if requestCount != 3 {
		t.Errorf("server saw %d requests, want 3", requestCount)
	}
}

func TestChatGivesUpAfterMaxAttempts(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		http.Error(w, "still down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server, Config{})

	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "test"})
	if err == nil {
		t.Fatal("expected error when every attempt fails")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error = %v, want the attempt count", err)
	}
	if requestCount != maxAttempts {
		t.Errorf("server saw %d requests, want %d", requestCount, maxAttempts)
	}
}

func TestChatDoesNotRetryClientErrors(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server, Config{})

	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "test"})
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("error = %v, want the status code", err)
	}
	if requestCount != 1 {
		t.Errorf("server saw %d requests, want 1 (4xx is permanent)", requestCount)
	}
}

func TestChatMissingAPIKey(t *testing.T) {
	client := NewClient(Config{})

	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "test"})
	if err == nil {
		t.Fatal("expected error without an API key")
	}
	if !strings.Contains(err.Error(), "API key not configured") {
		t.Errorf("error = %v, want the missing-key message", err)
	}
}

func TestChatEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatCompletionResponse{Choices: []Choice{}})
	}))
	defer server.Close()

	client := newTestClient(server, Config{})

	_, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "test"})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if !strings.Contains(err.Error(), "no response choices") {
		t.Errorf("error = %v, want the empty-choices message", err)
	}
}

func TestChatRecordsUsage(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse("openai/gpt-4o-mini", "tracked", Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		}))
	}))
	defer server.Close()

	client := newTestClient(server, Config{
		DB:            db,
		OperationType: "agent.prompt",
		EntityType:    "job",
		EntityID:      "job-usage",
	})

	if _, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "test"}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	var (
		operationType, entityID, modelName, provider string
		totalTokens                                  int
		cost                                         float64
		durationMs                                   sql.NullInt64
		success                                      bool
	)
	row := db.QueryRow(`
		SELECT operation_type, entity_id, model_name, model_provider,
		       total_tokens, cost, duration_ms, success
		FROM ai_model_usage`)
	if err := row.Scan(&operationType, &entityID, &modelName, &provider,
		&totalTokens, &cost, &durationMs, &success); err != nil {
		t.Fatalf("failed to read usage row: %v", err)
	}

	if operationType != "agent.prompt" || entityID != "job-usage" {
		t.Errorf("context = %q/%q, want agent.prompt/job-usage", operationType, entityID)
	}
	if modelName != "openai/gpt-4o-mini" || provider != "openrouter" {
		t.Errorf("model = %q/%q, want openai/gpt-4o-mini/openrouter", modelName, provider)
	}
	if totalTokens != 30 {
		t.Errorf("total_tokens = %d, want 30", totalTokens)
	}
	// 10 prompt + 20 completion tokens of gpt-4o-mini.
	wantCost := CalculateCost("openai/gpt-4o-mini", 10, 20)
	if cost != wantCost {
		t.Errorf("cost = %v, want %v", cost, wantCost)
	}
	if !durationMs.Valid {
		t.Error("duration_ms is NULL, want a computed duration")
	}
	if !success {
		t.Error("success = false, want true")
	}
}

func TestChatRecordsFailure(t *testing.T) {
	db := roosttest.CreateMigratedTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "malformed request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server, Config{
		DB:            db,
		OperationType: "agent.prompt",
		EntityType:    "job",
		EntityID:      "job-failed",
	})

	if _, err := client.Chat(context.Background(), ChatRequest{UserPrompt: "test"}); err == nil {
		t.Fatal("expected error for HTTP 400")
	}

	var success bool
	var errorMessage sql.NullString
	row := db.QueryRow(`SELECT success, error_message FROM ai_model_usage WHERE entity_id = 'job-failed'`)
	if err := row.Scan(&success, &errorMessage); err != nil {
		t.Fatalf("failed to read failure row: %v", err)
	}

	if success {
		t.Error("success = true, want false for a failed call")
	}
	if !errorMessage.Valid || !strings.Contains(errorMessage.String, "status 400") {
		t.Errorf("error_message = %v, want the 400 status", errorMessage)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"api 500", &APIError{StatusCode: 500, Body: "boom"}, true},
		{"api 503", &APIError{StatusCode: 503, Body: "overloaded"}, true},
		{"api 404", &APIError{StatusCode: 404, Body: "no such model"}, false},
		{"api 429", &APIError{StatusCode: 429, Body: "rate limited"}, false},
		{"wrapped api 502", errors.Wrap(&APIError{StatusCode: 502, Body: "bad gateway"}, "request failed"), true},
		{"dns timeout", &net.DNSError{Err: "lookup timed out", IsTimeout: true}, true},
		{"dns permanent", &net.DNSError{Err: "no such host", IsTimeout: false}, false},
		{"connection refused string", errors.New("dial tcp: connection refused"), true},
		{"reset string", errors.New("read: connection reset by peer"), true},
		{"validation", errors.New("invalid json in payload"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryableError(tc.err); got != tc.retryable {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tc.err, got, tc.retryable)
			}
		})
	}
}
