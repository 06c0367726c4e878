package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/version"
)

func newGatewayClient(serverURL string) *Client {
	return NewClient(&am.AgentConfig{
		BaseURL:        serverURL,
		Token:          "gw-token",
		TimeoutSeconds: 5,
	}, nil)
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(&am.AgentConfig{BaseURL: "http://localhost:8315/"}, nil)

	assert.Equal(t, "http://localhost:8315", client.baseURL, "trailing slash should be trimmed")
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
}

func TestSendPrompt(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotAgent string
	var gotReq PromptRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"reply":"All saved.","model":"gateway/main","usage":{"prompt_tokens":40,"completion_tokens":12,"cost_usd":0.0021}}`)
	}))
	defer server.Close()

	client := newGatewayClient(server.URL)
	resp, err := client.SendPrompt(context.Background(), &PromptRequest{
		JobID:    "job-42",
		Prompt:   "Save everything.",
		Category: "chore",
		Priority: "high",
		Metadata: map[string]string{"source": "cli"},
	})
	require.NoError(t, err)

	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/api/v1/prompt", gotPath)
	assert.Equal(t, "Bearer gw-token", gotAuth)
	assert.Equal(t, version.UserAgent(), gotAgent)
	assert.Equal(t, "job-42", gotReq.JobID)
	assert.Equal(t, "Save everything.", gotReq.Prompt)
	assert.Equal(t, "chore", gotReq.Category)
	assert.Equal(t, "high", gotReq.Priority)
	assert.Equal(t, "cli", gotReq.Metadata["source"])

	assert.Equal(t, "All saved.", resp.Reply)
	assert.Equal(t, "gateway/main", resp.Model)
	assert.Equal(t, 40, resp.Usage.PromptTokens)
	assert.Equal(t, 12, resp.Usage.CompletionTokens)
	assert.Equal(t, 0.0021, resp.Usage.CostUSD)
}

func TestSendPromptUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newGatewayClient(server.URL)
	_, err := client.SendPrompt(context.Background(), &PromptRequest{JobID: "job-1", Prompt: "hi"})
	require.Error(t, err)

	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, errors.FlattenHints(err), "agent.token")
}

func TestSendPromptServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway restarting", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newGatewayClient(server.URL)
	_, err := client.SendPrompt(context.Background(), &PromptRequest{JobID: "job-1", Prompt: "hi"})
	require.Error(t, err)

	// "status 503" is a transient marker for the queue's retry classifier.
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "gateway restarting")
}

func TestSendPromptConnectionRefused(t *testing.T) {
	// Grab a port that nothing is listening on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	client := newGatewayClient(deadURL)
	_, err := client.SendPrompt(context.Background(), &PromptRequest{JobID: "job-1", Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent gateway unreachable")
}

func TestSendPromptMissingBaseURL(t *testing.T) {
	client := NewClient(&am.AgentConfig{}, nil)
	_, err := client.SendPrompt(context.Background(), &PromptRequest{JobID: "job-1", Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.base_url not configured")
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "health should be unauthenticated")
		fmt.Fprint(w, `{"status":"ok","version":"0.5.2"}`)
	}))
	defer server.Close()

	client := NewClient(&am.AgentConfig{
		BaseURL:           server.URL,
		Token:             "gw-token",
		MinGatewayVersion: ">=0.4.0",
	}, nil)

	health, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "0.5.2", health.Version)
	assert.True(t, health.Compatible)
}

func TestPingIncompatibleVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","version":"v0.3.9"}`)
	}))
	defer server.Close()

	client := NewClient(&am.AgentConfig{
		BaseURL:           server.URL,
		MinGatewayVersion: ">=0.4.0",
	}, nil)

	health, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.False(t, health.Compatible, "v-prefixed versions should still be parsed and checked")
}

func TestPingGatewayDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	_, err := newGatewayClient(deadURL).Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent gateway unreachable")
}

func TestPingHealthEndpointError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newGatewayClient(server.URL).Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health returned status 500")
}

func TestClientHonorsContext(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := newGatewayClient(server.URL).SendPrompt(ctx, &PromptRequest{JobID: "job-1", Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
