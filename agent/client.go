// Package agent dispatches prompt jobs. When the local agent gateway is
// enabled, prompts POST to it over HTTP with a bearer token; otherwise they
// go straight to a model provider through the delegation chains. Either way
// the job records what the reply cost.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/internal/httpclient"
	"github.com/roostlabs/roost/internal/util"
	"github.com/roostlabs/roost/version"
)

// DefaultTimeout bounds gateway calls when agent.timeout_seconds is unset.
const DefaultTimeout = 60 * time.Second

// Client talks to the local agent gateway.
type Client struct {
	baseURL    string
	token      string
	minVersion string
	httpClient *httpclient.SaferClient
	logger     *zap.SugaredLogger
}

// NewClient builds a gateway client from the agent config section.
func NewClient(cfg *am.AgentConfig, logger *zap.SugaredLogger) *Client {
	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		minVersion: cfg.MinGatewayVersion,
		httpClient: httpclient.NewLoopbackClient(timeout),
		logger:     logger,
	}
}

// PromptRequest is the gateway dispatch payload.
type PromptRequest struct {
	JobID    string            `json:"job_id"`
	Prompt   string            `json:"prompt"`
	Category string            `json:"category,omitempty"`
	Priority string            `json:"priority,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Usage reports what a dispatched prompt cost.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// PromptResponse is the gateway's answer.
type PromptResponse struct {
	Reply string `json:"reply"`
	Model string `json:"model,omitempty"`
	Usage Usage  `json:"usage"`
}

// Health is the gateway health report `roost doctor` inspects.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`

	// Compatible is false when the gateway version fails the
	// agent.min_gateway_version constraint.
	Compatible bool `json:"-"`
}

// SendPrompt posts a prompt to the gateway and returns its reply.
//
// Error messages are written for the queue's retry classifier: connection
// failures and gateway 5xx come back transient, a 401 is permanent with a
// hint at the token.
func (c *Client) SendPrompt(ctx context.Context, req *PromptRequest) (*PromptResponse, error) {
	if c.baseURL == "" {
		return nil, errors.New("agent.base_url not configured")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal prompt request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/prompt", bytes.NewBuffer(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "agent gateway unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read gateway response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		err := errors.Wrap(errors.ErrUnauthorized, "agent gateway returned status 401")
		return nil, errors.WithHint(err, "check agent.token — the gateway rejected roost's bearer token")
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf("agent gateway returned status %d: %s",
			resp.StatusCode, util.Truncate(string(body), 200))
	}

	var promptResp PromptResponse
	if err := json.Unmarshal(body, &promptResp); err != nil {
		return nil, errors.Wrap(err, "failed to decode gateway response")
	}

	c.logger.Debugw("Gateway prompt dispatched",
		"job_id", req.JobID,
		"model", promptResp.Model,
		"prompt_tokens", promptResp.Usage.PromptTokens,
		"completion_tokens", promptResp.Usage.CompletionTokens,
		"cost_usd", promptResp.Usage.CostUSD)

	return &promptResp, nil
}

// Ping hits the gateway health endpoint and, when agent.min_gateway_version
// is set, checks the reported version against it. The health endpoint is
// unauthenticated, mirroring roost's own /healthz.
func (c *Client) Ping(ctx context.Context) (*Health, error) {
	if c.baseURL == "" {
		return nil, errors.New("agent.base_url not configured")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create health request")
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "agent gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("agent gateway health returned status %d", resp.StatusCode)
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, errors.Wrap(err, "failed to decode health response")
	}

	health.Compatible = true
	if c.minVersion != "" && health.Version != "" {
		ok, err := versionSatisfies(health.Version, c.minVersion)
		if err != nil {
			return &health, err
		}
		health.Compatible = ok
	}

	return &health, nil
}

// versionSatisfies checks a reported gateway version against a semver
// constraint like ">=0.4.0".
func versionSatisfies(reported, constraint string) (bool, error) {
	parsed, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, errors.Wrapf(err, "invalid agent.min_gateway_version %q", constraint)
	}
	v, err := semver.NewVersion(strings.TrimPrefix(reported, "v"))
	if err != nil {
		return false, errors.Wrapf(err, "cannot parse gateway version %q", reported)
	}
	return parsed.Check(v), nil
}
