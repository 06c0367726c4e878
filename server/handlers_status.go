package server

import (
	"net/http"
	"time"

	"github.com/roostlabs/roost/ai/tracker"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/queue/budget"
	"github.com/roostlabs/roost/version"
)

// StatusResponse is the control surface's full picture of the daemon.
type StatusResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	DID           string         `json:"did,omitempty"`
	Workspace     string         `json:"workspace,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Daemon        DaemonStatus   `json:"daemon"`
	Jobs          *queue.Stats   `json:"jobs"`
	Budget        *budget.Status `json:"budget,omitempty"`
	Clients       int            `json:"clients"`
}

// DaemonStatus reports worker pool and ticker state.
type DaemonStatus struct {
	Running bool `json:"running"`
	Workers int  `json:"workers"`
	Ticker  bool `json:"ticker"`
}

// UsageResponse aggregates AI spend over the standard windows.
type UsageResponse struct {
	Day    *tracker.UsageStats      `json:"day"`
	Week   *tracker.UsageStats      `json:"week"`
	Month  *tracker.UsageStats      `json:"month"`
	Models []tracker.ModelBreakdown `json:"models,omitempty"`
	Budget *budget.Status           `json:"budget,omitempty"`
	Limits budget.Config            `json:"limits"`
}

// handleHealthz answers liveness probes without auth.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	info := version.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": info.Version,
		"commit":  info.Short(),
	})
}

// handleStatus serves GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.queue.GetStats()
	if err != nil {
		handleError(w, s.logger, err, "failed to get queue stats")
		return
	}

	resp := StatusResponse{
		Status:        "ok",
		Version:       version.Get().Version,
		DID:           s.did,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Jobs:          stats,
		Clients:       s.clientCount(),
	}
	if s.ws != nil {
		resp.Workspace = s.ws.Root
	}
	if s.pool != nil {
		resp.Daemon.Running = true
		resp.Daemon.Workers = s.pool.Workers()
	}
	resp.Daemon.Ticker = s.ticker != nil

	budgetStatus, err := s.budget.GetStatus()
	if err != nil {
		s.logger.Debugw("Failed to get budget status", "error", err)
	} else {
		resp.Budget = budgetStatus
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleUsage serves GET /api/usage.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	now := time.Now()

	day, err := s.usage.GetUsageStats(now.Add(-24 * time.Hour))
	if err != nil {
		handleError(w, s.logger, err, "failed to get usage stats")
		return
	}
	week, err := s.usage.GetUsageStats(now.AddDate(0, 0, -7))
	if err != nil {
		handleError(w, s.logger, err, "failed to get usage stats")
		return
	}
	month, err := s.usage.GetUsageStats(now.AddDate(0, 0, -30))
	if err != nil {
		handleError(w, s.logger, err, "failed to get usage stats")
		return
	}

	resp := UsageResponse{
		Day:    day,
		Week:   week,
		Month:  month,
		Limits: s.budget.GetBudgetLimits(),
	}

	models, err := s.usage.GetModelBreakdown(now.AddDate(0, 0, -30))
	if err != nil {
		s.logger.Debugw("Failed to get model breakdown", "error", err)
	} else {
		resp.Models = models
	}

	budgetStatus, err := s.budget.GetStatus()
	if err != nil {
		s.logger.Debugw("Failed to get budget status", "error", err)
	} else {
		resp.Budget = budgetStatus
	}

	writeJSON(w, http.StatusOK, resp)
}
