// Package tracker records per-call AI model usage in the ai_model_usage
// table. Budget gates and `roost usage` both read from this ledger, so
// every provider call — success or failure — should land a row here.
package tracker

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/roostlabs/roost/errors"
)

// ModelUsage is one recorded model call.
type ModelUsage struct {
	ID                int64      `json:"id"`
	OperationType     string     `json:"operation_type"`
	EntityType        string     `json:"entity_type"`
	EntityID          string     `json:"entity_id"`
	ModelName         string     `json:"model_name"`
	ModelProvider     string     `json:"model_provider"`
	ModelConfig       *string    `json:"model_config,omitempty"`
	RequestTimestamp  time.Time  `json:"request_timestamp"`
	ResponseTimestamp *time.Time `json:"response_timestamp,omitempty"`
	PromptTokens      *int       `json:"prompt_tokens,omitempty"`
	CompletionTokens  *int       `json:"completion_tokens,omitempty"`
	TotalTokens       *int       `json:"total_tokens,omitempty"`
	Cost              *float64   `json:"cost,omitempty"`
	DurationMs        *int64     `json:"duration_ms,omitempty"`
	Success           bool       `json:"success"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	Metadata          *string    `json:"metadata,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ModelConfig captures the sampling parameters a request ran with.
type ModelConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// NewModelConfig serializes sampling parameters to the JSON string stored
// in the model_config column. Returns nil when nothing was configured.
func NewModelConfig(temperature *float64, maxTokens *int) *string {
	if temperature == nil && maxTokens == nil {
		return nil
	}

	data, err := json.Marshal(ModelConfig{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil
	}

	s := string(data)
	return &s
}

// UsageTracker writes and aggregates model usage records.
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a usage tracker over the roost database.
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackUsage inserts one usage record. Timestamps are normalized to UTC so
// the budget tracker's sliding-window queries (datetime('now', ...)) compare
// correctly. DurationMs is derived from the timestamps when not set.
func (t *UsageTracker) TrackUsage(usage *ModelUsage) error {
	requestTS := usage.RequestTimestamp.UTC()

	var responseTS *time.Time
	if usage.ResponseTimestamp != nil {
		ts := usage.ResponseTimestamp.UTC()
		responseTS = &ts
	}

	durationMs := usage.DurationMs
	if durationMs == nil && responseTS != nil {
		ms := responseTS.Sub(requestTS).Milliseconds()
		durationMs = &ms
	}

	query := `
		INSERT INTO ai_model_usage (
			operation_type, entity_type, entity_id, model_name, model_provider,
			model_config, request_timestamp, response_timestamp, prompt_tokens,
			completion_tokens, total_tokens, cost, duration_ms, success,
			error_message, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.Exec(query,
		usage.OperationType, usage.EntityType, usage.EntityID,
		usage.ModelName, usage.ModelProvider, usage.ModelConfig,
		requestTS, responseTS, usage.PromptTokens,
		usage.CompletionTokens, usage.TotalTokens, usage.Cost,
		durationMs, usage.Success, usage.ErrorMessage, usage.Metadata,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record model usage")
	}

	return nil
}

// UsageStats aggregates usage over a window.
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	UniqueModels       int     `json:"unique_models"`
}

// GetUsageStats returns aggregate usage since the given time.
func (t *UsageTracker) GetUsageStats(since time.Time) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as total_requests,
			COUNT(CASE WHEN success = 1 THEN 1 END) as successful_requests,
			COALESCE(SUM(COALESCE(total_tokens, 0)), 0) as total_tokens,
			COALESCE(SUM(COALESCE(cost, 0)), 0) as total_cost,
			COUNT(DISTINCT model_name) as unique_models
		FROM ai_model_usage
		WHERE request_timestamp >= ?`

	var stats UsageStats
	err := t.db.QueryRow(query, since.UTC()).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.TotalTokens, &stats.TotalCost, &stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage stats")
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	return &stats, nil
}

// ModelBreakdown is per-model usage over a window.
type ModelBreakdown struct {
	ModelName     string   `json:"model_name"`
	ModelProvider string   `json:"model_provider"`
	RequestCount  int      `json:"request_count"`
	TotalTokens   int      `json:"total_tokens"`
	TotalCost     float64  `json:"total_cost"`
	AvgDurationMs *float64 `json:"avg_duration_ms,omitempty"`
}

// GetModelBreakdown returns successful usage grouped by model, most
// expensive first.
func (t *UsageTracker) GetModelBreakdown(since time.Time) ([]ModelBreakdown, error) {
	query := `
		SELECT
			model_name,
			model_provider,
			COUNT(*) as request_count,
			SUM(COALESCE(total_tokens, 0)) as total_tokens,
			SUM(COALESCE(cost, 0)) as total_cost,
			AVG(duration_ms) as avg_duration_ms
		FROM ai_model_usage
		WHERE request_timestamp >= ? AND success = 1
		GROUP BY model_name, model_provider
		ORDER BY total_cost DESC`

	rows, err := t.db.Query(query, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model breakdown")
	}
	defer rows.Close()

	var breakdown []ModelBreakdown
	for rows.Next() {
		var mb ModelBreakdown
		if err := rows.Scan(&mb.ModelName, &mb.ModelProvider, &mb.RequestCount,
			&mb.TotalTokens, &mb.TotalCost, &mb.AvgDurationMs); err != nil {
			return nil, errors.Wrap(err, "failed to scan model breakdown row")
		}
		breakdown = append(breakdown, mb)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate model breakdown rows")
	}

	return breakdown, nil
}

// TimeSeriesPoint is one day of usage.
type TimeSeriesPoint struct {
	Date     string  `json:"date"`
	Requests int     `json:"requests"`
	Cost     float64 `json:"cost"`
}

// GetTimeSeriesData returns daily request counts and cost for the last
// N days, oldest first.
func (t *UsageTracker) GetTimeSeriesData(days int) ([]TimeSeriesPoint, error) {
	query := `
		SELECT
			DATE(request_timestamp) as date,
			COUNT(*) as requests,
			COALESCE(SUM(COALESCE(cost, 0)), 0) as cost
		FROM ai_model_usage
		WHERE request_timestamp >= datetime('now', '-' || ? || ' days')
		GROUP BY DATE(request_timestamp)
		ORDER BY date ASC`

	rows, err := t.db.Query(query, days)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage time series")
	}
	defer rows.Close()

	var points []TimeSeriesPoint
	for rows.Next() {
		var point TimeSeriesPoint
		if err := rows.Scan(&point.Date, &point.Requests, &point.Cost); err != nil {
			return nil, errors.Wrap(err, "failed to scan time series row")
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate time series rows")
	}

	return points, nil
}
