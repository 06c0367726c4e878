// Package budget enforces spend and rate limits on queue dispatch.
// Spend is derived from pure sliding windows (24h/7d/30d) over the
// ai_model_usage table, so restarting the daemon never resets the meter.
package budget

import (
	"database/sql"
	"fmt"

	"github.com/roostlabs/roost/errors"
)

// Store answers spend queries against the ai_model_usage table.
type Store struct {
	db *sql.DB
}

// NewStore creates a budget store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// getActualSpend sums successful-call cost within a sliding time window.
func (s *Store) getActualSpend(window string, period string) (totalCost float64, opCount int, err error) {
	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(cost), 0) as total_cost,
			COUNT(*) as operation_count
		FROM ai_model_usage
		WHERE request_timestamp >= datetime('now', '%s')
			AND success = 1
	`, window)

	err = s.db.QueryRow(query).Scan(&totalCost, &opCount)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query %s spend", period)
	}

	return totalCost, opCount, nil
}

// GetActualDailySpend returns the last 24 hours of spend. A sliding window
// prevents midnight gaming.
func (s *Store) GetActualDailySpend() (totalCost float64, opCount int, err error) {
	return s.getActualSpend("-24 hours", "daily")
}

// GetActualWeeklySpend returns the last 7 days of spend.
func (s *Store) GetActualWeeklySpend() (totalCost float64, opCount int, err error) {
	return s.getActualSpend("-7 days", "weekly")
}

// GetActualMonthlySpend returns the last 30 days of spend.
func (s *Store) GetActualMonthlySpend() (totalCost float64, opCount int, err error) {
	return s.getActualSpend("-30 days", "monthly")
}
