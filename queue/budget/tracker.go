package budget

import (
	"database/sql"
	"sync"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
)

// Config contains the budget limits. A limit of zero disables that window.
type Config struct {
	DailyBudgetUSD   float64 `json:"daily_budget_usd"`
	WeeklyBudgetUSD  float64 `json:"weekly_budget_usd"`
	MonthlyBudgetUSD float64 `json:"monthly_budget_usd"`
}

// ConfigFromAM derives budget limits from the queue section of the resolved
// config.
func ConfigFromAM(cfg *am.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		DailyBudgetUSD:   cfg.Queue.DailyBudgetUSD,
		WeeklyBudgetUSD:  cfg.Queue.WeeklyBudgetUSD,
		MonthlyBudgetUSD: cfg.Queue.MonthlyBudgetUSD,
	}
}

// Status represents current budget state.
type Status struct {
	DailySpend       float64 `json:"daily_spend"`
	WeeklySpend      float64 `json:"weekly_spend"`
	MonthlySpend     float64 `json:"monthly_spend"`
	DailyRemaining   float64 `json:"daily_remaining"`
	WeeklyRemaining  float64 `json:"weekly_remaining"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	DailyOps         int     `json:"daily_ops"`
	WeeklyOps        int     `json:"weekly_ops"`
	MonthlyOps       int     `json:"monthly_ops"`
}

// Tracker tracks and enforces budget limits.
type Tracker struct {
	store  *Store
	config Config
	mu     sync.RWMutex // protects config from concurrent read/write
}

// NewTracker creates a budget tracker.
func NewTracker(db *sql.DB, config Config) *Tracker {
	return &Tracker{
		store:  NewStore(db),
		config: config,
	}
}

// GetStatus returns current budget state based on actual recorded usage.
func (bt *Tracker) GetStatus() (*Status, error) {
	dailySpend, dailyOps, err := bt.store.GetActualDailySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get daily spend from usage")
	}

	weeklySpend, weeklyOps, err := bt.store.GetActualWeeklySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get weekly spend from usage")
	}

	monthlySpend, monthlyOps, err := bt.store.GetActualMonthlySpend()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get monthly spend from usage")
	}

	bt.mu.RLock()
	dailyBudget := bt.config.DailyBudgetUSD
	weeklyBudget := bt.config.WeeklyBudgetUSD
	monthlyBudget := bt.config.MonthlyBudgetUSD
	bt.mu.RUnlock()

	return &Status{
		DailySpend:       dailySpend,
		WeeklySpend:      weeklySpend,
		MonthlySpend:     monthlySpend,
		DailyRemaining:   dailyBudget - dailySpend,
		WeeklyRemaining:  weeklyBudget - weeklySpend,
		MonthlyRemaining: monthlyBudget - monthlySpend,
		DailyOps:         dailyOps,
		WeeklyOps:        weeklyOps,
		MonthlyOps:       monthlyOps,
	}, nil
}

// CheckBudget returns an ErrBudgetExhausted error if an operation with the
// given estimated cost would exceed any enabled budget window.
func (bt *Tracker) CheckBudget(estimatedCostUSD float64) error {
	status, err := bt.GetStatus()
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	bt.mu.RLock()
	dailyBudget := bt.config.DailyBudgetUSD
	weeklyBudget := bt.config.WeeklyBudgetUSD
	monthlyBudget := bt.config.MonthlyBudgetUSD
	bt.mu.RUnlock()

	if dailyBudget > 0 && status.DailySpend+estimatedCostUSD > dailyBudget {
		return errors.Wrapf(errors.ErrBudgetExhausted,
			"daily budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.DailySpend, estimatedCostUSD, dailyBudget)
	}

	if weeklyBudget > 0 && status.WeeklySpend+estimatedCostUSD > weeklyBudget {
		return errors.Wrapf(errors.ErrBudgetExhausted,
			"weekly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.WeeklySpend, estimatedCostUSD, weeklyBudget)
	}

	if monthlyBudget > 0 && status.MonthlySpend+estimatedCostUSD > monthlyBudget {
		return errors.Wrapf(errors.ErrBudgetExhausted,
			"monthly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
			status.MonthlySpend, estimatedCostUSD, monthlyBudget)
	}

	return nil
}

// UpdateDailyBudget changes the daily limit at runtime and persists it.
func (bt *Tracker) UpdateDailyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Newf("daily budget cannot be negative: %.2f", newBudgetUSD)
	}

	bt.mu.Lock()
	bt.config.DailyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()

	if err := am.UpdateQueueDailyBudget(newBudgetUSD); err != nil {
		return errors.Wrap(err, "failed to persist daily budget to config")
	}
	return nil
}

// UpdateWeeklyBudget changes the weekly limit at runtime and persists it.
func (bt *Tracker) UpdateWeeklyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Newf("weekly budget cannot be negative: %.2f", newBudgetUSD)
	}

	bt.mu.Lock()
	bt.config.WeeklyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()

	if err := am.UpdateQueueWeeklyBudget(newBudgetUSD); err != nil {
		return errors.Wrap(err, "failed to persist weekly budget to config")
	}
	return nil
}

// UpdateMonthlyBudget changes the monthly limit at runtime and persists it.
func (bt *Tracker) UpdateMonthlyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Newf("monthly budget cannot be negative: %.2f", newBudgetUSD)
	}

	bt.mu.Lock()
	bt.config.MonthlyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()

	if err := am.UpdateQueueMonthlyBudget(newBudgetUSD); err != nil {
		return errors.Wrap(err, "failed to persist monthly budget to config")
	}
	return nil
}

// GetBudgetLimits returns the current limits.
func (bt *Tracker) GetBudgetLimits() Config {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.config
}
