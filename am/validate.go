package am

import "github.com/roostlabs/roost/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Workspace clone protocol: only ssh and https are understood
	if p := c.Workspace.CloneProtocol; p != "" && p != "ssh" && p != "https" {
		return errors.Newf("workspace.clone_protocol must be \"ssh\" or \"https\", got %q", p)
	}

	// Queue workers: 0 = no background workers, negative = invalid
	if c.Queue.Workers < 0 {
		return errors.Newf("queue.workers must be >= 0, got %d", c.Queue.Workers)
	}

	// Queue poll interval: 0 = default, negative = invalid
	if c.Queue.PollIntervalSeconds < 0 {
		return errors.Newf("queue.poll_interval_seconds must be >= 0, got %d", c.Queue.PollIntervalSeconds)
	}

	// Max retries: 0 = fail on first error (valid), negative = invalid
	if c.Queue.MaxRetries < 0 {
		return errors.Newf("queue.max_retries must be >= 0, got %d", c.Queue.MaxRetries)
	}

	// Ticker interval: 0 = no periodic ticking, negative = invalid
	if c.Queue.TickerIntervalSeconds < 0 {
		return errors.Newf("queue.ticker_interval_seconds must be >= 0, got %d", c.Queue.TickerIntervalSeconds)
	}

	// Budget values: 0 = no budget (valid per "zero means zero"), negative = invalid
	if c.Queue.DailyBudgetUSD < 0 {
		return errors.Newf("queue.daily_budget_usd must be >= 0, got %f", c.Queue.DailyBudgetUSD)
	}
	if c.Queue.WeeklyBudgetUSD < 0 {
		return errors.Newf("queue.weekly_budget_usd must be >= 0, got %f", c.Queue.WeeklyBudgetUSD)
	}
	if c.Queue.MonthlyBudgetUSD < 0 {
		return errors.Newf("queue.monthly_budget_usd must be >= 0, got %f", c.Queue.MonthlyBudgetUSD)
	}
	if c.Queue.MaxDispatchPerMinute < 0 {
		return errors.Newf("queue.max_dispatch_per_minute must be >= 0, got %d", c.Queue.MaxDispatchPerMinute)
	}

	// Validate agent gateway configuration only when enabled
	if c.Agent.Enabled {
		if c.Agent.BaseURL == "" {
			return errors.New("agent.base_url cannot be empty when enabled")
		}
		if c.Agent.TimeoutSeconds <= 0 {
			return errors.Newf("agent.timeout_seconds must be > 0, got %d", c.Agent.TimeoutSeconds)
		}
	}

	// Validate local inference configuration only when enabled
	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
		if c.LocalInference.TimeoutSeconds <= 0 {
			return errors.Newf("local_inference.timeout_seconds must be > 0, got %d", c.LocalInference.TimeoutSeconds)
		}
	}

	// Autosave limits: 0 = use default, negative = invalid
	if c.Autosave.DebounceMs < 0 {
		return errors.Newf("autosave.debounce_ms must be >= 0, got %d", c.Autosave.DebounceMs)
	}
	if c.Autosave.MaxSavesPerMinute < 0 {
		return errors.Newf("autosave.max_saves_per_minute must be >= 0, got %d", c.Autosave.MaxSavesPerMinute)
	}
	if c.Autosave.SweepIntervalSeconds < 0 {
		return errors.Newf("autosave.sweep_interval_seconds must be >= 0, got %d", c.Autosave.SweepIntervalSeconds)
	}

	return nil
}
