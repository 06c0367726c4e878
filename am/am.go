package am

import "fmt"

// Config represents the core roost configuration
type Config struct {
	Workspace      WorkspaceConfig      `mapstructure:"workspace"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Server         ServerConfig         `mapstructure:"server"`
	Agent          AgentConfig          `mapstructure:"agent"`
	OpenRouter     OpenRouterConfig     `mapstructure:"openrouter"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Autosave       AutosaveConfig       `mapstructure:"autosave"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// WorkspaceConfig configures the agent workspace layout and git identity
type WorkspaceConfig struct {
	Root          string `mapstructure:"root"`           // Workspace root (default: ~/roost)
	CloneProtocol string `mapstructure:"clone_protocol"` // "ssh" or "https" for GitHub shorthand (default: ssh)
	GitName       string `mapstructure:"git_name"`       // Commit author name
	GitEmail      string `mapstructure:"git_email"`      // Commit author email
	CronSpec      string `mapstructure:"cron_spec"`      // Crontab schedule for queue process (default: */5 * * * *)
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // Database file (default: ~/.roost/roost.db)
}

// ServerConfig configures the roost status/control HTTP server
type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"` // host:port (default: 127.0.0.1:7433)
	Token          string   `mapstructure:"token"`       // Bearer token for /api/*; empty = no auth (loopback only)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server constants
const (
	DefaultListenAddr = "127.0.0.1:7433"
)

// AgentConfig configures the local agent gateway that prompt jobs POST to
type AgentConfig struct {
	Enabled           bool   `mapstructure:"enabled"`             // Dispatch prompts via the gateway instead of direct LLM calls
	BaseURL           string `mapstructure:"base_url"`            // e.g., "http://localhost:8315"
	Token             string `mapstructure:"token"`               // Bearer token; cleartext, per the gateway protocol
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`     // Request timeout (default: 60)
	MinGatewayVersion string `mapstructure:"min_gateway_version"` // Semver constraint checked by doctor (e.g., ">=0.4.0")
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string              `mapstructure:"api_key"`     // OpenRouter API key
	Model       string              `mapstructure:"model"`       // Default model (e.g., "openai/gpt-4o-mini")
	Temperature *float64            `mapstructure:"temperature"` // Sampling temperature (nil = default 0.2)
	MaxTokens   *int                `mapstructure:"max_tokens"`  // Maximum tokens per request (nil = default 1000)
	Delegation  map[string][]string `mapstructure:"delegation"`  // category -> ordered model candidates
}

// LocalInferenceConfig configures local model inference (Ollama, LocalAI, etc.)
type LocalInferenceConfig struct {
	Enabled        bool   `mapstructure:"enabled"`         // Prefer local inference over cloud APIs
	BaseURL        string `mapstructure:"base_url"`        // e.g., "http://localhost:11434" for Ollama
	Model          string `mapstructure:"model"`           // e.g., "mistral", "qwen2.5-coder:7b"
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // Request timeout in seconds
	ContextSize    *int   `mapstructure:"context_size"`    // Context window size (nil = model default)
}

// QueueConfig configures the job queue, worker pool, and spend gates
type QueueConfig struct {
	// Worker concurrency configuration
	Workers             int  `mapstructure:"workers"`               // Concurrent job workers (default: 2)
	PollIntervalSeconds int  `mapstructure:"poll_interval_seconds"` // Queue poll cadence (default: 2)
	MaxRetries          int  `mapstructure:"max_retries"`           // Attempts before a job is marked failed (default: 3)
	GracefulStart       bool `mapstructure:"graceful_start"`        // Spread worker startup over a warm-up phase

	// Ticker configuration for scheduled job execution
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // How often to check for scheduled jobs (default: 1)

	// Budget tracking (enforced locally against ai_model_usage)
	DailyBudgetUSD   float64 `mapstructure:"daily_budget_usd"`   // Daily spending limit in USD
	WeeklyBudgetUSD  float64 `mapstructure:"weekly_budget_usd"`  // Weekly spending limit in USD
	MonthlyBudgetUSD float64 `mapstructure:"monthly_budget_usd"` // Monthly spending limit in USD
	PauseOnBudget    bool    `mapstructure:"pause_on_budget"`    // Pause workers when budget is exhausted (default: true)

	// Dispatch rate gate
	MaxDispatchPerMinute int `mapstructure:"max_dispatch_per_minute"` // Sliding-window limit on agent/LLM dispatch (default: 30)
}

// AutosaveConfig configures the repo autosave watcher and scheduled sweeps
type AutosaveConfig struct {
	Enabled              bool   `mapstructure:"enabled"`                // Watch registered repos and enqueue saves (default: true)
	DebounceMs           int    `mapstructure:"debounce_ms"`            // Quiet period after the last write (default: 2000)
	MaxSavesPerMinute    int    `mapstructure:"max_saves_per_minute"`   // Per-repo rate cap (default: 2)
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"` // Scheduled save-all sweep; 0 = disabled
	DailyBriefingPrompt  string `mapstructure:"daily_briefing_prompt"`  // Prompt doc name for the daily briefing schedule; empty = disabled
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	JSON  bool   `mapstructure:"json"`  // Structured JSON output instead of console encoder
	Theme string `mapstructure:"theme"` // Symbol color theme: gruvbox, everforest
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
	SecretFilePermissions  = 0600 // Token- and key-bearing files (rw-------)
)

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Workspace: %s, Database: %s, Queue: {Workers: %d}}",
		c.Workspace.Root, c.Database.Path, c.Queue.Workers)
}
