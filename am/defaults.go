package am

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Workspace defaults
	v.SetDefault("workspace.root", defaultWorkspaceRoot())
	v.SetDefault("workspace.clone_protocol", "ssh")
	v.SetDefault("workspace.git_name", "roost")
	v.SetDefault("workspace.git_email", "roost@localhost")
	v.SetDefault("workspace.cron_spec", "*/5 * * * *")

	// Database defaults
	v.SetDefault("database.path", defaultDatabasePath())

	// Server defaults
	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	// Agent gateway defaults
	v.SetDefault("agent.enabled", false)
	v.SetDefault("agent.base_url", "http://localhost:8315")
	v.SetDefault("agent.timeout_seconds", 60)
	v.SetDefault("agent.min_gateway_version", ">=0.1.0")

	// OpenRouter defaults
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini") // Cost-effective default
	v.SetDefault("openrouter.temperature", 0.2)            // Deterministic
	v.SetDefault("openrouter.max_tokens", 1000)            // Token limit

	// Local Inference (Ollama) defaults
	v.SetDefault("local_inference.enabled", false)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.context_size", 16384)
	v.SetDefault("local_inference.timeout_seconds", 3600)

	// Queue defaults
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.poll_interval_seconds", 2)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.graceful_start", true)
	v.SetDefault("queue.ticker_interval_seconds", 1)
	v.SetDefault("queue.daily_budget_usd", 3.0)    // Default $3/day limit
	v.SetDefault("queue.weekly_budget_usd", 7.0)   // Default $7/week limit
	v.SetDefault("queue.monthly_budget_usd", 15.0) // Default $15/month limit
	v.SetDefault("queue.pause_on_budget", true)
	v.SetDefault("queue.max_dispatch_per_minute", 30)

	// Autosave defaults
	v.SetDefault("autosave.enabled", true)
	v.SetDefault("autosave.debounce_ms", 2000)
	v.SetDefault("autosave.max_saves_per_minute", 2)
	v.SetDefault("autosave.sweep_interval_seconds", 0) // 0 = no scheduled sweep

	// Logging defaults
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.theme", "everforest")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Tokens
	v.BindEnv("agent.token", "ROOST_AGENT_TOKEN")
	v.BindEnv("server.token", "ROOST_SERVER_TOKEN")
	v.BindEnv("openrouter.api_key", "ROOST_OPENROUTER_API_KEY")

	// Database path
	v.BindEnv("database.path", "ROOST_DATABASE_PATH")

	// Local inference configuration
	v.BindEnv("local_inference.enabled", "ROOST_LOCAL_INFERENCE_ENABLED")
	v.BindEnv("local_inference.base_url", "ROOST_LOCAL_INFERENCE_BASE_URL")
	v.BindEnv("local_inference.model", "ROOST_LOCAL_INFERENCE_MODEL")
}

// defaultWorkspaceRoot returns ~/roost, falling back to a relative path when
// the home directory cannot be resolved.
func defaultWorkspaceRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "roost"
	}
	return filepath.Join(home, "roost")
}

// defaultDatabasePath returns ~/.roost/roost.db
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "roost.db"
	}
	return filepath.Join(home, ".roost", "roost.db")
}

// GetListenAddr returns the configured server listen address
func (c *Config) GetListenAddr() string {
	if c.Server.ListenAddr == "" {
		return DefaultListenAddr
	}
	return c.Server.ListenAddr
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return defaultDatabasePath()
	}
	return c.Database.Path
}

// GetWorkspaceRoot returns the configured workspace root
func (c *Config) GetWorkspaceRoot() string {
	if c.Workspace.Root == "" {
		return defaultWorkspaceRoot()
	}
	return c.Workspace.Root
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"http://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetLogTheme returns the symbol color theme (default: everforest)
func (c *Config) GetLogTheme() string {
	if c.Logging.Theme == "" {
		return "everforest"
	}
	return c.Logging.Theme
}
