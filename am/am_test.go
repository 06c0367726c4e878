package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	// Load config from isolated viper
	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	// Check default values are applied
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("expected default listen addr %q, got %q", DefaultListenAddr, cfg.Server.ListenAddr)
	}

	if cfg.Queue.Workers != 2 {
		t.Errorf("expected default workers 2, got %d", cfg.Queue.Workers)
	}

	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Queue.MaxRetries)
	}

	if cfg.Workspace.CloneProtocol != "ssh" {
		t.Errorf("expected default clone protocol ssh, got %q", cfg.Workspace.CloneProtocol)
	}

	if cfg.LocalInference.BaseURL != "http://localhost:11434" {
		t.Errorf("expected default local inference URL, got %q", cfg.LocalInference.BaseURL)
	}
}

func TestValidate_ZeroValues(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "zero workers is valid (disabled)",
			config: Config{
				Queue: QueueConfig{Workers: 0},
			},
			wantErr: false,
		},
		{
			name: "negative workers is invalid",
			config: Config{
				Queue: QueueConfig{Workers: -1},
			},
			wantErr: true,
		},
		{
			name: "zero ticker interval is valid (disabled)",
			config: Config{
				Queue: QueueConfig{TickerIntervalSeconds: 0},
			},
			wantErr: false,
		},
		{
			name: "negative ticker interval is invalid",
			config: Config{
				Queue: QueueConfig{TickerIntervalSeconds: -1},
			},
			wantErr: true,
		},
		{
			name: "zero max retries is valid (fail fast)",
			config: Config{
				Queue: QueueConfig{MaxRetries: 0},
			},
			wantErr: false,
		},
		{
			name: "negative max retries is invalid",
			config: Config{
				Queue: QueueConfig{MaxRetries: -1},
			},
			wantErr: true,
		},
		{
			name: "zero budget is valid (no budget)",
			config: Config{
				Queue: QueueConfig{DailyBudgetUSD: 0},
			},
			wantErr: false,
		},
		{
			name: "negative budget is invalid",
			config: Config{
				Queue: QueueConfig{DailyBudgetUSD: -1.0},
			},
			wantErr: true,
		},
		{
			name: "unknown clone protocol is invalid",
			config: Config{
				Workspace: WorkspaceConfig{CloneProtocol: "gopher"},
			},
			wantErr: true,
		},
		{
			name: "agent enabled without base_url is invalid",
			config: Config{
				Agent: AgentConfig{Enabled: true, BaseURL: "", TimeoutSeconds: 60},
			},
			wantErr: true,
		},
		{
			name: "agent enabled with base_url is valid",
			config: Config{
				Agent: AgentConfig{Enabled: true, BaseURL: "http://localhost:8315", TimeoutSeconds: 60},
			},
			wantErr: false,
		},
		{
			name: "empty database path is valid",
			config: Config{
				Database: DatabaseConfig{Path: ""},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	// Verify critical defaults are set
	tests := []struct {
		key      string
		expected interface{}
	}{
		{"server.listen_addr", DefaultListenAddr},
		{"workspace.clone_protocol", "ssh"},
		{"workspace.cron_spec", "*/5 * * * *"},
		{"queue.workers", 2},
		{"queue.poll_interval_seconds", 2},
		{"queue.max_retries", 3},
		{"queue.pause_on_budget", true},
		{"queue.max_dispatch_per_minute", 30},
		{"autosave.enabled", true},
		{"autosave.max_saves_per_minute", 2},
		{"local_inference.enabled", false},
		{"local_inference.base_url", "http://localhost:11434"},
		{"agent.timeout_seconds", 60},
		{"logging.theme", "everforest"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := v.Get(tt.key)
			if got != tt.expected {
				t.Errorf("default %s = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	// Test 1: .roost/config.toml preferred over bare roost.toml
	t.Run("prefers .roost/config.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		// Create both config forms
		os.MkdirAll(filepath.Join(tmpDir, "test1", ".roost"), DefaultDirPermissions)
		os.WriteFile(filepath.Join(tmpDir, "test1", ".roost", "config.toml"), []byte(""), DefaultFilePermissions)
		os.WriteFile(filepath.Join(tmpDir, "test1", "roost.toml"), []byte(""), DefaultFilePermissions)

		// Change to subdirectory
		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Fatal("expected to find config file")
		}
		if !filepath.IsAbs(result) {
			t.Error("expected absolute path")
		}
		if filepath.Base(filepath.Dir(result)) != ".roost" {
			t.Errorf("expected .roost/config.toml, got %s", result)
		}
	})

	// Test 2: Falls back to roost.toml when no .roost directory
	t.Run("fallback to roost.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		os.WriteFile(filepath.Join(tmpDir, "test2", "roost.toml"), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Fatal("expected to find config file")
		}
		if filepath.Base(result) != "roost.toml" {
			t.Errorf("expected roost.toml, got %s", filepath.Base(result))
		}
	})

	// Test 3: Returns empty string when no config found
	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test3", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})
}

func TestGetWorkspaceRoot(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	root := cfg.GetWorkspaceRoot()
	if root == "" {
		t.Fatal("expected non-empty workspace root")
	}
	if filepath.Base(root) != "roost" {
		t.Errorf("expected workspace root to end in roost, got %q", root)
	}
}

func TestGetDatabasePath(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	path := cfg.GetDatabasePath()
	if filepath.Base(path) != "roost.db" {
		t.Errorf("expected default path to end in roost.db, got %q", path)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"agent.token", true},
		{"server.token", true},
		{"openrouter.api_key", true},
		{"workspace.root", false},
		{"queue.workers", false},
	}

	for _, tt := range tests {
		if got := IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
