package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSourceTracking verifies that merged config keys remember which file
// supplied them, and that later layers overwrite earlier ones.
func TestSourceTracking(t *testing.T) {
	t.Run("user roost.toml vs managed config.toml precedence", func(t *testing.T) {
		Reset()
		defer Reset()

		tempDir := t.TempDir()
		roostDir := filepath.Join(tempDir, ".roost")
		require.NoError(t, os.MkdirAll(roostDir, 0755))

		// User-edited config (lower precedence)
		userToml := `
[database]
path = "user.db"

[queue]
workers = 4
`
		require.NoError(t, os.WriteFile(
			filepath.Join(roostDir, "roost.toml"),
			[]byte(userToml),
			0644,
		))

		// Managed config overrides database.path
		managedToml := `
[database]
path = "managed.db"
`
		require.NoError(t, os.WriteFile(
			filepath.Join(roostDir, "config.toml"),
			[]byte(managedToml),
			0600,
		))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(tempDir)
		t.Setenv("HOME", tempDir)

		cfg, err := Load()
		require.NoError(t, err)

		// Managed config wins on the contested key
		assert.Equal(t, "managed.db", cfg.Database.Path, "managed config.toml should win over roost.toml")
		assert.Equal(t, SourceManaged, ConfigSources["database.path"].Source)
		assert.Contains(t, ConfigSources["database.path"].Path, "config.toml")

		// Uncontested key keeps the user source
		assert.Equal(t, 4, cfg.Queue.Workers)
		assert.Equal(t, SourceUser, ConfigSources["queue.workers"].Source)
		assert.Contains(t, ConfigSources["queue.workers"].Path, "roost.toml")
	})

	t.Run("defaults fall back in introspection", func(t *testing.T) {
		Reset()
		defer Reset()

		tempDir := t.TempDir()
		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(tempDir)
		t.Setenv("HOME", tempDir)

		_, err := Load()
		require.NoError(t, err)

		intro, err := GetConfigIntrospection()
		require.NoError(t, err)
		require.NotEmpty(t, intro.Settings)

		var found bool
		for _, s := range intro.Settings {
			if s.Key == "queue.max_retries" {
				found = true
				assert.Equal(t, SourceDefault, s.Source)
			}
		}
		assert.True(t, found, "queue.max_retries should appear in introspection")
	})

	t.Run("sensitive keys are redacted", func(t *testing.T) {
		Reset()
		defer Reset()

		tempDir := t.TempDir()
		roostDir := filepath.Join(tempDir, ".roost")
		require.NoError(t, os.MkdirAll(roostDir, 0755))

		require.NoError(t, os.WriteFile(
			filepath.Join(roostDir, "roost.toml"),
			[]byte("[agent]\ntoken = \"sekrit-token-value\"\n"),
			0600,
		))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(tempDir)
		t.Setenv("HOME", tempDir)

		_, err := Load()
		require.NoError(t, err)

		intro, err := GetConfigIntrospection()
		require.NoError(t, err)

		for _, s := range intro.Settings {
			if s.Key == "agent.token" {
				assert.Equal(t, "[redacted]", s.Value, "token must not leak through introspection")
			}
		}
	})
}

// TestManagedConfigPersist verifies programmatic updates land in the managed
// config with rotating backups and survive a reload.
func TestManagedConfigPersist(t *testing.T) {
	Reset()
	defer Reset()

	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tempDir)

	require.NoError(t, UpdateQueueDailyBudget(5.50))

	managedPath := GetManagedConfigPath()
	data, err := os.ReadFile(managedPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "daily_budget_usd")

	// Second write rotates the first into .back1
	require.NoError(t, UpdateQueueDailyBudget(6.25))
	_, err = os.Stat(managedPath + ".back1")
	require.NoError(t, err, "expected .back1 after second write")

	// Third and fourth writes cascade the rotation
	require.NoError(t, UpdateQueueMonthlyBudget(20.0))
	require.NoError(t, UpdateAgentToken("tok"))
	_, err = os.Stat(managedPath + ".back2")
	require.NoError(t, err, "expected .back2 after subsequent writes")

	// Reload sees the updates
	Reset()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6.25, cfg.Queue.DailyBudgetUSD)
	assert.Equal(t, 20.0, cfg.Queue.MonthlyBudgetUSD)
	assert.Equal(t, "tok", cfg.Agent.Token)
}

func TestSetValue(t *testing.T) {
	Reset()
	defer Reset()

	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tempDir)

	require.NoError(t, SetValue("autosave.max_saves_per_minute", 5))

	Reset()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Autosave.MaxSavesPerMinute)

	// Keys without a section are rejected
	err = SetValue("workers", 3)
	require.Error(t, err)
}
