package am

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/roostlabs/roost/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Log deletion failures (but don't fail config save)
		fmt.Printf("⚠️  Failed to delete old backup %s: %v\n", back3, err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, SecretFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// GetManagedConfigPath returns the path to the automation-managed config file
// in ~/.roost/config.toml. Programmatic updates (config set, daemon budget
// changes) land here; the user-edited roost.toml is never rewritten.
func GetManagedConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// loadOrInitializeManagedConfig loads the managed config file, or creates an
// empty document if it doesn't exist yet.
func loadOrInitializeManagedConfig() (map[string]interface{}, string, error) {
	configPath := GetManagedConfigPath()

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		// File exists, parse it
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse managed config")
		}
	} else {
		// File doesn't exist, create empty config
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveManagedConfig writes the config to the managed config file with backup.
// Written 0600: the file may carry the agent/server bearer tokens.
func saveManagedConfig(config map[string]interface{}, configPath string) error {
	// Create backup
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Marshal to TOML
	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	// Write to file
	if err := os.WriteFile(configPath, data, SecretFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write managed config")
	}

	return nil
}

// section returns the named sub-table of the managed config, creating it if absent
func section(config map[string]interface{}, name string) map[string]interface{} {
	if s, ok := config[name].(map[string]interface{}); ok {
		return s
	}
	s := make(map[string]interface{})
	config[name] = s
	return s
}

// SetValue updates a single key in the managed config using dot notation
// (e.g., "queue.daily_budget_usd"). Only one level of nesting is supported,
// matching the section layout of Config.
func SetValue(dottedKey string, value interface{}) error {
	config, configPath, err := loadOrInitializeManagedConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load managed config")
	}

	sec, key, found := cutDot(dottedKey)
	if !found {
		return errors.Newf("key %q must be section.key form", dottedKey)
	}

	s := section(config, sec)
	s[key] = value

	return saveManagedConfig(config, configPath)
}

func cutDot(s string) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// UpdateQueueDailyBudget updates the daily budget in the managed config
func UpdateQueueDailyBudget(dailyBudget float64) error {
	config, configPath, err := loadOrInitializeManagedConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load managed config")
	}

	queue := section(config, "queue")
	queue["daily_budget_usd"] = dailyBudget

	return saveManagedConfig(config, configPath)
}

// UpdateQueueWeeklyBudget updates the weekly budget in the managed config
func UpdateQueueWeeklyBudget(weeklyBudget float64) error {
	config, configPath, err := loadOrInitializeManagedConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load managed config")
	}

	queue := section(config, "queue")
	queue["weekly_budget_usd"] = weeklyBudget

	return saveManagedConfig(config, configPath)
}

// UpdateQueueMonthlyBudget updates the monthly budget in the managed config
func UpdateQueueMonthlyBudget(monthlyBudget float64) error {
	config, configPath, err := loadOrInitializeManagedConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load managed config")
	}

	queue := section(config, "queue")
	queue["monthly_budget_usd"] = monthlyBudget

	return saveManagedConfig(config, configPath)
}

// UpdateAgentToken updates the agent gateway bearer token in the managed config
func UpdateAgentToken(token string) error {
	config, configPath, err := loadOrInitializeManagedConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load managed config")
	}

	agent := section(config, "agent")
	agent["token"] = token

	return saveManagedConfig(config, configPath)
}

// UpdateAutosaveEnabled updates the autosave.enabled setting in the managed config
func UpdateAutosaveEnabled(enabled bool) error {
	config, configPath, err := loadOrInitializeManagedConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load managed config")
	}

	autosave := section(config, "autosave")
	autosave["enabled"] = enabled

	return saveManagedConfig(config, configPath)
}
