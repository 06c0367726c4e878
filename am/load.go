package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the roost configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Set defaults but don't bind environment variables for this specific load
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &config, nil
}

// UseConfigFile pins configuration to a single explicit file, bypassing the
// merge cascade. Used by the --config flag; subsequent Load and Get calls see
// only this file's values layered over the built-in defaults.
func UseConfigFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Track file keys before the defaults are layered in.
	ConfigSources = make(map[string]SourceInfo)
	for _, key := range v.AllKeys() {
		ConfigSources[key] = SourceInfo{Source: SourceFlag, Path: configPath}
	}

	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	globalConfig = &config
	viperInstance = v
	return globalConfig, nil
}

// Reset clears the cached configuration (useful for testing and live reload)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Set up environment variable binding
	v.SetEnvPrefix("ROOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific sensitive configuration values to environment variables
	BindSensitiveEnvVars(v)

	// Set defaults first
	SetDefaults(v)

	// Manually merge configs in precedence order: system -> user -> automation -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// ConfigDir returns ~/.roost, creating it if needed
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roost"
	}
	dir := filepath.Join(home, ".roost")
	os.MkdirAll(dir, DefaultDirPermissions)
	return dir
}

// findProjectConfig searches for a project-local config by walking up the
// directory tree. Returns the first .roost/config.toml or roost.toml found,
// or empty string if none.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		// Check for .roost/config.toml first (directory form)
		dotPath := filepath.Join(dir, ".roost", "config.toml")
		if _, err := os.Stat(dotPath); err == nil {
			return dotPath
		}

		// Fall back to a bare roost.toml at the project root
		barePath := filepath.Join(dir, "roost.toml")
		if _, err := os.Stat(barePath); err == nil {
			return barePath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root, stop searching
			break
		}
		dir = parent
	}

	return ""
}

// ConfigSources records, per flattened key, which file or env var supplied the
// effective value. Rebuilt on every merge; later files overwrite earlier ones,
// mirroring the merge precedence.
var ConfigSources = make(map[string]SourceInfo)

// mergeConfigFiles manually merges configuration files in the correct precedence order
// Precedence (lowest to highest): system < user < automation-managed < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	roostDir := ConfigDir()

	projectConfig := findProjectConfig()
	layers := []struct {
		path   string
		source ConfigSource
	}{
		{"/etc/roost/roost.toml", SourceSystem},               // System config (lowest precedence)
		{filepath.Join(roostDir, "roost.toml"), SourceUser},   // User-edited config
		{filepath.Join(roostDir, "config.toml"), SourceManaged}, // Automation-managed config (config set, daemon updates)
	}

	// Add project config if found (highest file precedence, below env vars)
	if projectConfig != "" {
		layers = append(layers, struct {
			path   string
			source ConfigSource
		}{projectConfig, SourceProject})
	}

	ConfigSources = make(map[string]SourceInfo)

	for _, layer := range layers {
		if _, err := os.Stat(layer.path); err == nil {
			// Config file exists, merge it
			tempViper := viper.New()
			tempViper.SetConfigFile(layer.path)
			tempViper.SetConfigType("toml")

			if err := tempViper.ReadInConfig(); err == nil {
				// Merge this config into the main viper instance
				for key, value := range tempViper.AllSettings() {
					v.Set(key, value)
				}
				// Track flattened keys for introspection
				for _, key := range tempViper.AllKeys() {
					ConfigSources[key] = SourceInfo{Source: layer.source, Path: layer.path}
				}
			}
		}
	}
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	v := initViper()
	return v.Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	v := initViper()
	return v.GetString(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	v := initViper()
	return v.GetBool(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	v := initViper()
	return v.GetInt(key)
}

// GetFloat64 returns a configuration value as float64 using dot notation
func GetFloat64(key string) float64 {
	v := initViper()
	return v.GetFloat64(key)
}

// GetDatabasePath returns the configured database path
func GetDatabasePath() (string, error) {
	// Check for ROOST_DB_PATH environment variable first (for dev mode override)
	if dbPath := os.Getenv("ROOST_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}
