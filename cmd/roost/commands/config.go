package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roostlabs/roost/am"
)

// ConfigCmd groups configuration operations
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and set configuration",
	Long: `config — Show, get, set, and validate roost configuration.

Configuration sources (in order of precedence):
1. Environment variables (ROOST_* prefix)
2. Project config (./.roost/config.toml or ./roost.toml, searched upward)
3. Managed config (~/.roost/config.toml, written by 'config set')
4. User config (~/.roost/roost.toml)
5. System config (/etc/roost/roost.toml)
6. Default values

Examples:
  roost config show                   # Show current configuration
  roost config show --format json     # Show configuration in JSON format
  roost config get database.path      # Get a specific value
  roost config set queue.workers 3    # Persist a value to the managed config
  roost config validate               # Validate current configuration
  roost config where                  # Show which files set what`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged roost configuration from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value using dot notation (e.g., database.path, queue.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long: `Write a value into the managed config file (~/.roost/config.toml).

The managed file sits above the user config in the cascade, so values set
here win over hand-edited ~/.roost/roost.toml but lose to project configs
and ROOST_* environment variables. A timestamped backup of the managed file
is kept beside it.

Examples:
  roost config set queue.workers 3
  roost config set queue.daily_budget_usd 1.50
  roost config set autosave.enabled false`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the merged roost configuration is usable",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files set which values.

Lists all configuration sources in order of precedence, grouping the active
settings under the file (or environment) that supplied them.`,
	RunE: runConfigWhere,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# roost configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# roost configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	fmt.Println(am.Get(key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if err := am.SetValue(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	// Re-resolve so the confirmation shows the value the cascade actually
	// produces; an env var or project config may still shadow the write.
	am.Reset()
	effective := am.Get(key)
	fmt.Printf("✓ %s = %v (written to %s)\n", key, effective, am.GetManagedConfigPath())
	if fmt.Sprintf("%v", effective) != value {
		fmt.Fprintf(os.Stderr, "note: a higher-precedence source overrides this value; 'roost config where' shows which\n")
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return fmt.Errorf("failed to get config introspection: %w", err)
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/roost/roost.toml")
	fmt.Println("  3. [USER]     ~/.roost/roost.toml")
	fmt.Println("  4. [MANAGED]  ~/.roost/config.toml ('config set', daemon updates)")
	fmt.Println("  5. [PROJECT]  ./.roost/config.toml or ./roost.toml (searches up directories)")
	fmt.Println("  6. [ENV]      ROOST_* environment variables")
	fmt.Println()

	// Group settings by the file (or source kind) that supplied them.
	type fileGroup struct {
		source   am.ConfigSource
		path     string
		settings []am.SettingInfo
	}
	settingsByPath := make(map[string]*fileGroup)
	for _, setting := range intro.Settings {
		key := setting.SourcePath
		if key == "" {
			key = string(setting.Source)
		}
		if group, exists := settingsByPath[key]; exists {
			group.settings = append(group.settings, setting)
		} else {
			settingsByPath[key] = &fileGroup{
				source:   setting.Source,
				path:     setting.SourcePath,
				settings: []am.SettingInfo{setting},
			}
		}
	}

	sourceOrder := []am.ConfigSource{
		am.SourceDefault,
		am.SourceSystem,
		am.SourceUser,
		am.SourceManaged,
		am.SourceProject,
		am.SourceEnvironment,
	}

	fmt.Println("Active configuration:")
	for _, source := range sourceOrder {
		var groups []*fileGroup
		for _, group := range settingsByPath {
			if group.source == source && len(group.settings) > 0 {
				groups = append(groups, group)
			}
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].path < groups[j].path })

		for _, group := range groups {
			switch {
			case group.path != "":
				fmt.Printf("\n%s: %d settings from %s\n", source, len(group.settings), group.path)
			case source == am.SourceEnvironment:
				fmt.Printf("\n%s: %d settings from environment variables\n", source, len(group.settings))
			default:
				fmt.Printf("\n%s: %d settings\n", source, len(group.settings))
			}

			sort.Slice(group.settings, func(i, j int) bool {
				return group.settings[i].Key < group.settings[j].Key
			})
			for _, setting := range group.settings {
				valueStr := fmt.Sprintf("%v", setting.Value)
				if am.IsSensitiveKey(setting.Key) && valueStr != "" {
					valueStr = "<redacted>"
				}
				if len(valueStr) > 50 {
					valueStr = valueStr[:47] + "..."
				}
				fmt.Printf("  %s = %s\n", setting.Key, valueStr)
			}
		}
	}

	return nil
}
