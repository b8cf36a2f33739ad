package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deskclaw/deskclaw/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and modify the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		shown := cfg.Clone()
		if shown.APIKey != "" {
			shown.APIKey = maskKey(shown.APIKey)
		}
		path, err := loader.Path()
		if err != nil {
			return err
		}
		fmt.Printf("Config file: %s\n%s\n", path, shown)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value and save the file",
	Long: `Set a configuration value. Supported keys: provider, model, api_key,
api_base, temperature, system_prompt, workspace_root, log_level.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		cfg, err := loader.Load()
		if err != nil {
			return err
		}

		key, value := args[0], args[1]
		if err := applyConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("rejected: %w", err)
		}
		if err := loader.Save(cfg); err != nil {
			return err
		}
		fmt.Printf("Set %s\n", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func applyConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "provider":
		cfg.Provider = value
	case "model":
		cfg.Model = value
	case "api_key":
		cfg.APIKey = value
	case "api_base":
		cfg.APIBase = value
	case "temperature":
		t, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("temperature must be a number: %w", err)
		}
		cfg.Temperature = t
	case "system_prompt":
		cfg.SystemPrompt = value
	case "workspace_root":
		cfg.WorkspaceRoot = value
	case "log_level":
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
