package config

import (
	"encoding/json"
	"fmt"
)

// ProviderOllama is the only provider that runs without an API key.
const ProviderOllama = "ollama"

// Config represents the main deskclaw configuration
type Config struct {
	// Provider selects the LLM backend: anthropic, openai, ollama
	Provider string `json:"provider" mapstructure:"provider"`

	// Model is the model identifier passed to the provider
	Model string `json:"model" mapstructure:"model"`

	// APIKey is the provider credential (unused for ollama)
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// APIBase overrides the provider base URL (required for ollama)
	APIBase string `json:"api_base" mapstructure:"api_base"`

	// Temperature for sampling
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// MaxToolIterations bounds the tool loop inside one turn
	MaxToolIterations int `json:"max_tool_iterations" mapstructure:"max_tool_iterations"`

	// SystemPrompt is prepended to every turn
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`

	// DataDir is the state directory (default ~/.deskclaw)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// WorkspaceRoot is where per-session workspaces are derived
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace_root"`

	// AutonomyAllowlist lists file roots the agent may access
	AutonomyAllowlist []string `json:"autonomy_allowlist" mapstructure:"autonomy_allowlist"`

	// Features toggles optional subsystems
	Features FeaturesConfig `json:"features" mapstructure:"features"`

	// Cron holds scheduler configuration
	Cron CronConfig `json:"cron" mapstructure:"cron"`

	// Gateway holds the notification websocket server configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging holds logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// FeaturesConfig toggles optional subsystems
type FeaturesConfig struct {
	Cron    bool `json:"cron" mapstructure:"cron"`
	Gateway bool `json:"gateway" mapstructure:"gateway"`
	Memory  bool `json:"memory" mapstructure:"memory"`
}

// CronConfig holds scheduler configuration
type CronConfig struct {
	Enabled       bool `json:"enabled" mapstructure:"enabled"`
	MaxRunHistory int  `json:"max_run_history" mapstructure:"max_run_history"`
}

// GatewayConfig holds the websocket gateway configuration
type GatewayConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider:          "anthropic",
		Model:             "claude-sonnet-4",
		Temperature:       0.7,
		MaxToolIterations: 10,
		Features: FeaturesConfig{
			Cron:    true,
			Gateway: false,
			Memory:  true,
		},
		Cron: CronConfig{
			Enabled:       true,
			MaxRunHistory: 50,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8173,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Clone returns a deep copy of the configuration. Snapshots handed to a
// turn must not alias the store's slices.
func (c *Config) Clone() *Config {
	out := *c
	if c.AutonomyAllowlist != nil {
		out.AutonomyAllowlist = make([]string, len(c.AutonomyAllowlist))
		copy(out.AutonomyAllowlist, c.AutonomyAllowlist)
	}
	return &out
}

// RequiresAPIKey reports whether the active provider needs a credential.
func (c *Config) RequiresAPIKey() bool {
	return c.Provider != ProviderOllama
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Provider {
	case "anthropic", "openai", ProviderOllama:
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai, ollama)", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.RequiresAPIKey() && c.APIKey == "" {
		return fmt.Errorf("provider %s requires an api_key", c.Provider)
	}
	if c.Provider == ProviderOllama && c.APIBase == "" {
		return fmt.Errorf("provider ollama requires api_base")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.MaxToolIterations < 0 {
		return fmt.Errorf("max_tool_iterations cannot be negative")
	}
	if c.Cron.MaxRunHistory < 0 {
		return fmt.Errorf("cron max_run_history cannot be negative")
	}
	return nil
}
