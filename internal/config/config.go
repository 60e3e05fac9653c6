package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chefcode-ai/chefcode/internal/consts"
)

// CommandConfig describes one of the fixed commands the runner may spawn
// inside the execution host.
type CommandConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// ServerConfig holds settings for the observer web server
type ServerConfig struct {
	Listen  string `json:"listen"`
	Enabled bool   `json:"enabled"`
}

// Config is the daemon configuration
type Config struct {
	// WorkDir is the root of the execution host filesystem
	WorkDir string `json:"work_dir"`

	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`

	// Commands the runner spawns for build/install/deploy/dev-server steps
	Build     CommandConfig `json:"build"`
	Install   CommandConfig `json:"install"`
	Deploy    CommandConfig `json:"deploy"`
	DevServer CommandConfig `json:"dev_server"`

	Server ServerConfig `json:"server"`

	// ExtraNoiseFilters extends the built-in sanitizer denylist
	ExtraNoiseFilters []string `json:"extra_noise_filters,omitempty"`

	// ToolOutputTokenBudget caps sanitized tool output size; 0 uses the default
	ToolOutputTokenBudget int `json:"tool_output_token_budget,omitempty"`
}

// Default returns a configuration with sensible defaults for a local host
func Default() *Config {
	return &Config{
		WorkDir:  ".",
		LogLevel: "info",
		Build: CommandConfig{
			Command: "npm",
			Args:    []string{"run", "build"},
		},
		Install: CommandConfig{
			Command: "npm",
			Args:    []string{"install"},
		},
		Deploy: CommandConfig{
			Command: "npx",
			Args:    []string{"convex", "deploy"},
		},
		DevServer: CommandConfig{
			Command: "npx",
			Args:    []string{"vite", "dev"},
		},
		Server: ServerConfig{
			Listen:  "localhost:8941",
			Enabled: true,
		},
		ToolOutputTokenBudget: consts.DefaultToolOutputTokenBudget,
	}
}

// DefaultPath returns the default config file location
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "chefcode", "config.json"), nil
}

// Load reads the configuration from the given path. A missing file yields
// the defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to the given path, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// TokenBudget returns the effective tool output token budget
func (c *Config) TokenBudget() int {
	if c.ToolOutputTokenBudget > 0 {
		return c.ToolOutputTokenBudget
	}
	return consts.DefaultToolOutputTokenBudget
}
