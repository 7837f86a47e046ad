package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	Ollama  OllamaConfig  `mapstructure:"ollama"`
	Think   string        `mapstructure:"think"`
	Search  SearchConfig  `mapstructure:"search"`
	Session SessionConfig `mapstructure:"session"`
}

// OllamaConfig configures the chat backend (native /api/chat protocol).
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"` // Optional, most local servers ignore it
}

// SearchConfig configures the search/fetch backend for the web tools.
type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Enabled  bool   `mapstructure:"enabled"` // Offer web tools by default
}

// SessionConfig configures transcript persistence.
type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Override default database path
}

// GetConfigDir returns the directory holding config.yaml.
func GetConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "thinkterm"), nil
}

// GetDataDir returns the directory holding the session database.
func GetDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "thinkterm"), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	setDefaults()

	// Config file is optional - won't error if missing
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("ollama.base_url", "http://localhost:11434")
	viper.SetDefault("ollama.model", "qwen3")
	viper.SetDefault("think", "high")
	viper.SetDefault("search.enabled", false)
	viper.SetDefault("session.enabled", true)
}

// ApplyOverrides applies model and think-level overrides from flags.
func (c *Config) ApplyOverrides(model, think string) {
	if model != "" {
		c.Ollama.Model = model
	}
	if think != "" {
		c.Think = think
	}
}
