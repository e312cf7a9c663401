// Package config loads the YAML settings file and turns it into the explicit
// option values the rest of the module is constructed with. There is no
// process-wide configuration state; callers thread a Config into the pieces
// that need it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/convoke-ai/convoke/backend"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
)

// Config represents the application configuration.
type Config struct {
	LLM      LLMConfig                  `yaml:"llm"`
	Agent    AgentConfig                `yaml:"agent"`
	Sessions SessionsConfig             `yaml:"sessions"`
	Logging  LoggingConfig              `yaml:"logging"`
	Rates    map[string]core.ModelRates `yaml:"rates"` // per-MTok prices keyed by model id
}

// LLMConfig selects the provider and generation settings.
type LLMConfig struct {
	Provider       string   `yaml:"provider"` // anthropic or openai
	APIKey         string   `yaml:"api_key"`
	Model          string   `yaml:"model"`
	Temperature    *float64 `yaml:"temperature"`
	MaxTokens      int64    `yaml:"max_tokens"`
	ThinkingBudget int64    `yaml:"thinking_budget"`
}

// AgentConfig bounds the loop.
type AgentConfig struct {
	MaxTurns int    `yaml:"max_turns"`
	System   string `yaml:"system"`
}

// SessionsConfig locates session logs.
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Default returns the built-in settings used when no file is present.
func Default() *Config {
	return &Config{
		LLM:      LLMConfig{Provider: "anthropic", MaxTokens: 4096},
		Agent:    AgentConfig{MaxTurns: 10},
		Sessions: SessionsConfig{Dir: "sessions"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from a file, layering it over Default. A missing
// file yields the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides keep keys out of the settings file.
	switch cfg.LLM.Provider {
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.LLM.Provider != "anthropic" && c.LLM.Provider != "openai" {
		return fmt.Errorf("llm.provider must be 'anthropic' or 'openai'")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must not be negative")
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must not be negative")
	}
	if c.Sessions.Dir == "" {
		return fmt.Errorf("sessions.dir is required")
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	return nil
}

// StreamOptions renders the LLM settings as per-request stream options,
// attaching the rate card for the configured model when one is listed.
func (c *Config) StreamOptions() backend.StreamOptions {
	opts := backend.StreamOptions{
		Temperature:    c.LLM.Temperature,
		MaxTokens:      c.LLM.MaxTokens,
		ThinkingBudget: c.LLM.ThinkingBudget,
		APIKey:         c.LLM.APIKey,
	}
	if rates, ok := c.Rates[c.LLM.Model]; ok {
		opts.Rates = &rates
	}
	return opts
}

// LoggerConfig renders the logging section for logging.NewLogger.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()
	lc.Level = logging.ParseLevel(c.Logging.Level)
	if c.Logging.Format != "" {
		lc.Format = c.Logging.Format
	}
	return lc
}
