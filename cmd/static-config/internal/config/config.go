// Package config loads static-config tool settings from an optional YAML
// file and the environment.
// Precedence: flags > environment variables > config file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables read by applyEnvOverrides.
const (
	EnvTemplate = "STATIC_CONFIG_TEMPLATE"
	EnvLogLevel = "STATIC_CONFIG_LOG_LEVEL"
)

// Config holds the tool settings. Configuration entries themselves only come
// from -p flags.
type Config struct {
	Template string        `yaml:"template"`
	Output   string        `yaml:"output"`
	World    string        `yaml:"world"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		World: "adapter",
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	Template string
	Output   string
	World    string
	LogLevel string
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty), the environment and cli. A named file that does not
// exist is an error.
func Load(path string, cli CLIOverrides) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cli.Template != "" {
		cfg.Template = cli.Template
	}
	if cli.Output != "" {
		cfg.Output = cli.Output
	}
	if cli.World != "" {
		cfg.World = cli.World
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}

	return cfg, nil
}

// decode unmarshals data over cfg, rejecting unknown keys at any depth.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if template := os.Getenv(EnvTemplate); template != "" {
		cfg.Template = template
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks the settings needed to produce an artifact.
func (c *Config) Validate() error {
	if c.Template == "" {
		return fmt.Errorf("template path is required (-template or %s)", EnvTemplate)
	}
	if c.Output == "" {
		return fmt.Errorf("output path is required (-o, use - for stdout)")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
