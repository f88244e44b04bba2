// Package config loads the settings of the stages command from the
// environment and pipeline definitions from YAML.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable read by Load.
const Prefix = "STAGES"

// Config holds the command settings. Flags override these values.
type Config struct {
	Pipeline     string `envconfig:"PIPELINE" default:"roundtrip"`
	Definition   string `envconfig:"DEFINITION"`
	Buffers      int    `envconfig:"BUFFERS" default:"10"`
	Cycles       int    `envconfig:"CYCLES" default:"1"`
	ErrorsBuffer uint   `envconfig:"ERRORS_BUFFER" default:"1024"`
	Profile      bool   `envconfig:"PROFILE" default:"false"`
	MetricsAddr  string `envconfig:"METRICS_ADDR"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev       bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads STAGES_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		Pipeline:     "roundtrip",
		Buffers:      10,
		Cycles:       1,
		ErrorsBuffer: 1024,
		LogLevel:     "info",
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Buffers < 1 {
		return fmt.Errorf("%w: buffers must be > 0, got %d", ErrInvalidDefinition, c.Buffers)
	}
	if c.Cycles < 1 {
		return fmt.Errorf("%w: cycles must be > 0, got %d", ErrInvalidDefinition, c.Cycles)
	}
	return nil
}
