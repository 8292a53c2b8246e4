package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

// Environment holds process-level overrides read from environment variables
type Environment struct {
	ConfigPath string `env:"EHF_CONFIG"`
	LogLevel   string `env:"EHF_LOG_LEVEL"`
	LogFormat  string `env:"EHF_LOG_FORMAT"`
}

// LoadEnvironment reads the EHF_* environment variables
func LoadEnvironment() (*Environment, error) {
	var e Environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}
	return &e, nil
}

// Apply overrides the logging settings of c with any that are set
func (e *Environment) Apply(c *Config) error {
	if e.LogLevel != "" {
		c.Logging.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Logging.Format = e.LogFormat
	}
	return c.validate()
}
