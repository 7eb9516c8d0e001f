package app

import "errors"

// Config holds the command-line level configuration for an App instance.
// Log options left empty defer to the settings file.
type Config struct {
	PipelinePath string
	SettingsPath string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
