// Package settings loads the runner's host-level configuration from a YAML
// file. Pipeline files describe jobs; settings describe the machine the
// jobs run on.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML decoding of Go duration strings
// like "45s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Settings is the runner's host configuration.
type Settings struct {
	// AgentName identifies this runner to the orchestration service.
	AgentName string `yaml:"agentName"`
	// WorkDir is the root under which repositories and step workspaces
	// live.
	WorkDir string `yaml:"workDir"`
	// ServerURL is the orchestration service endpoint, used by the
	// connectivity diagnostic.
	ServerURL string `yaml:"serverUrl"`

	LogFormat string `yaml:"logFormat"`
	LogLevel  string `yaml:"logLevel"`

	// TaskKeyFile holds per-job key material, deleted at job end. Empty
	// defaults to a file under WorkDir.
	TaskKeyFile string `yaml:"taskKeyFile"`

	// ShutdownGrace is how long a canceled job's teardown may take before
	// the runner gives up on it.
	ShutdownGrace Duration `yaml:"shutdownGrace"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		AgentName:     defaultAgentName(),
		WorkDir:       "_work",
		LogFormat:     "text",
		LogLevel:      "info",
		ShutdownGrace: Duration(2 * time.Minute),
	}
}

func defaultAgentName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "rigrunner"
}

// Load reads settings from path, layered over Default. A missing file is
// not an error; a malformed one is.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reading settings %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return s, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

func (s *Settings) validate() error {
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logFormat %q: must be 'text' or 'json'", s.LogFormat)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logLevel %q: must be 'debug', 'info', 'warn' or 'error'", s.LogLevel)
	}
	if s.WorkDir == "" {
		return fmt.Errorf("workDir must not be empty")
	}
	return nil
}

// TaskKeyPath resolves the task key file location.
func (s *Settings) TaskKeyPath() string {
	if s.TaskKeyFile != "" {
		return s.TaskKeyFile
	}
	return filepath.Join(s.WorkDir, ".taskkey")
}
