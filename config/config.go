// Package config loads client configuration from a YAML file, falling back
// to defaults when no file exists.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the client configuration.
type Config struct {
	// BackendURL is the base URL of the orchestrator.
	BackendURL string `yaml:"backend_url"`
	// AgentID names the agent addressed by new sessions.
	AgentID string `yaml:"agent_id"`
	// HistoryPath is the SQLite file completed turns are archived in. Empty
	// disables history.
	HistoryPath string `yaml:"history_path"`
	// EventBufferSize is the session event channel capacity.
	EventBufferSize int `yaml:"event_buffer_size"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		BackendURL:      "http://localhost:8080",
		AgentID:         "default",
		HistoryPath:     defaultHistoryPath(),
		EventBufferSize: 256,
	}
}

// Load reads the config file at path on top of the defaults. A missing file
// is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = Default().EventBufferSize
	}
	return cfg, nil
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tracechat.yaml"
	}
	return filepath.Join(home, ".config", "tracechat", "config.yaml")
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tracechat.db"
	}
	return filepath.Join(home, ".local", "share", "tracechat", "history.db")
}
