// Package config binds the four process-wide settings named in spec.md §6
// at initialization time, following the teacher's own config.Parse()
// convention: an env var names an optional JSON file, whose fields override
// hardcoded defaults; a missing file is not an error.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EnvVar names the environment variable carrying the path to an optional
// JSON config file.
const EnvVar = "AGENT_SUPERVISOR_CONFIG"

const (
	defaultCLIPath           = "<agent-command>"
	defaultApprovalTimeoutMS = 300_000
	defaultMaxSessions       = 10
	defaultEventBufferSize   = 500
)

// EnvConfig is the process-wide configuration bound once at startup and
// passed to the Session Manager at construction.
type EnvConfig struct {
	CLIPath           string `json:"cli_path"`
	ApprovalTimeoutMS int    `json:"approval_timeout_ms"`
	MaxSessions       int    `json:"max_sessions"`
	EventBufferSize   int    `json:"event_buffer_size"`
}

// ApprovalTimeout returns ApprovalTimeoutMS as a time.Duration.
func (c EnvConfig) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutMS) * time.Millisecond
}

// Default returns the hardcoded defaults from spec.md §6.
func Default() EnvConfig {
	return EnvConfig{
		CLIPath:           defaultCLIPath,
		ApprovalTimeoutMS: defaultApprovalTimeoutMS,
		MaxSessions:       defaultMaxSessions,
		EventBufferSize:   defaultEventBufferSize,
	}
}

// Parse builds an EnvConfig starting from Default, then overlaying any
// fields set in the JSON file named by AGENT_SUPERVISOR_CONFIG. An unset
// env var, or a file that does not exist, is not an error — it leaves the
// defaults in place.
func Parse() (EnvConfig, error) {
	cfg := Default()

	path := os.Getenv(EnvVar)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var override EnvConfig
	if err := json.Unmarshal(data, &override); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if override.CLIPath != "" {
		cfg.CLIPath = override.CLIPath
	}
	if override.ApprovalTimeoutMS != 0 {
		cfg.ApprovalTimeoutMS = override.ApprovalTimeoutMS
	}
	if override.MaxSessions != 0 {
		cfg.MaxSessions = override.MaxSessions
	}
	if override.EventBufferSize != 0 {
		cfg.EventBufferSize = override.EventBufferSize
	}
	return cfg, nil
}
