// Package config holds the engine's ambient configuration: LLM/tracker
// credentials, timeouts, checkpoint store overrides, and operating mode
// defaults. It follows the teacher's configuration.go pattern: an
// RWMutex-guarded struct with Clone/IsValid/defaulting, replaceable through
// Store.Set. Nothing watches the config file for changes.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the engine's full configuration surface.
type Config struct {
	// DrafterAPIKey authenticates the Implementation LLM wrapper.
	DrafterAPIKey string `yaml:"drafter_api_key"`
	// ReviewerAPIKey authenticates the Testing/Reviewer LLM wrapper.
	ReviewerAPIKey string `yaml:"reviewer_api_key"`
	// TrackerToken authenticates the external tracker client.
	TrackerToken string `yaml:"tracker_token"`

	// MaxIterations bounds the revision loop (spec §4.7 default 20).
	MaxIterations int `yaml:"max_iterations"`

	// EditorTimeoutSeconds bounds the blocking-edit gate (spec §5 default 24h).
	EditorTimeoutSeconds int `yaml:"editor_timeout_seconds"`
	// LLMTimeoutSeconds bounds Drafter/Reviewer calls (spec §5 default 5m).
	LLMTimeoutSeconds int `yaml:"llm_timeout_seconds"`
	// TrackerTimeoutSeconds bounds tracker calls (spec §5 default 30s).
	TrackerTimeoutSeconds int `yaml:"tracker_timeout_seconds"`

	// CheckpointStoreOverride, if non-empty, takes priority over the
	// per-repository checkpoint directory rule (spec §4.2 priority 1).
	CheckpointStoreOverride string `yaml:"checkpoint_store_override"`

	// EnableDebugLogging gates Logger.Debug output, as in the teacher.
	EnableDebugLogging bool `yaml:"enable_debug_logging"`

	// GovernanceLogRotation controls the governance log's lumberjack-backed
	// rotation policy (resolves the §9 open question: rotation is implemented).
	GovernanceLogMaxSizeMB  int `yaml:"governance_log_max_size_mb"`
	GovernanceLogMaxBackups int `yaml:"governance_log_max_backups"`
	GovernanceLogMaxAgeDays int `yaml:"governance_log_max_age_days"`
}

// Defaults returns the baseline configuration applied before file/env
// overrides, mirroring the teacher's OnConfigurationChange defaulting pass.
func Defaults() Config {
	return Config{
		MaxIterations:           20,
		EditorTimeoutSeconds:    24 * 60 * 60,
		LLMTimeoutSeconds:       5 * 60,
		TrackerTimeoutSeconds:   30,
		GovernanceLogMaxSizeMB:  10,
		GovernanceLogMaxBackups: 5,
		GovernanceLogMaxAgeDays: 90,
	}
}

// EditorTimeout, LLMTimeout, TrackerTimeout return the configured bounds as
// time.Duration for direct use with context.WithTimeout.
func (c Config) EditorTimeout() time.Duration {
	return time.Duration(c.EditorTimeoutSeconds) * time.Second
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) TrackerTimeout() time.Duration {
	return time.Duration(c.TrackerTimeoutSeconds) * time.Second
}

// Clone returns a value copy, safe to hand to a caller that may mutate it.
func (c Config) Clone() Config { return c }

// IsValid reports whether the configuration is usable. It does not require
// credentials to be present — MockMode/auto runs may have none — but it
// rejects structurally invalid values.
func (c Config) IsValid() error {
	if c.MaxIterations <= 0 {
		return errors.New("max_iterations must be positive")
	}
	if c.EditorTimeoutSeconds <= 0 || c.LLMTimeoutSeconds <= 0 || c.TrackerTimeoutSeconds <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// Load reads a YAML config file (if present), applies defaults for unset
// fields, then applies environment variable overrides, matching the
// priority order documented in SPEC_FULL.md: env > file > defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return Config{}, errors.Wrapf(err, "parse config file %s", path)
			}
			cfg = mergeNonZero(cfg, fileCfg)
		case os.IsNotExist(err):
			// No config file is not an error; defaults + env apply.
		default:
			return Config{}, errors.Wrapf(err, "read config file %s", path)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.IsValid(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeNonZero(base, override Config) Config {
	if override.DrafterAPIKey != "" {
		base.DrafterAPIKey = override.DrafterAPIKey
	}
	if override.ReviewerAPIKey != "" {
		base.ReviewerAPIKey = override.ReviewerAPIKey
	}
	if override.TrackerToken != "" {
		base.TrackerToken = override.TrackerToken
	}
	if override.MaxIterations != 0 {
		base.MaxIterations = override.MaxIterations
	}
	if override.EditorTimeoutSeconds != 0 {
		base.EditorTimeoutSeconds = override.EditorTimeoutSeconds
	}
	if override.LLMTimeoutSeconds != 0 {
		base.LLMTimeoutSeconds = override.LLMTimeoutSeconds
	}
	if override.TrackerTimeoutSeconds != 0 {
		base.TrackerTimeoutSeconds = override.TrackerTimeoutSeconds
	}
	if override.CheckpointStoreOverride != "" {
		base.CheckpointStoreOverride = override.CheckpointStoreOverride
	}
	if override.GovernanceLogMaxSizeMB != 0 {
		base.GovernanceLogMaxSizeMB = override.GovernanceLogMaxSizeMB
	}
	if override.GovernanceLogMaxBackups != 0 {
		base.GovernanceLogMaxBackups = override.GovernanceLogMaxBackups
	}
	if override.GovernanceLogMaxAgeDays != 0 {
		base.GovernanceLogMaxAgeDays = override.GovernanceLogMaxAgeDays
	}
	base.EnableDebugLogging = base.EnableDebugLogging || override.EnableDebugLogging
	return base
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOVERNANCE_DRAFTER_API_KEY"); v != "" {
		cfg.DrafterAPIKey = v
	}
	if v := os.Getenv("GOVERNANCE_REVIEWER_API_KEY"); v != "" {
		cfg.ReviewerAPIKey = v
	}
	if v := os.Getenv("GOVERNANCE_TRACKER_TOKEN"); v != "" {
		cfg.TrackerToken = v
	}
	if v := os.Getenv("GOVERNANCE_CHECKPOINT_STORE"); v != "" {
		cfg.CheckpointStoreOverride = v
	}
	if v := os.Getenv("GOVERNANCE_DEBUG"); v != "" {
		cfg.EnableDebugLogging = boolFromStr(v)
	}
}

// boolFromStr mirrors the teacher's tolerant string-to-bool parsing for
// environment-sourced configuration values.
func boolFromStr(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Store is an RWMutex-guarded holder for the active configuration, mirroring
// getConfiguration/setConfiguration in the teacher.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Set replaces the active configuration. It panics if called with a config
// that is identical to the current one by value and non-empty, matching the
// teacher's guard against accidental self-assignment bugs.
func (s *Store) Set(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg && (cfg != Config{}) {
		panic(fmt.Sprintf("config.Store.Set called with the already-active configuration: %+v", cfg))
	}
	s.cfg = cfg
}
