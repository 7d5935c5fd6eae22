package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
)

// Config holds all configuration for staging-engine.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Staging table synthesis options
	Staging StagingConfig `yaml:"staging"`

	// Table role heuristics
	Classifier ClassifierConfig `yaml:"classifier"`

	// Per-component parallelism
	Workers WorkerConfig `yaml:"workers"`
}

// StagingMode selects how connected components are turned into staging tables.
type StagingMode string

const (
	StagingModeOff    StagingMode = "off"
	StagingModeManual StagingMode = "manual"
	StagingModeAuto   StagingMode = "auto"
)

// CompositeKeyHandling selects how composite joins become shared keys.
type CompositeKeyHandling string

const (
	CompositeKeyConcatenate     CompositeKeyHandling = "concatenate"
	CompositeKeyCreateSurrogate CompositeKeyHandling = "createSurrogate"
)

// StagingConfig holds the staging synthesis options.
type StagingConfig struct {
	// Enabled turns staging synthesis on. When false only source relationships are produced.
	Enabled bool        `yaml:"enabled" env:"STAGING_ENABLED" env-default:"false"`
	Mode    StagingMode `yaml:"mode" env:"STAGING_MODE" env-default:"auto"`
	Prefix  string      `yaml:"prefix" env:"STAGING_PREFIX" env-default:"Staging_"`

	CompositeKeyHandling CompositeKeyHandling `yaml:"composite_key_handling" env:"STAGING_COMPOSITE_KEY_HANDLING" env-default:"concatenate"`

	CreateInternalStagingRelationships bool `yaml:"create_internal_staging_relationships" env:"STAGING_CREATE_INTERNAL_RELATIONSHIPS" env-default:"false"`
	DeactivateConflictingRelationships bool `yaml:"deactivate_conflicting_relationships" env:"STAGING_DEACTIVATE_CONFLICTING_RELATIONSHIPS" env-default:"true"`

	// ImportSourceRelationships emits the legacy model's own relationships alongside
	// the staging ones, so conflicts between them are resolved in one pass.
	ImportSourceRelationships bool `yaml:"import_source_relationships" env:"STAGING_IMPORT_SOURCE_RELATIONSHIPS" env-default:"true"`

	// ApprovedTableSets lists the table sets pre-approved for manual mode.
	// Each entry is a comma-separated list of table names, in any order.
	// From the environment, entries are separated by ";".
	ApprovedTableSets []string `yaml:"approved_table_sets" env:"STAGING_APPROVED_TABLE_SETS" env-separator:";"`

	MinComplexityScore float64 `yaml:"min_complexity_score" env:"STAGING_MIN_COMPLEXITY_SCORE" env-default:"0.5"`
	KeySeparator       string  `yaml:"key_separator" env:"STAGING_KEY_SEPARATOR" env-default:"_"`
}

// ClassifierConfig holds the table role heuristic options.
type ClassifierConfig struct {
	// RatioOnly classifies on the numeric ratio alone (> 0.3) instead of
	// requiring more than two numeric columns and a ratio above 0.2.
	RatioOnly bool `yaml:"ratio_only" env:"CLASSIFIER_RATIO_ONLY" env-default:"false"`
}

// WorkerConfig bounds per-component parallelism. 1 keeps the run single-threaded.
type WorkerConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" env:"WORKERS_MAX_CONCURRENT" env-default:"1"`
}

// DefaultStagingConfig returns the staging defaults for callers that embed the
// engine without loading a config file.
func DefaultStagingConfig() StagingConfig {
	return StagingConfig{
		Enabled:                            false,
		Mode:                               StagingModeAuto,
		Prefix:                             "Staging_",
		CompositeKeyHandling:               CompositeKeyConcatenate,
		CreateInternalStagingRelationships: false,
		DeactivateConflictingRelationships: true,
		ImportSourceRelationships:          true,
		MinComplexityScore:                 0.5,
		KeySeparator:                       "_",
	}
}

// Default returns a full configuration with every default applied.
func Default() *Config {
	return &Config{
		Env:      "local",
		LogLevel: "info",
		Staging:  DefaultStagingConfig(),
		Workers:  WorkerConfig{MaxConcurrent: 1},
	}
}

// Load reads configuration from path with environment variable overrides.
// A missing file is not an error when path is the default "config.yaml";
// in that case only environment variables and defaults apply.
func Load(version, path string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path == "" {
		path = "config.yaml"
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(statErr, os.ErrNotExist) && path == "config.yaml" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, statErr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks enum values and ranges.
func (c *Config) Validate() error {
	if err := c.Staging.Validate(); err != nil {
		return err
	}
	if c.Workers.MaxConcurrent < 1 {
		return fmt.Errorf("%w: workers.max_concurrent must be at least 1, got %d", apperrors.ErrInvalidConfig, c.Workers.MaxConcurrent)
	}
	return nil
}

// Validate checks the staging options.
func (s *StagingConfig) Validate() error {
	switch s.Mode {
	case StagingModeOff, StagingModeManual, StagingModeAuto:
	default:
		return fmt.Errorf("%w: staging.mode must be one of off, manual, auto; got %q", apperrors.ErrInvalidConfig, s.Mode)
	}

	switch s.CompositeKeyHandling {
	case CompositeKeyConcatenate, CompositeKeyCreateSurrogate:
	default:
		return fmt.Errorf("%w: staging.composite_key_handling must be concatenate or createSurrogate; got %q",
			apperrors.ErrInvalidConfig, s.CompositeKeyHandling)
	}

	if s.MinComplexityScore < 0 {
		return fmt.Errorf("%w: staging.min_complexity_score must not be negative", apperrors.ErrInvalidConfig)
	}
	if s.KeySeparator == "" {
		return fmt.Errorf("%w: staging.key_separator must not be empty", apperrors.ErrInvalidConfig)
	}
	return nil
}

// ApprovedSets parses ApprovedTableSets into sorted, comma-joined keys matching
// StagingCandidate.Key.
func (s *StagingConfig) ApprovedSets() map[string]bool {
	sets := make(map[string]bool, len(s.ApprovedTableSets))
	for _, entry := range s.ApprovedTableSets {
		var tables []string
		for _, t := range strings.Split(entry, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
		if len(tables) == 0 {
			continue
		}
		sort.Strings(tables)
		sets[strings.Join(tables, ",")] = true
	}
	return sets
}
