// Package config defines the service configuration and its loading order:
// built-in defaults, then an optional YAML file named by OMR_CONFIG, then
// OMR_-prefixed environment variables.
package config

import (
	"fmt"
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DataDir holds uploaded sheets, overlay renders, and audit exports.
	DataDir string `koanf:"data_dir"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `koanf:"database_path"`

	// WorkerCount sets the number of grading workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory grading queue.
	QueueSize int `koanf:"queue_size"`

	// AuditCapacity bounds the in-memory audit record store.
	AuditCapacity int `koanf:"audit_capacity"`

	// DefaultTemplate names the template used when an upload does not pick one.
	DefaultTemplate string `koanf:"default_template"`

	// TemplateDir optionally holds extra template JSON files loaded at startup.
	TemplateDir string `koanf:"template_dir"`

	// AnswerKeyDir optionally holds answer key JSON files loaded at startup.
	AnswerKeyDir string `koanf:"answerkey_dir"`

	// Mark resolution thresholds. Fill scores at or below the floor read as
	// blank, at or above the ceiling as confident marks; between the two the
	// row is ambiguous.
	FillFloor        float64 `koanf:"fill_floor"`
	FillCeiling      float64 `koanf:"fill_ceiling"`
	SeparationMargin float64 `koanf:"separation_margin"`

	// ClassifierModelPath optionally points at a trained ambiguity classifier
	// model; empty leaves ambiguous rows unresolved.
	ClassifierModelPath string  `koanf:"classifier_model_path"`
	ClassifierMinConf   float64 `koanf:"classifier_min_confidence"`
	TieBand             float64 `koanf:"tie_band"`

	// OCREnabled turns on version-box reading for templates that declare one.
	OCREnabled bool `koanf:"ocr_enabled"`
}

// New returns the built-in defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":8080",
		DataDir:           "data",
		DatabasePath:      "data/omr.db",
		WorkerCount:       runtime.NumCPU(),
		QueueSize:         256,
		AuditCapacity:     256,
		DefaultTemplate:   "standard-100",
		FillFloor:         0.20,
		FillCeiling:       0.60,
		SeparationMargin:  0.15,
		ClassifierMinConf: 0.60,
		TieBand:           0.10,
	}
}

// Validate rejects configurations the service cannot start with. Threshold
// relationships are checked again by the pipeline; this catches the obvious
// mistakes before any component is built.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir must not be empty", ErrInvalidConfig)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database_path must not be empty", ErrInvalidConfig)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be at least 1, got %d", ErrInvalidConfig, c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be at least 1, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.AuditCapacity < 1 {
		return fmt.Errorf("%w: audit_capacity must be at least 1, got %d", ErrInvalidConfig, c.AuditCapacity)
	}
	if c.DefaultTemplate == "" {
		return fmt.Errorf("%w: default_template must not be empty", ErrInvalidConfig)
	}
	if c.FillFloor < 0 || c.FillCeiling > 1 || c.FillFloor >= c.FillCeiling {
		return fmt.Errorf("%w: fill thresholds need 0 <= floor < ceiling <= 1, got floor %.2f ceiling %.2f",
			ErrInvalidConfig, c.FillFloor, c.FillCeiling)
	}
	if c.SeparationMargin < 0 || c.SeparationMargin > 1 {
		return fmt.Errorf("%w: separation_margin must be in [0,1], got %.2f", ErrInvalidConfig, c.SeparationMargin)
	}
	if c.ClassifierMinConf < 0 || c.ClassifierMinConf > 1 {
		return fmt.Errorf("%w: classifier_min_confidence must be in [0,1], got %.2f", ErrInvalidConfig, c.ClassifierMinConf)
	}
	if c.TieBand < 0 || c.TieBand > 1 {
		return fmt.Errorf("%w: tie_band must be in [0,1], got %.2f", ErrInvalidConfig, c.TieBand)
	}
	return nil
}
