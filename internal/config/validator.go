package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/killswitch/internal/dumppath"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateThresholds(&cfg.Thresholds)
	v.validateActions(&cfg.Actions)
	v.validateTarget(&cfg.Target)
	v.validateWatch(&cfg.Watch)
	v.validateIncidents(&cfg.Incidents)
	v.validateLog(&cfg.Log)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateThresholds(cfg *ThresholdsConfig) {
	if cfg.Time < 1 {
		v.addError("thresholds.time", cfg.Time, "must be at least 1 second")
	}
	if cfg.Count < 0 {
		v.addError("thresholds.count", cfg.Count, "must not be negative")
	}
}

func (v *Validator) validateActions(cfg *ActionsConfig) {
	if cfg.HeapHistogramMaxEntries < 0 {
		v.addError("actions.heap_histogram_max_entries", cfg.HeapHistogramMaxEntries, "must not be negative (0 means unlimited)")
	}
	if cfg.HeapDumpPath != "" {
		if err := dumppath.Validate(cfg.HeapDumpPath); err != nil {
			v.addError("actions.heap_dump_path", cfg.HeapDumpPath, err.Error())
		}
	}
	if cfg.ThreadDumpDelay != "" {
		if d, err := time.ParseDuration(cfg.ThreadDumpDelay); err != nil || d < 0 {
			v.addError("actions.thread_dump_delay", cfg.ThreadDumpDelay, "must be a non-negative duration")
		}
	}
}

func (v *Validator) validateTarget(cfg *TargetConfig) {
	if cfg.PID < 0 {
		v.addError("target.pid", cfg.PID, "must not be negative (0 means self)")
	}
	if cfg.MemoryLimitMB < 0 {
		v.addError("target.memory_limit_mb", cfg.MemoryLimitMB, "must not be negative")
	}
	if cfg.ThreadLimit < 0 {
		v.addError("target.thread_limit", cfg.ThreadLimit, "must not be negative")
	}
}

func (v *Validator) validateWatch(cfg *WatchConfig) {
	if cfg.Interval != "" {
		if d, err := time.ParseDuration(cfg.Interval); err != nil || d <= 0 {
			v.addError("watch.interval", cfg.Interval, "must be a positive duration")
		}
	}
	if cfg.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
			v.addError("watch.listen", cfg.Listen, "must be host:port")
		}
	}
	if cfg.DropDir != "" && !isValidPath(cfg.DropDir) {
		v.addError("watch.drop_dir", cfg.DropDir, "invalid directory path")
	}
}

func (v *Validator) validateIncidents(cfg *IncidentsConfig) {
	if cfg.DBPath != "" && !isValidPath(cfg.DBPath) {
		v.addError("incidents.db_path", cfg.DBPath, "invalid file path")
	}
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
