package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Thresholds ThresholdsConfig `mapstructure:"thresholds" yaml:"thresholds"`
	Actions    ActionsConfig    `mapstructure:"actions" yaml:"actions"`
	Target     TargetConfig     `mapstructure:"target" yaml:"target"`
	Watch      WatchConfig      `mapstructure:"watch" yaml:"watch"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
	Incidents  IncidentsConfig  `mapstructure:"incidents" yaml:"incidents"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// ThresholdsConfig configures the escalation gate. An exhaustion escalates
// once more than Count events fall within the last Time seconds.
type ThresholdsConfig struct {
	Time  int `mapstructure:"time" yaml:"time"`
	Count int `mapstructure:"count" yaml:"count"`
}

// Window returns the sliding window as a duration.
func (c ThresholdsConfig) Window() time.Duration {
	return time.Duration(c.Time) * time.Second
}

// ActionsConfig selects the diagnostics run before termination.
type ActionsConfig struct {
	PrintHeapHistogram      bool   `mapstructure:"print_heap_histogram" yaml:"print_heap_histogram"`
	HeapHistogramMaxEntries int    `mapstructure:"heap_histogram_max_entries" yaml:"heap_histogram_max_entries"`
	PrintMemoryUsage        bool   `mapstructure:"print_memory_usage" yaml:"print_memory_usage"`
	HeapDumpPath            string `mapstructure:"heap_dump_path" yaml:"heap_dump_path"`
	ThreadDumpDelay         string `mapstructure:"thread_dump_delay" yaml:"thread_dump_delay"`
}

// ThreadDumpDelayDuration parses ThreadDumpDelay, falling back to 5s.
func (c ActionsConfig) ThreadDumpDelayDuration() time.Duration {
	return parseDurationOr(c.ThreadDumpDelay, 5*time.Second)
}

// TargetConfig identifies the monitored process.
type TargetConfig struct {
	PID           int    `mapstructure:"pid" yaml:"pid"`
	Jcmd          string `mapstructure:"jcmd" yaml:"jcmd"`
	MemoryLimitMB int    `mapstructure:"memory_limit_mb" yaml:"memory_limit_mb"`
	ThreadLimit   int    `mapstructure:"thread_limit" yaml:"thread_limit"`
}

// WatchConfig configures the notification sources.
type WatchConfig struct {
	Interval string `mapstructure:"interval" yaml:"interval"`
	DropDir  string `mapstructure:"drop_dir" yaml:"drop_dir"`
	Listen   string `mapstructure:"listen" yaml:"listen"`
}

// IntervalDuration parses Interval, falling back to one second.
func (c WatchConfig) IntervalDuration() time.Duration {
	return parseDurationOr(c.Interval, time.Second)
}

// APIConfig configures the HTTP notification API.
type APIConfig struct {
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// IncidentsConfig configures the incident ledger.
type IncidentsConfig struct {
	DBPath    string `mapstructure:"db_path" yaml:"db_path"`
	ReportDir string `mapstructure:"report_dir" yaml:"report_dir"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
