package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Thresholds: ThresholdsConfig{Time: 1, Count: 0},
		Actions: ActionsConfig{
			HeapHistogramMaxEntries: 100,
			PrintMemoryUsage:        true,
			ThreadDumpDelay:         "5s",
		},
		Target:    TargetConfig{Jcmd: "jcmd"},
		Watch:     WatchConfig{Interval: "1s", Listen: "127.0.0.1:7070"},
		Incidents: IncidentsConfig{DBPath: ".killswitch/incidents.db"},
		Log:       LogConfig{Level: "info", Format: "auto"},
	}
}

func TestValidator_ValidConfig(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidator_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero time", func(c *Config) { c.Thresholds.Time = 0 }, "thresholds.time"},
		{"negative count", func(c *Config) { c.Thresholds.Count = -1 }, "thresholds.count"},
		{"negative entries", func(c *Config) { c.Actions.HeapHistogramMaxEntries = -5 }, "actions.heap_histogram_max_entries"},
		{"bad pattern", func(c *Config) { c.Actions.HeapDumpPath = "/tmp/%Q" }, "actions.heap_dump_path"},
		{"bad delay", func(c *Config) { c.Actions.ThreadDumpDelay = "soon" }, "actions.thread_dump_delay"},
		{"negative pid", func(c *Config) { c.Target.PID = -1 }, "target.pid"},
		{"negative thread limit", func(c *Config) { c.Target.ThreadLimit = -1 }, "target.thread_limit"},
		{"zero interval", func(c *Config) { c.Watch.Interval = "0s" }, "watch.interval"},
		{"bad listen", func(c *Config) { c.Watch.Listen = "7070" }, "watch.listen"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T", err)
			}
			if len(verrs) != 1 || verrs[0].Field != tt.field {
				t.Errorf("errors = %v, want one on %s", verrs, tt.field)
			}
		})
	}
}

func TestValidator_CollectsAll(t *testing.T) {
	cfg := validConfig()
	cfg.Thresholds.Time = 0
	cfg.Log.Level = "loud"

	v := NewValidator()
	err := v.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !v.Errors().HasErrors() || len(v.Errors()) != 2 {
		t.Errorf("Errors() = %v", v.Errors())
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected joined message, got %q", err.Error())
	}
}
