package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "KILLSWITCH",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (KILLSWITCH_*)
// 3. Project config (.killswitch.yaml in current directory)
// 4. User config (~/.config/killswitch/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".killswitch")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "killswitch"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("thresholds.time", DefaultTimeThreshold)
	l.v.SetDefault("thresholds.count", DefaultCountThreshold)

	l.v.SetDefault("actions.print_heap_histogram", false)
	l.v.SetDefault("actions.heap_histogram_max_entries", DefaultHeapHistogramMaxEntries)
	l.v.SetDefault("actions.print_memory_usage", true)
	l.v.SetDefault("actions.heap_dump_path", "")
	l.v.SetDefault("actions.thread_dump_delay", "5s")

	l.v.SetDefault("target.pid", 0)
	l.v.SetDefault("target.jcmd", "jcmd")
	l.v.SetDefault("target.memory_limit_mb", 0)
	l.v.SetDefault("target.thread_limit", 0)

	l.v.SetDefault("watch.interval", "1s")
	l.v.SetDefault("watch.drop_dir", "")
	l.v.SetDefault("watch.listen", "127.0.0.1:7070")

	l.v.SetDefault("api.cors_origins", []string{})

	l.v.SetDefault("incidents.db_path", ".killswitch/incidents.db")
	l.v.SetDefault("incidents.report_dir", ".killswitch/incidents")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
