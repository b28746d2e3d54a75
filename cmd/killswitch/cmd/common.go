package cmd

import (
	"encoding/json"
	"io"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/killswitch/internal/config"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
)

// loadConfig loads and validates the configuration, with bound flags taking
// precedence over the file and environment.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
