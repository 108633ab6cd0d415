// Package config loads engine configuration from a config file and
// KJ_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration for the CLI and daemon.
type Config struct {
	// StorePath is the SQLite database file.
	StorePath string `mapstructure:"store_path"`

	// RemoteURL is the root of the remote row API. Empty disables all
	// remote operations: the CLI then works purely against the local
	// store.
	RemoteURL string `mapstructure:"remote_url"`

	// APIKey is the remote API key header value.
	APIKey string `mapstructure:"api_key"`

	// AccessToken is the session JWT; its subject is the owner id.
	AccessToken string `mapstructure:"access_token"`

	// RealtimeURL is the WebSocket change feed. Empty disables it.
	RealtimeURL string `mapstructure:"realtime_url"`

	// SyncInterval is the daemon's periodic cycle interval.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// ImportDir is the daemon's note drop directory. Empty disables
	// the import watcher.
	ImportDir string `mapstructure:"import_dir"`

	// LogFile, when set, sends daemon logs to a rotating file instead
	// of stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration. path may be empty, in which case
// kayedejour.yaml is searched in the working directory and in
// ~/.config/kayedejour. A missing config file is fine: defaults and
// environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default registered, or environment-only values
	// are invisible to Unmarshal.
	v.SetDefault("store_path", defaultStorePath())
	v.SetDefault("remote_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("access_token", "")
	v.SetDefault("realtime_url", "")
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("import_dir", "")
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("KJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("kayedejour")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "kayedejour"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}

	return &cfg, nil
}

// defaultStorePath places the database under the user config dir,
// falling back to the working directory.
func defaultStorePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "kayedejour", "kayedejour.db")
	}
	return "kayedejour.db"
}
