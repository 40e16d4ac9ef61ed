// Package config loads application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration. Defaults apply first,
// then an optional config file, then TIMETABLE_* environment variables.
type Config struct {
	DataDir   string `mapstructure:"data_dir"`
	RemoteDSN string `mapstructure:"remote_dsn"`
	UserID    string `mapstructure:"user_id"`
	UserEmail string `mapstructure:"user_email"`

	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	SyncInterval time.Duration `mapstructure:"sync_interval"`
	SyncTimeout  time.Duration `mapstructure:"sync_timeout"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	GraceWindow  time.Duration `mapstructure:"grace_window"`
}

// Load reads configuration from the given path. An empty path falls
// back to $HOME/.config/timetable/config.yaml; a missing file is fine,
// defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v.SetDefault("data_dir", filepath.Join(homeDir, ".local", "share", "timetable"))
	v.SetDefault("remote_dsn", "")
	v.SetDefault("user_id", "")
	v.SetDefault("user_email", "")
	v.SetDefault("listen_addr", "localhost:8090")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("sync_interval", 15*time.Minute)
	v.SetDefault("sync_timeout", 5*time.Minute)
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("grace_window", 5*time.Minute)

	v.SetEnvPrefix("TIMETABLE")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(homeDir, ".config", "timetable"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if configPath != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
