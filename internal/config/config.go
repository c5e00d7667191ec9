// Package config loads the tool configuration and initializes logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables a run reads. Flags bind over the file and
// environment values per command.
type Config struct {
	BackupDir string `mapstructure:"backup_dir" yaml:"backup_dir"`
	LogDir    string `mapstructure:"log_dir" yaml:"log_dir"`
	StatePath string `mapstructure:"state_path" yaml:"state_path"` // sqlite audit store

	FeedURL     string `mapstructure:"feed_url" yaml:"feed_url"`
	SourceURL   string `mapstructure:"source_url" yaml:"source_url"`
	PrefixRoot  string `mapstructure:"prefix_root" yaml:"prefix_root"`
	HealthCheck string `mapstructure:"health_check" yaml:"health_check"`

	CommandTimeoutSeconds  int `mapstructure:"command_timeout_seconds" yaml:"command_timeout_seconds"`
	DownloadTimeoutSeconds int `mapstructure:"download_timeout_seconds" yaml:"download_timeout_seconds"`
	FeedTimeoutSeconds     int `mapstructure:"feed_timeout_seconds" yaml:"feed_timeout_seconds"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogToFile bool   `mapstructure:"log_to_file" yaml:"log_to_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BackupDir:              filepath.Join(baseDir(), "backups"),
		LogDir:                 filepath.Join(baseDir(), "logs"),
		StatePath:              filepath.Join(baseDir(), "osslup.db"),
		SourceURL:              "https://www.openssl.org/source",
		PrefixRoot:             "/opt",
		CommandTimeoutSeconds:  1800,
		DownloadTimeoutSeconds: 600,
		FeedTimeoutSeconds:     15,
		LogLevel:               "info",
		LogToFile:              true,
	}
}

// Load reads configuration from cfgFile (or ~/.osslup/config.yaml when
// empty), then environment variables with the OSSLUP_ prefix. A missing
// config file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("OSSLUP")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	body, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultPath is where Load looks when no --config flag is given.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// CommandTimeout returns the per-command timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// DownloadTimeout returns the source-download timeout as a duration.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// FeedTimeout returns the vulnerability-feed timeout as a duration.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.FeedTimeoutSeconds) * time.Second
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".osslup"
	}
	return filepath.Join(home, ".osslup")
}
