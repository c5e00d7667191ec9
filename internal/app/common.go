package app

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/config"
	"github.com/blackwell-systems/osslup/internal/store"
)

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// openStore opens the audit store and ensures the schema exists.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.New(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to prepare audit store: %w", err)
	}
	return st, nil
}

// newLogger builds the run logger from config.
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	return config.InitLogger(cfg.LogLevel, cfg.LogDir, cfg.LogToFile)
}
