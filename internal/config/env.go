package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type envOverrides struct {
	ListenAddr    string `env:"COORDINATOR_LISTEN_ADDR"`
	HealthAddr    string `env:"COORDINATOR_HEALTH_ADDR"`
	Version       string `env:"COORDINATOR_VERSION"`
	Origin        string `env:"COORDINATOR_ORIGIN"`
	Policy        string `env:"COORDINATOR_POLICY"`
	StorageDriver string `env:"COORDINATOR_STORAGE_DRIVER"`
	StoragePath   string `env:"COORDINATOR_STORAGE_PATH"`
	AccessLogFile string `env:"COORDINATOR_ACCESS_LOG_FILE"`
	SkipWaiting   *bool  `env:"COORDINATOR_SKIP_WAITING_ON_INSTALL"`
}

// ApplyEnv overlays COORDINATOR_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setString(&cfg.ListenAddr, overrides.ListenAddr)
	setString(&cfg.HealthAddr, overrides.HealthAddr)
	setString(&cfg.Version, overrides.Version)
	setString(&cfg.Origin, overrides.Origin)
	setString(&cfg.Policy, overrides.Policy)
	setString(&cfg.Storage.Driver, overrides.StorageDriver)
	setString(&cfg.Storage.Path, overrides.StoragePath)
	setString(&cfg.Logging.AccessLogFile, overrides.AccessLogFile)
	if overrides.SkipWaiting != nil {
		cfg.Lifecycle.SkipWaitingOnInstall = *overrides.SkipWaiting
	}
	return nil
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}
