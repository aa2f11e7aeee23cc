package provider

import (
	"context"

	"offline_coordinator/internal/config"
)

// Provider yields the configuration a coordinator worker is built from.
// Each Load is an update check: a config with a new version tag installs a
// new worker.
type Provider interface {
	Name() string
	Load(ctx context.Context) (*config.Config, error)
}
