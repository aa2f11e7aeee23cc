package provider

import (
	"context"
	"errors"
	"sync"

	"offline_coordinator/internal/config"
)

// Static serves whatever config was last swapped in. Embedders use it to
// deploy versions without a file.
type Static struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func NewStatic(cfg *config.Config) *Static {
	return &Static{cfg: cfg}
}

func (p *Static) Name() string {
	return "static"
}

func (p *Static) Load(ctx context.Context) (*config.Config, error) {
	_ = ctx
	if p == nil {
		return nil, errors.New("static provider is nil")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cfg == nil {
		return nil, errors.New("no config published")
	}
	if _, err := config.Validate(p.cfg); err != nil {
		return nil, err
	}
	return p.cfg, nil
}

func (p *Static) Swap(cfg *config.Config) *config.Config {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.cfg
	p.cfg = cfg
	return prev
}
