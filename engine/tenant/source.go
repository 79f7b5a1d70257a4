package tenant

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound reports that a tenant has no stored configuration. The
// resolver decides whether that is fatal (unknown tenant) or expected (the
// system tenant before bootstrap).
var ErrNotFound = errors.New("tenant: configuration not found")

// Source loads the stored override configuration for one tenant. The real
// implementation talks to the configuration service; tests use StaticSource.
type Source interface {
	Load(ctx context.Context, tenantID string) (*Config, error)
}

// StaticSource is an in-memory Source for tests and bootstrap-only runs.
type StaticSource struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

func NewStaticSource(configs ...*Config) *StaticSource {
	s := &StaticSource{configs: make(map[string]*Config)}
	for _, cfg := range configs {
		if cfg != nil {
			s.configs[cfg.TenantID] = cfg
		}
	}
	return s
}

func (s *StaticSource) Load(_ context.Context, tenantID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg.Clone(), nil
}

// Put stores or replaces a tenant configuration.
func (s *StaticSource) Put(cfg *Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.TenantID] = cfg.Clone()
}
