package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/pkg/config"
	"github.com/attune-ai/attune/pkg/logger"
)

const (
	defaultCacheSize   = 512
	defaultCacheTTL    = 30 * time.Second
	defaultLoadTimeout = 5 * time.Second
)

// Resolver produces the effective configuration for a tenant: stored
// override merged over the system tenant, with bootstrap environment values
// seeding the system tenant's empty fields. Resolved configs are cached with
// a short TTL; staleness inside that window is accepted.
type Resolver struct {
	source      Source
	cache       *expirable.LRU[string, *Config]
	bootstrap   *config.BootstrapConfig
	loadTimeout time.Duration
}

type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	cacheSize   int
	cacheTTL    time.Duration
	bootstrap   *config.BootstrapConfig
	loadTimeout time.Duration
}

func WithCache(size int, ttl time.Duration) ResolverOption {
	return func(o *resolverOptions) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// WithBootstrap supplies the environment-sourced seed values for the system
// tenant. This is the only path by which process environment reaches
// per-request resolution.
func WithBootstrap(b *config.BootstrapConfig) ResolverOption {
	return func(o *resolverOptions) { o.bootstrap = b }
}

func WithLoadTimeout(d time.Duration) ResolverOption {
	return func(o *resolverOptions) { o.loadTimeout = d }
}

func NewResolver(source Source, opts ...ResolverOption) (*Resolver, error) {
	if source == nil {
		return nil, errors.New("tenant: resolver source is required")
	}
	options := resolverOptions{
		cacheSize:   defaultCacheSize,
		cacheTTL:    defaultCacheTTL,
		loadTimeout: defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Resolver{
		source:      source,
		cache:       expirable.NewLRU[string, *Config](options.cacheSize, nil, options.cacheTTL),
		bootstrap:   options.bootstrap,
		loadTimeout: options.loadTimeout,
	}, nil
}

// Resolve returns the effective configuration for tenantID. Unknown tenants
// fail with a ConfigurationNotFound kind before any provider or
// knowledge-base call is made.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*Config, error) {
	if tenantID == "" {
		tenantID = SystemTenantID
	}
	if cached, ok := r.cache.Get(tenantID); ok {
		return cached.Clone(), nil
	}
	base, err := r.resolveSystem(ctx)
	if err != nil {
		return nil, err
	}
	if tenantID == SystemTenantID {
		r.cache.Add(tenantID, base)
		return base.Clone(), nil
	}
	override, err := r.load(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, core.NewError(
				core.KindConfigurationNotFound,
				fmt.Sprintf("no configuration for tenant %q", tenantID),
				err,
			)
		}
		return nil, core.NewError(
			core.KindConfigurationNotFound,
			fmt.Sprintf("loading configuration for tenant %q failed", tenantID),
			err,
		)
	}
	resolved, err := Merge(override, base)
	if err != nil {
		return nil, fmt.Errorf("tenant: merge %q over system: %w", tenantID, err)
	}
	resolved.TenantID = tenantID
	r.cache.Add(tenantID, resolved)
	return resolved.Clone(), nil
}

// Invalidate drops a tenant from the cache so the next resolve reloads it.
func (r *Resolver) Invalidate(tenantID string) {
	r.cache.Remove(tenantID)
}

func (r *Resolver) resolveSystem(ctx context.Context) (*Config, error) {
	system, err := r.load(ctx, SystemTenantID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, core.NewError(
				core.KindConfigurationNotFound,
				"loading system tenant configuration failed",
				err,
			)
		}
		// No stored system tenant yet; bootstrap values alone carry it.
		logger.FromContext(ctx).Debug("system tenant has no stored configuration, using bootstrap only")
		system = &Config{TenantID: SystemTenantID}
	}
	r.seedFromBootstrap(system)
	return system, nil
}

func (r *Resolver) load(ctx context.Context, tenantID string) (*Config, error) {
	loadCtx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()
	return r.source.Load(loadCtx, tenantID)
}

func (r *Resolver) seedFromBootstrap(system *Config) {
	if r.bootstrap == nil {
		return
	}
	seeds := map[core.ProviderName]config.ProviderBootstrap{
		core.ProviderOpenAI:    r.bootstrap.OpenAI,
		core.ProviderAnthropic: r.bootstrap.Anthropic,
		core.ProviderGroq:      r.bootstrap.Groq,
		core.ProviderOllama:    r.bootstrap.Ollama,
	}
	for name, seed := range seeds {
		if seed == (config.ProviderBootstrap{}) {
			continue
		}
		if system.Providers == nil {
			system.Providers = make(map[core.ProviderName]*ProviderSettings)
		}
		ps := system.Providers[name]
		if ps == nil {
			ps = &ProviderSettings{Enabled: true}
			system.Providers[name] = ps
		}
		if ps.APIKey == "" {
			ps.APIKey = seed.APIKey
		}
		if ps.APIURL == "" {
			ps.APIURL = seed.APIURL
		}
		if ps.DefaultModel == "" {
			ps.DefaultModel = seed.DefaultModel
		}
	}
	if system.KnowledgeBase.Endpoint == "" {
		system.KnowledgeBase.Endpoint = r.bootstrap.KBBaseURL
	}
	if system.KnowledgeBase.APIKey == "" {
		system.KnowledgeBase.APIKey = r.bootstrap.KBAPIKey
	}
}
