package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ATTUNE_"

// Load builds the effective configuration: struct defaults first, then
// environment overrides.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// transformEnvKey maps ATTUNE_PIPELINE__TENANT_CACHE_TTL to
// pipeline.tenant_cache_ttl: double underscore nests, single underscore is
// kept as part of the key.
func transformEnvKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, envPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", "."), value
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", cfg.Server.Port)
	}
	p := &cfg.Pipeline
	if p.TenantCacheSize <= 0 {
		p.TenantCacheSize = Default().Pipeline.TenantCacheSize
	}
	if p.TenantCacheTTL <= 0 {
		p.TenantCacheTTL = Default().Pipeline.TenantCacheTTL
	}
	for name, d := range map[string]time.Duration{
		"config_load_timeout": p.ConfigLoadTimeout,
		"retrieval_timeout":   p.RetrievalTimeout,
		"collection_timeout":  p.CollectionTimeout,
		"invocation_timeout":  p.InvocationTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: pipeline.%s must be positive", name)
		}
	}
	if p.CollectionTimeout > p.RetrievalTimeout {
		return fmt.Errorf(
			"config: pipeline.collection_timeout (%s) must not exceed pipeline.retrieval_timeout (%s)",
			p.CollectionTimeout, p.RetrievalTimeout,
		)
	}
	return nil
}
