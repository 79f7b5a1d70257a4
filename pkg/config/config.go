package config

import (
	"time"
)

// Config is the process-level configuration for the attune service. Values
// come from struct defaults overlaid with ATTUNE_-prefixed environment
// variables (double underscore as the nesting delimiter, e.g.
// ATTUNE_SERVER__PORT=8080).
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// PipelineConfig carries the per-call-class timeouts and cache tunables of
// the orchestration pipeline. A stage timeout is that stage's failure mode,
// not a distinct error kind.
type PipelineConfig struct {
	// ConfigServiceURL is the base URL of the tenant-configuration service.
	// Empty means the resolver runs against a locally supplied source.
	ConfigServiceURL  string        `koanf:"config_service_url"`
	ConfigServiceKey  string        `koanf:"config_service_key"`
	ConfigLoadTimeout time.Duration `koanf:"config_load_timeout"`
	TenantCacheTTL    time.Duration `koanf:"tenant_cache_ttl"`
	TenantCacheSize   int           `koanf:"tenant_cache_size"`
	// RetrievalTimeout bounds the whole retrieval fan-out; CollectionTimeout
	// bounds each collection query and must stay below the aggregate budget.
	RetrievalTimeout  time.Duration `koanf:"retrieval_timeout"`
	CollectionTimeout time.Duration `koanf:"collection_timeout"`
	InvocationTimeout time.Duration `koanf:"invocation_timeout"`
}

// BootstrapConfig seeds provider fields of the distinguished system tenant
// when its stored configuration leaves them empty. This is the only place
// environment-sourced values enter per-request resolution.
type BootstrapConfig struct {
	OpenAI    ProviderBootstrap `koanf:"openai"`
	Anthropic ProviderBootstrap `koanf:"anthropic"`
	Groq      ProviderBootstrap `koanf:"groq"`
	Ollama    ProviderBootstrap `koanf:"ollama"`
	KBBaseURL string            `koanf:"kb_base_url"`
	KBAPIKey  string            `koanf:"kb_api_key"`
}

type ProviderBootstrap struct {
	APIKey       string `koanf:"api_key"`
	APIURL       string `koanf:"api_url"`
	DefaultModel string `koanf:"default_model"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// Default returns the configuration applied before any overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5580,
		},
		Pipeline: PipelineConfig{
			ConfigLoadTimeout: 5 * time.Second,
			TenantCacheTTL:    30 * time.Second,
			TenantCacheSize:   512,
			RetrievalTimeout:  10 * time.Second,
			CollectionTimeout: 4 * time.Second,
			InvocationTimeout: 120 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
