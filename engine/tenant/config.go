package tenant

import (
	"encoding/json"

	"github.com/attune-ai/attune/engine/core"
)

// SystemTenantID is the distinguished tenant whose configuration backs every
// other tenant's resolution and which alone may be seeded from the process
// environment.
const SystemTenantID = "system"

// ProviderSettings is the per-provider slice of a tenant configuration.
// Unknown JSON keys are captured in Extra and survive round-trips unchanged.
type ProviderSettings struct {
	Enabled       bool
	APIKey        string
	APIURL        string
	DefaultModel  string
	AllowedModels []string
	Extra         map[string]any
}

type KnowledgeBaseConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// Config is the resolved, effective configuration of one tenant. It is built
// fresh per request (modulo the short-TTL cache) and never persisted by the
// pipeline.
type Config struct {
	TenantID      string
	Providers     map[core.ProviderName]*ProviderSettings
	KnowledgeBase KnowledgeBaseConfig
	Extra         map[string]any
}

func (p *ProviderSettings) Clone() *ProviderSettings {
	if p == nil {
		return nil
	}
	out := *p
	out.AllowedModels = core.CloneSlice(p.AllowedModels)
	out.Extra = core.CloneMap(p.Extra)
	return &out
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{
		TenantID:      c.TenantID,
		KnowledgeBase: c.KnowledgeBase,
		Extra:         core.CloneMap(c.Extra),
	}
	if c.Providers != nil {
		out.Providers = make(map[core.ProviderName]*ProviderSettings, len(c.Providers))
		for name, ps := range c.Providers {
			out.Providers[name] = ps.Clone()
		}
	}
	return out
}

// Provider returns the settings for name, or nil when the tenant has no
// record for that provider.
func (c *Config) Provider(name core.ProviderName) *ProviderSettings {
	if c == nil || c.Providers == nil {
		return nil
	}
	return c.Providers[name]
}

var providerKnownKeys = map[string]struct{}{
	"enabled":        {},
	"api_key":        {},
	"api_url":        {},
	"default_model":  {},
	"allowed_models": {},
}

var configKnownKeys = map[string]struct{}{
	"tenant_id":      {},
	"providers":      {},
	"knowledge_base": {},
}

func (p *ProviderSettings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	type known struct {
		Enabled       bool     `json:"enabled"`
		APIKey        string   `json:"api_key"`
		APIURL        string   `json:"api_url"`
		DefaultModel  string   `json:"default_model"`
		AllowedModels []string `json:"allowed_models"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*p = ProviderSettings{
		Enabled:       k.Enabled,
		APIKey:        k.APIKey,
		APIURL:        k.APIURL,
		DefaultModel:  k.DefaultModel,
		AllowedModels: k.AllowedModels,
	}
	for key, val := range raw {
		if _, ok := providerKnownKeys[key]; ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[key] = decoded
	}
	return nil
}

func (p *ProviderSettings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+5)
	for key, val := range p.Extra {
		out[key] = val
	}
	out["enabled"] = p.Enabled
	if p.APIKey != "" {
		out["api_key"] = p.APIKey
	}
	if p.APIURL != "" {
		out["api_url"] = p.APIURL
	}
	if p.DefaultModel != "" {
		out["default_model"] = p.DefaultModel
	}
	if len(p.AllowedModels) > 0 {
		out["allowed_models"] = p.AllowedModels
	}
	return json.Marshal(out)
}

func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	type known struct {
		TenantID      string                                 `json:"tenant_id"`
		Providers     map[core.ProviderName]*ProviderSettings `json:"providers"`
		KnowledgeBase KnowledgeBaseConfig                    `json:"knowledge_base"`
	}
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*c = Config{
		TenantID:      k.TenantID,
		Providers:     k.Providers,
		KnowledgeBase: k.KnowledgeBase,
	}
	for key, val := range raw {
		if _, ok := configKnownKeys[key]; ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[key] = decoded
	}
	return nil
}

func (c *Config) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+3)
	for key, val := range c.Extra {
		out[key] = val
	}
	if c.TenantID != "" {
		out["tenant_id"] = c.TenantID
	}
	if len(c.Providers) > 0 {
		out["providers"] = c.Providers
	}
	if c.KnowledgeBase != (KnowledgeBaseConfig{}) {
		out["knowledge_base"] = c.KnowledgeBase
	}
	return json.Marshal(out)
}
