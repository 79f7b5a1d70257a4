package tenant

import (
	"fmt"

	"dario.cat/mergo"
	"github.com/attune-ai/attune/engine/core"
)

// Merge layers a tenant override on top of the base (system) configuration.
// Override fields win; missing fields fall back to the base. The merge is
// field-wise inside each provider record, with one exception: when the
// override declares a provider record at all, its Enabled flag is taken
// verbatim so a tenant can switch a provider off that the base enables.
func Merge(override, base *Config) (*Config, error) {
	if override == nil {
		return base.Clone(), nil
	}
	out := override.Clone()
	if base == nil {
		return out, nil
	}
	if out.Providers == nil && base.Providers != nil {
		out.Providers = make(map[core.ProviderName]*ProviderSettings, len(base.Providers))
	}
	for name, basePS := range base.Providers {
		ovPS, ok := out.Providers[name]
		if !ok || ovPS == nil {
			out.Providers[name] = basePS.Clone()
			continue
		}
		merged, err := mergeProvider(ovPS, basePS)
		if err != nil {
			return nil, fmt.Errorf("tenant: merge provider %s: %w", name, err)
		}
		out.Providers[name] = merged
	}
	if out.KnowledgeBase.Endpoint == "" {
		out.KnowledgeBase.Endpoint = base.KnowledgeBase.Endpoint
	}
	if out.KnowledgeBase.APIKey == "" {
		out.KnowledgeBase.APIKey = base.KnowledgeBase.APIKey
	}
	out.Extra = mergeExtras(out.Extra, base.Extra)
	return out, nil
}

func mergeProvider(override, base *ProviderSettings) (*ProviderSettings, error) {
	dst := override.Clone()
	enabled := dst.Enabled
	if err := mergo.Merge(dst, base.Clone()); err != nil {
		return nil, err
	}
	// mergo fills zero fields only, which would resurrect Enabled from the
	// base; the override record owns that flag.
	dst.Enabled = enabled
	dst.Extra = mergeExtras(override.Extra, base.Extra)
	return dst, nil
}

func mergeExtras(override, base map[string]any) map[string]any {
	if override == nil && base == nil {
		return nil
	}
	out := make(map[string]any, len(override)+len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
