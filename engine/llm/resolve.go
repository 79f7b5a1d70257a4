package llm

import (
	"context"
	"fmt"
	"slices"

	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/engine/tenant"
	"github.com/attune-ai/attune/pkg/logger"
)

// Resolution records the outcome of the model fallback chain. Fallback is
// observability signal, not an error.
type Resolution struct {
	Model    string
	Fallback bool
	Reason   string
}

// ResolveModel picks the model to invoke, in strict precedence: requested
// model when allowed, tenant default when allowed, first allowed entry,
// otherwise failure. Connectors with an open model list bypass the
// allow-list check and pass the requested (or default) model through.
func ResolveModel(
	ctx context.Context,
	provider core.ProviderName,
	requested string,
	settings *tenant.ProviderSettings,
	caps Capabilities,
) (*Resolution, error) {
	log := logger.FromContext(ctx)
	if settings == nil || !settings.Enabled {
		return nil, core.NewError(
			core.KindNoModelAvailable,
			fmt.Sprintf("provider %s is not enabled for this tenant", provider),
			nil,
		)
	}
	allowed := settings.AllowedModels
	if caps.OpenModelList {
		model := requested
		if model == "" {
			model = settings.DefaultModel
		}
		if model == "" {
			return nil, core.NewError(
				core.KindNoModelAvailable,
				fmt.Sprintf("provider %s has no requested or default model", provider),
				nil,
			)
		}
		return &Resolution{Model: model, Fallback: false, Reason: "open model list"}, nil
	}
	if requested != "" && slices.Contains(allowed, requested) {
		return &Resolution{Model: requested}, nil
	}
	if settings.DefaultModel != "" && slices.Contains(allowed, settings.DefaultModel) {
		res := &Resolution{
			Model:    settings.DefaultModel,
			Fallback: requested != "",
			Reason:   "tenant default",
		}
		logFallback(log, provider, requested, res)
		return res, nil
	}
	if len(allowed) > 0 {
		res := &Resolution{
			Model:    allowed[0],
			Fallback: true,
			Reason:   "first allowed model",
		}
		logFallback(log, provider, requested, res)
		return res, nil
	}
	return nil, core.NewError(
		core.KindNoModelAvailable,
		fmt.Sprintf("no model available for provider %s", provider),
		nil,
	)
}

func logFallback(log logger.Logger, provider core.ProviderName, requested string, res *Resolution) {
	if !res.Fallback {
		return
	}
	log.Warn("model fallback applied",
		"provider", provider,
		"requested_model", requested,
		"resolved_model", res.Model,
		"reason", res.Reason,
	)
}
