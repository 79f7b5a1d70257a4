package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/infra/server"
	"github.com/attune-ai/attune/engine/knowledge"
	"github.com/attune-ai/attune/engine/llm/connectors"
	"github.com/attune-ai/attune/engine/pipeline"
	"github.com/attune-ai/attune/engine/prompt"
	"github.com/attune-ai/attune/engine/registry"
	"github.com/attune-ai/attune/engine/tenant"
	"github.com/attune-ai/attune/pkg/config"
	"github.com/attune-ai/attune/pkg/logger"
)

type serveFlags struct {
	assistantsPath string
	logLevel       string
	logJSON        bool
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the completion pipeline HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.assistantsPath, "assistants", "",
		"path to a JSON file of assistant specs served from memory")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	cmd.Flags().BoolVar(&flags.logJSON, "log-json", false, "emit logs as JSON")
	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logJSON {
		cfg.Log.JSON = true
	}
	log := logger.NewLogger(&logger.Config{
		Level: logger.LogLevel(cfg.Log.Level),
		JSON:  cfg.Log.JSON,
	})
	ctx = logger.ContextWithLogger(ctx, log)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	assistants, err := buildAssistantStore(flags.assistantsPath)
	if err != nil {
		return err
	}
	resolver, err := buildResolver(cfg, log)
	if err != nil {
		return err
	}
	reg := registry.New()
	registry.Populate(ctx, reg, capabilityRegistrations(cfg))

	orchestrator, err := pipeline.New(
		assistants,
		resolver,
		reg,
		pipeline.WithInvocationTimeout(cfg.Pipeline.InvocationTimeout),
	)
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, log, orchestrator)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func buildResolver(cfg *config.Config, log logger.Logger) (*tenant.Resolver, error) {
	var source tenant.Source
	if cfg.Pipeline.ConfigServiceURL != "" {
		source = tenant.NewClient(
			cfg.Pipeline.ConfigServiceURL,
			cfg.Pipeline.ConfigServiceKey,
			cfg.Pipeline.ConfigLoadTimeout,
		)
	} else {
		log.Warn("no config service configured, tenants resolve from bootstrap only")
		source = tenant.NewStaticSource()
	}
	return tenant.NewResolver(
		source,
		tenant.WithCache(cfg.Pipeline.TenantCacheSize, cfg.Pipeline.TenantCacheTTL),
		tenant.WithBootstrap(&cfg.Bootstrap),
		tenant.WithLoadTimeout(cfg.Pipeline.ConfigLoadTimeout),
	)
}

// buildAssistantStore loads assistant specs from the given JSON file.
// Assistant CRUD lives in a separate service; this process only reads.
func buildAssistantStore(path string) (assistant.Store, error) {
	store := assistant.NewMemoryStore()
	if path == "" {
		return store, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading assistants file: %w", err)
	}
	var specs []*assistant.Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing assistants file %q: %w", path, err)
	}
	for _, spec := range specs {
		store.Put(spec)
	}
	return store, nil
}

// capabilityRegistrations names the full capability set this build ships.
// Populate skips any entry that fails to load instead of aborting startup.
func capabilityRegistrations(cfg *config.Config) []registry.Registration {
	return []registry.Registration{
		{
			Kind: registry.KindRetriever,
			Name: knowledge.SemanticRetrieverName,
			Load: func(r *registry.Registry) error {
				querier := knowledge.NewHTTPQuerier(cfg.Pipeline.RetrievalTimeout)
				retriever, err := knowledge.NewSemanticRetriever(querier, knowledge.RetrieverOptions{
					AggregateTimeout:  cfg.Pipeline.RetrievalTimeout,
					CollectionTimeout: cfg.Pipeline.CollectionTimeout,
				})
				if err != nil {
					return err
				}
				return r.RegisterRetriever(retriever)
			},
		},
		{
			Kind: registry.KindAssembler,
			Name: prompt.StandardAssemblerName,
			Load: func(r *registry.Registry) error {
				return r.RegisterAssembler(prompt.NewStandardAssembler())
			},
		},
		{
			Kind: registry.KindConnector,
			Name: "openai",
			Load: func(r *registry.Registry) error { return r.RegisterConnector(connectors.NewOpenAI()) },
		},
		{
			Kind: registry.KindConnector,
			Name: "anthropic",
			Load: func(r *registry.Registry) error { return r.RegisterConnector(connectors.NewAnthropic()) },
		},
		{
			Kind: registry.KindConnector,
			Name: "groq",
			Load: func(r *registry.Registry) error { return r.RegisterConnector(connectors.NewGroq()) },
		},
		{
			Kind: registry.KindConnector,
			Name: "ollama",
			Load: func(r *registry.Registry) error { return r.RegisterConnector(connectors.NewOllama()) },
		},
	}
}
