// Package registry holds the process-wide capability table mapping strategy
// names to retrieval, assembly and connector implementations. It is
// populated once at startup and read-only afterwards.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/engine/knowledge"
	"github.com/attune-ai/attune/engine/llm"
	"github.com/attune-ai/attune/engine/prompt"
	"github.com/attune-ai/attune/pkg/logger"
)

// Kind names one of the three capability interfaces.
type Kind string

const (
	KindRetriever Kind = "retriever"
	KindAssembler Kind = "assembler"
	KindConnector Kind = "connector"
)

var (
	ErrNilImplementation = errors.New("registry: implementation must not be nil")
	ErrEmptyName         = errors.New("registry: capability name must not be empty")
	ErrDuplicate         = errors.New("registry: capability already registered")
	ErrSealed            = errors.New("registry: registry is sealed")
)

// Registry is the capability table. Registration happens during startup and
// ends with Seal; afterwards the tables are never written again, so lookups
// contend only on the uncontended read lock.
type Registry struct {
	mu         sync.RWMutex
	sealed     bool
	retrievers map[string]knowledge.Retriever
	assemblers map[string]prompt.Assembler
	connectors map[string]llm.Connector
}

func New() *Registry {
	return &Registry{
		retrievers: make(map[string]knowledge.Retriever),
		assemblers: make(map[string]prompt.Assembler),
		connectors: make(map[string]llm.Connector),
	}
}

func (r *Registry) RegisterRetriever(impl knowledge.Retriever) error {
	if impl == nil {
		return ErrNilImplementation
	}
	return register(r, r.retrievers, KindRetriever, impl.Name(), impl)
}

func (r *Registry) RegisterAssembler(impl prompt.Assembler) error {
	if impl == nil {
		return ErrNilImplementation
	}
	return register(r, r.assemblers, KindAssembler, impl.Name(), impl)
}

func (r *Registry) RegisterConnector(impl llm.Connector) error {
	if impl == nil {
		return ErrNilImplementation
	}
	return register(r, r.connectors, KindConnector, string(impl.Name()), impl)
}

// Seal flips the registry read-only. New implementations require a restart.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Retriever(name string) (knowledge.Retriever, error) {
	return lookup(r, r.retrievers, KindRetriever, name)
}

func (r *Registry) Assembler(name string) (prompt.Assembler, error) {
	return lookup(r, r.assemblers, KindAssembler, name)
}

func (r *Registry) Connector(name core.ProviderName) (llm.Connector, error) {
	return lookup(r, r.connectors, KindConnector, string(name))
}

func register[T any](r *Registry, table map[string]T, kind Kind, name string, impl T) error {
	key := canonicalName(name)
	if key == "" {
		return ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s %q", ErrSealed, kind, name)
	}
	if _, exists := table[key]; exists {
		return fmt.Errorf("%w: %s %q", ErrDuplicate, kind, name)
	}
	table[key] = impl
	return nil
}

func lookup[T any](r *Registry, table map[string]T, kind Kind, name string) (T, error) {
	var zero T
	key := canonicalName(name)
	r.mu.RLock()
	impl, ok := table[key]
	r.mu.RUnlock()
	if !ok {
		return zero, core.NewError(
			core.KindCapabilityNotFound,
			fmt.Sprintf("%s capability %q is not registered", kind, name),
			nil,
		)
	}
	return impl, nil
}

func canonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registration couples a capability with the function that builds it, so
// startup can load the full set while tolerating individual failures.
type Registration struct {
	Kind Kind
	Name string
	Load func(*Registry) error
}

// Populate runs every registration, logging and skipping failures: a broken
// capability degrades the set, it does not abort startup. The registry is
// sealed afterwards.
func Populate(ctx context.Context, r *Registry, registrations []Registration) {
	log := logger.FromContext(ctx)
	for _, reg := range registrations {
		if reg.Load == nil {
			continue
		}
		if err := reg.Load(r); err != nil {
			log.Error("capability registration failed, skipping",
				"kind", reg.Kind,
				"name", reg.Name,
				"error", err,
			)
			continue
		}
		log.Debug("capability registered", "kind", reg.Kind, "name", reg.Name)
	}
	r.Seal()
}
