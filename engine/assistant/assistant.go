package assistant

import (
	"context"
	"errors"
	"sync"

	"github.com/attune-ai/attune/engine/core"
)

// CapabilitySelection names the registered implementations an assistant runs
// with. Provider and Model may be empty, meaning "use the tenant default".
type CapabilitySelection struct {
	Retriever string            `json:"retriever,omitempty"`
	Assembler string            `json:"assembler,omitempty"`
	Provider  core.ProviderName `json:"provider,omitempty"`
	Model     string            `json:"model,omitempty"`
}

// Spec is the immutable per-request assistant configuration. It is created
// by the CRUD layer outside this pipeline and read-only here; stages receive
// it by reference and must not retain it past the request.
type Spec struct {
	ID              string              `json:"id"`
	TenantID        string              `json:"tenant_id"`
	Instructions    string              `json:"instructions,omitempty"`
	MessageTemplate string              `json:"message_template,omitempty"`
	Collections     []string            `json:"collections,omitempty"`
	TopK            int                 `json:"top_k,omitempty"`
	Capabilities    CapabilitySelection `json:"capabilities"`
}

func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	out := *s
	out.Collections = core.CloneSlice(s.Collections)
	return &out
}

// ErrNotFound reports an unknown assistant reference.
var ErrNotFound = errors.New("assistant: not found")

// Store resolves an assistant reference to its Spec. Persistence lives in
// the excluded CRUD layer; this pipeline only ever reads.
type Store interface {
	Get(ctx context.Context, id string) (*Spec, error)
}

// MemoryStore is an in-process Store for tests and file-seeded deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

func NewMemoryStore(specs ...*Spec) *MemoryStore {
	s := &MemoryStore{specs: make(map[string]*Spec)}
	for _, spec := range specs {
		if spec != nil {
			s.specs[spec.ID] = spec
		}
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return spec.Clone(), nil
}

func (s *MemoryStore) Put(spec *Spec) {
	if spec == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[spec.ID] = spec.Clone()
}
