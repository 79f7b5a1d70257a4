package connectors

import (
	"context"
	"strings"

	"github.com/attune-ai/attune/engine/core"
	"github.com/attune-ai/attune/engine/llm"
)

// Mock is a deterministic connector for tests and local development. Its
// completion is the concatenation of its fragments, so streaming and
// non-streaming paths are equivalent by construction.
type Mock struct {
	Provider     core.ProviderName
	Fragments    []string
	FinishReason string
	Open         bool
	Err          error

	// LastRequest records the most recent request for assertions.
	LastRequest *llm.Request
}

// NewMock returns a mock connector that streams the given fragments.
func NewMock(fragments ...string) *Mock {
	return &Mock{Provider: core.ProviderMock, Fragments: fragments}
}

func (m *Mock) Name() core.ProviderName {
	if m.Provider == "" {
		return core.ProviderMock
	}
	return m.Provider
}

func (m *Mock) Capabilities() llm.Capabilities {
	return llm.Capabilities{Streaming: true, OpenModelList: m.Open}
}

func (m *Mock) Invoke(_ context.Context, req *llm.Request) (*llm.Completion, error) {
	m.LastRequest = req
	if m.Err != nil {
		return nil, m.Err
	}
	return &llm.Completion{
		Content:      strings.Join(m.Fragments, ""),
		FinishReason: m.finishReason(),
	}, nil
}

func (m *Mock) Stream(ctx context.Context, req *llm.Request, fn llm.StreamFunc) error {
	m.LastRequest = req
	if m.Err != nil {
		return m.Err
	}
	for _, fragment := range m.Fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(llm.Fragment{Content: fragment}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mock) finishReason() string {
	if m.FinishReason == "" {
		return llm.FinishReasonStop
	}
	return m.FinishReason
}
