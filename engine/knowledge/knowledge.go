// Package knowledge implements the context-retrieval stage: querying the
// tenant's knowledge-base collections and rendering passages plus citations
// for prompt assembly.
package knowledge

import (
	"context"

	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/llm"
	"github.com/attune-ai/attune/engine/tenant"
)

// Citation points one rendered passage back at its source document.
type Citation struct {
	Index  int     `json:"index"`
	Source string  `json:"source"`
	Page   int     `json:"page,omitempty"`
	Score  float64 `json:"score"`
}

// Result is the transient output of the retrieval stage for one request.
// Context may be empty; Citations indices match the numbered passages.
type Result struct {
	Context   string
	Citations []Citation
}

// Empty reports whether retrieval produced no usable context.
func (r *Result) Empty() bool {
	return r == nil || r.Context == ""
}

// Input carries everything a retrieval strategy may consult. Stages receive
// it by reference and must not retain it past the call.
type Input struct {
	Spec          *assistant.Spec
	Messages      []llm.Message
	KnowledgeBase tenant.KnowledgeBaseConfig
}

// Retriever is the context-retrieval capability interface. Implementations
// degrade rather than fail: a Result (possibly empty) is always preferred
// over an error, which is reserved for programmer mistakes.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, in *Input) (*Result, error)
}

// Passage is one raw knowledge-base match before rendering.
type Passage struct {
	Text   string
	Source string
	Page   int
	Score  float64
}

// Querier performs one collection query against a knowledge base. The HTTP
// client implements it; tests substitute stubs.
type Querier interface {
	Query(
		ctx context.Context,
		kb tenant.KnowledgeBaseConfig,
		collection string,
		query string,
		topK int,
	) ([]Passage, error)
}
