// Package pipeline sequences the completion-request stages: configuration
// resolution, context retrieval, prompt assembly, model invocation and
// response emission.
package pipeline

import (
	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/knowledge"
	"github.com/attune-ai/attune/engine/llm"
	"github.com/attune-ai/attune/engine/prompt"
	"github.com/attune-ai/attune/engine/tenant"
)

// Request is the inbound shape. The binding tags drive gin's validator at
// the transport edge; direct callers validate through the orchestrator.
type Request struct {
	AssistantID string        `json:"assistant_id"            binding:"required"`
	TenantID    string        `json:"tenant_id"`
	Stream      bool          `json:"stream"`
	Messages    []llm.Message `json:"messages"                binding:"required,min=1,dive"`
}

// CompletionResponse is the single-object non-streaming result.
type CompletionResponse struct {
	ID        string               `json:"id"`
	Model     string               `json:"model"`
	Choices   []CompletionChoice   `json:"choices"`
	Citations []knowledge.Citation `json:"citations,omitempty"`
}

type CompletionChoice struct {
	Message      llm.Message `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// StreamFrame is one self-delimiting delta of a streamed response.
type StreamFrame struct {
	ID        string               `json:"id"`
	Model     string               `json:"model"`
	Choices   []StreamChoice       `json:"choices"`
	Citations []knowledge.Citation `json:"citations,omitempty"`
}

type StreamChoice struct {
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Content string `json:"content,omitempty"`
}

// ErrorFrame closes a stream that failed after frames were flushed.
type ErrorFrame struct {
	ID    string    `json:"id"`
	Error ErrorInfo `json:"error"`
}

// ErrorInfo is the stable external error shape; internal detail never leaks
// into it.
type ErrorInfo struct {
	Kind    string `json:"error_kind"`
	Message string `json:"message"`
}

// Emitter adapts pipeline output onto a transport. Exactly one of the two
// shapes is used per request: Completion for non-streaming, the
// Fragment/Final/Interrupted sequence for streaming.
type Emitter interface {
	Completion(resp *CompletionResponse) error
	Fragment(frame *StreamFrame) error
	// Final writes the terminal frame (finish_reason set) and the
	// end-of-stream marker.
	Final(frame *StreamFrame) error
	// Interrupted closes a failed stream with a terminal error frame.
	Interrupted(frame *ErrorFrame) error
}

// runContext carries the request-scoped values through the state machine.
// The orchestrator owns it exclusively; stages receive it by reference and
// must not retain it after returning.
type runContext struct {
	request   *Request
	emitter   Emitter
	requestID string

	spec       *assistant.Spec
	tenantCfg  *tenant.Config
	settings   *tenant.ProviderSettings
	retriever  knowledge.Retriever
	assembler  prompt.Assembler
	connector  llm.Connector
	retrieval  *knowledge.Result
	messages   []llm.Message
	resolution *llm.Resolution
	completion *llm.Completion
	fragments  int
	err        error
}
