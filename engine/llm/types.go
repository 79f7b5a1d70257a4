package llm

import (
	"context"

	"github.com/attune-ai/attune/engine/core"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	FinishReasonStop  = "stop"
	FinishReasonError = "error"
)

// Message is one role-tagged conversation turn, the unit exchanged between
// prompt assembly and model invocation. When a system message is present it
// is always first.
type Message struct {
	Role    string `json:"role"    binding:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// LastUserContent returns the content of the most recent user turn, or "".
func LastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// Credentials carries the tenant-scoped secret and endpoint a connector
// invokes with. Connectors must not cache these across requests.
type Credentials struct {
	APIKey string
	APIURL string
}

// Request is the uniform invocation input every connector accepts.
type Request struct {
	Messages    []Message
	Model       string
	Credentials Credentials
}

// Completion is the single complete result of a non-streaming invocation.
type Completion struct {
	Content      string
	FinishReason string
}

// Fragment is one incremental piece of a streamed response.
type Fragment struct {
	Content string
}

// StreamFunc receives fragments in arrival order. Returning an error aborts
// the stream; the connector must stop producing promptly.
type StreamFunc func(Fragment) error

// Capabilities describes connector behavior the fallback algorithm and the
// orchestrator depend on.
type Capabilities struct {
	Streaming bool
	// OpenModelList marks providers that do their own model discovery and
	// therefore accept models outside the tenant's allow-list.
	OpenModelList bool
}

// Connector maps the uniform invocation contract onto one vendor protocol.
// Implementations are interchangeable; retries for transient vendor errors
// belong inside the connector, never in the orchestrator.
type Connector interface {
	Name() core.ProviderName
	Capabilities() Capabilities
	Invoke(ctx context.Context, req *Request) (*Completion, error)
	Stream(ctx context.Context, req *Request, fn StreamFunc) error
}
