// Package prompt implements the prompt-assembly stage: turning the raw
// conversation, retrieved context and assistant instructions into the final
// ordered message list for model invocation.
package prompt

import (
	"strings"

	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/knowledge"
	"github.com/attune-ai/attune/engine/llm"
)

// StandardAssemblerName is the registry name of the default strategy.
const StandardAssemblerName = "standard"

const (
	// PlaceholderUserInput and PlaceholderContext are the named slots a
	// message template may carry.
	PlaceholderUserInput = "{user_input}"
	PlaceholderContext   = "{context}"

	contextDelimiter = "\n\n--- Retrieved context ---\n"
)

// Input is everything assembly consumes. Assembly is pure: no I/O, and
// identical inputs yield byte-identical output.
type Input struct {
	Spec      *assistant.Spec
	Messages  []llm.Message
	Retrieval *knowledge.Result
}

// Assembler is the prompt-assembly capability interface.
type Assembler interface {
	Name() string
	Assemble(in *Input) ([]llm.Message, error)
}

// StandardAssembler emits the assistant instructions (with the retrieved
// context appended as a delimited trailing section) as the system message,
// copies the conversation verbatim, and applies the message template to the
// last user turn only.
type StandardAssembler struct{}

func NewStandardAssembler() *StandardAssembler { return &StandardAssembler{} }

func (a *StandardAssembler) Name() string { return StandardAssemblerName }

func (a *StandardAssembler) Assemble(in *Input) ([]llm.Message, error) {
	if in == nil || in.Spec == nil {
		return nil, nil
	}
	out := make([]llm.Message, 0, len(in.Messages)+1)
	if system := a.systemMessage(in); system != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	out = append(out, in.Messages...)
	a.applyTemplate(in, out)
	return out, nil
}

func (a *StandardAssembler) systemMessage(in *Input) string {
	instructions := in.Spec.Instructions
	if instructions == "" {
		return ""
	}
	if in.Retrieval.Empty() {
		return instructions
	}
	return instructions + contextDelimiter + in.Retrieval.Context
}

// applyTemplate rewrites the last user turn in place; without a template the
// turn stays untouched.
func (a *StandardAssembler) applyTemplate(in *Input, messages []llm.Message) {
	template := in.Spec.MessageTemplate
	if template == "" {
		return
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llm.RoleUser {
			continue
		}
		contextText := ""
		if !in.Retrieval.Empty() {
			contextText = in.Retrieval.Context
		}
		content := strings.ReplaceAll(template, PlaceholderUserInput, messages[i].Content)
		content = strings.ReplaceAll(content, PlaceholderContext, contextText)
		messages[i].Content = content
		return
	}
}
