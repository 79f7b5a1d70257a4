package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/knowledge"
	"github.com/attune-ai/attune/engine/llm"
)

func TestStandardAssembler(t *testing.T) {
	a := NewStandardAssembler()

	t.Run("Should emit instructions as the leading system message", func(t *testing.T) {
		out, err := a.Assemble(&Input{
			Spec:     &assistant.Spec{ID: "asst", Instructions: "Be terse."},
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, llm.RoleSystem, out[0].Role)
		assert.Equal(t, "Be terse.", out[0].Content)
		assert.Equal(t, "hi", out[1].Content)
	})

	t.Run("Should append retrieved context to the system message", func(t *testing.T) {
		out, err := a.Assemble(&Input{
			Spec:      &assistant.Spec{ID: "asst", Instructions: "Be terse."},
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			Retrieval: &knowledge.Result{Context: "[1] relevant passage"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Be terse."+contextDelimiter+"[1] relevant passage", out[0].Content)
	})

	t.Run("Should omit the system message without instructions", func(t *testing.T) {
		out, err := a.Assemble(&Input{
			Spec:     &assistant.Spec{ID: "asst"},
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, llm.RoleUser, out[0].Role)
	})

	t.Run("Should apply the template to the last user turn only", func(t *testing.T) {
		out, err := a.Assemble(&Input{
			Spec: &assistant.Spec{
				ID:              "asst",
				MessageTemplate: "Question: {user_input}\nContext: {context}",
			},
			Messages: []llm.Message{
				{Role: llm.RoleUser, Content: "first"},
				{Role: llm.RoleAssistant, Content: "answer"},
				{Role: llm.RoleUser, Content: "second"},
			},
			Retrieval: &knowledge.Result{Context: "[1] passage"},
		})
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, "first", out[0].Content)
		assert.Equal(t, "answer", out[1].Content)
		assert.Equal(t, "Question: second\nContext: [1] passage", out[2].Content)
	})

	t.Run("Should substitute empty context into the template when retrieval was empty", func(t *testing.T) {
		out, err := a.Assemble(&Input{
			Spec: &assistant.Spec{
				ID:              "asst",
				MessageTemplate: "Q: {user_input} C: {context}",
			},
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Q: hi C: ", out[0].Content)
	})

	t.Run("Should keep the conversation untouched without a template", func(t *testing.T) {
		messages := []llm.Message{
			{Role: llm.RoleUser, Content: "first"},
			{Role: llm.RoleAssistant, Content: "answer"},
			{Role: llm.RoleUser, Content: "second"},
		}
		out, err := a.Assemble(&Input{
			Spec:     &assistant.Spec{ID: "asst"},
			Messages: messages,
		})
		require.NoError(t, err)
		assert.Equal(t, messages, out)
	})

	t.Run("Should be pure: identical inputs yield identical output", func(t *testing.T) {
		in := &Input{
			Spec: &assistant.Spec{
				ID:              "asst",
				Instructions:    "Be terse.",
				MessageTemplate: "Q: {user_input}",
			},
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			Retrieval: &knowledge.Result{Context: "[1] passage"},
		}
		first, err := a.Assemble(in)
		require.NoError(t, err)
		second, err := a.Assemble(in)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("Should not mutate the input message slice", func(t *testing.T) {
		messages := []llm.Message{{Role: llm.RoleUser, Content: "original"}}
		_, err := a.Assemble(&Input{
			Spec:     &assistant.Spec{ID: "asst", MessageTemplate: "Q: {user_input}"},
			Messages: messages,
		})
		require.NoError(t, err)
		assert.Equal(t, "original", messages[0].Content)
	})
}
