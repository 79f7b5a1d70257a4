package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attune-ai/attune/engine/assistant"
	"github.com/attune-ai/attune/engine/llm"
	"github.com/attune-ai/attune/engine/tenant"
)

// stubQuerier returns canned passages or errors per collection.
type stubQuerier struct {
	passages map[string][]Passage
	errs     map[string]error
	topKs    []int
	delay    time.Duration
}

func (q *stubQuerier) Query(
	ctx context.Context,
	_ tenant.KnowledgeBaseConfig,
	collection string,
	_ string,
	topK int,
) ([]Passage, error) {
	q.topKs = append(q.topKs, topK)
	if q.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.delay):
		}
	}
	if err := q.errs[collection]; err != nil {
		return nil, err
	}
	return q.passages[collection], nil
}

func testInput(collections ...string) *Input {
	return &Input{
		Spec: &assistant.Spec{
			ID:          "asst",
			Collections: collections,
		},
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "what is attune?"}},
	}
}

func TestSemanticRetriever(t *testing.T) {
	t.Run("Should render numbered passages with matching citations", func(t *testing.T) {
		querier := &stubQuerier{passages: map[string][]Passage{
			"docs": {
				{Text: "first passage", Source: "a.md", Page: 1, Score: 0.9},
				{Text: "second passage", Source: "b.md", Page: 2, Score: 0.8},
			},
		}}
		r, err := NewSemanticRetriever(querier, RetrieverOptions{})
		require.NoError(t, err)

		result, err := r.Retrieve(context.Background(), testInput("docs"))
		require.NoError(t, err)
		assert.Equal(t, "[1] first passage\n[2] second passage", result.Context)
		require.Len(t, result.Citations, 2)
		assert.Equal(t, Citation{Index: 1, Source: "a.md", Page: 1, Score: 0.9}, result.Citations[0])
		assert.Equal(t, Citation{Index: 2, Source: "b.md", Page: 2, Score: 0.8}, result.Citations[1])
	})

	t.Run("Should keep declared collection order regardless of completion order", func(t *testing.T) {
		querier := &stubQuerier{passages: map[string][]Passage{
			"slow": {{Text: "from slow", Source: "s.md"}},
			"fast": {{Text: "from fast", Source: "f.md"}},
		}}
		r, err := NewSemanticRetriever(querier, RetrieverOptions{})
		require.NoError(t, err)

		result, err := r.Retrieve(context.Background(), testInput("slow", "fast"))
		require.NoError(t, err)
		assert.Equal(t, "[1] from slow\n[2] from fast", result.Context)
	})

	t.Run("Should omit a failed collection and keep the rest", func(t *testing.T) {
		querier := &stubQuerier{
			passages: map[string][]Passage{
				"healthy": {{Text: "kept", Source: "h.md"}},
			},
			errs: map[string]error{"broken": errors.New("boom")},
		}
		r, err := NewSemanticRetriever(querier, RetrieverOptions{})
		require.NoError(t, err)

		result, err := r.Retrieve(context.Background(), testInput("broken", "healthy"))
		require.NoError(t, err)
		assert.Equal(t, "[1] kept", result.Context)
		require.Len(t, result.Citations, 1)
	})

	t.Run("Should return empty result when every collection fails", func(t *testing.T) {
		querier := &stubQuerier{errs: map[string]error{
			"a": errors.New("boom"),
			"b": errors.New("boom"),
		}}
		r, err := NewSemanticRetriever(querier, RetrieverOptions{})
		require.NoError(t, err)

		result, err := r.Retrieve(context.Background(), testInput("a", "b"))
		require.NoError(t, err)
		assert.True(t, result.Empty())
		assert.Empty(t, result.Citations)
	})

	t.Run("Should return empty result without collections", func(t *testing.T) {
		r, err := NewSemanticRetriever(&stubQuerier{}, RetrieverOptions{})
		require.NoError(t, err)

		result, err := r.Retrieve(context.Background(), testInput())
		require.NoError(t, err)
		assert.True(t, result.Empty())
	})

	t.Run("Should return empty result for a blank query", func(t *testing.T) {
		r, err := NewSemanticRetriever(&stubQuerier{}, RetrieverOptions{})
		require.NoError(t, err)

		in := testInput("docs")
		in.Messages = []llm.Message{{Role: llm.RoleUser, Content: "   "}}
		result, err := r.Retrieve(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, result.Empty())
	})

	t.Run("Should query with the latest user turn", func(t *testing.T) {
		querier := &stubQuerier{}
		r, err := NewSemanticRetriever(querier, RetrieverOptions{})
		require.NoError(t, err)

		in := testInput("docs")
		in.Messages = []llm.Message{
			{Role: llm.RoleUser, Content: "old question"},
			{Role: llm.RoleAssistant, Content: "old answer"},
			{Role: llm.RoleUser, Content: "new question"},
		}
		_, err = r.Retrieve(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, querier.topKs, 1)
	})

	t.Run("Should default top_k when the assistant leaves it unset", func(t *testing.T) {
		querier := &stubQuerier{}
		r, err := NewSemanticRetriever(querier, RetrieverOptions{})
		require.NoError(t, err)

		_, err = r.Retrieve(context.Background(), testInput("docs"))
		require.NoError(t, err)
		require.Len(t, querier.topKs, 1)
		assert.Equal(t, defaultTopK, querier.topKs[0])
	})

	t.Run("Should drop a collection that exceeds its timeout", func(t *testing.T) {
		querier := &stubQuerier{
			delay: 200 * time.Millisecond,
			passages: map[string][]Passage{
				"slow": {{Text: "never seen", Source: "s.md"}},
			},
		}
		r, err := NewSemanticRetriever(querier, RetrieverOptions{
			AggregateTimeout:  time.Second,
			CollectionTimeout: 20 * time.Millisecond,
		})
		require.NoError(t, err)

		result, err := r.Retrieve(context.Background(), testInput("slow"))
		require.NoError(t, err)
		assert.True(t, result.Empty())
	})

	t.Run("Should reject a nil querier", func(t *testing.T) {
		_, err := NewSemanticRetriever(nil, RetrieverOptions{})
		require.Error(t, err)
	})
}

func TestRender(t *testing.T) {
	t.Run("Should number passages continuously across collections", func(t *testing.T) {
		result := render([][]Passage{
			{{Text: "one", Source: "a"}},
			nil,
			{{Text: "two", Source: "b"}, {Text: "three", Source: "c"}},
		})
		assert.Equal(t, "[1] one\n[2] two\n[3] three", result.Context)
		require.Len(t, result.Citations, 3)
		for i, c := range result.Citations {
			assert.Equal(t, i+1, c.Index, fmt.Sprintf("citation %d", i))
		}
	})
}
