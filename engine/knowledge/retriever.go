package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/attune-ai/attune/engine/llm"
	"github.com/attune-ai/attune/pkg/logger"
)

// SemanticRetrieverName is the registry name of the standard strategy.
const SemanticRetrieverName = "semantic"

const (
	defaultTopK              = 4
	defaultAggregateTimeout  = 10 * time.Second
	defaultCollectionTimeout = 4 * time.Second
)

// RetrieverOptions are the latency tunables of the fan-out. The
// per-collection timeout keeps one slow collection from consuming the whole
// aggregate budget.
type RetrieverOptions struct {
	AggregateTimeout  time.Duration
	CollectionTimeout time.Duration
}

// SemanticRetriever queries every declared collection with the latest user
// turn and renders matches as a numbered passage list. Collections are
// queried concurrently but results keep the declared order; there is no
// cross-collection re-ranking.
type SemanticRetriever struct {
	querier Querier
	opts    RetrieverOptions
}

func NewSemanticRetriever(querier Querier, opts RetrieverOptions) (*SemanticRetriever, error) {
	if querier == nil {
		return nil, fmt.Errorf("knowledge: querier is required")
	}
	if opts.AggregateTimeout <= 0 {
		opts.AggregateTimeout = defaultAggregateTimeout
	}
	if opts.CollectionTimeout <= 0 || opts.CollectionTimeout > opts.AggregateTimeout {
		opts.CollectionTimeout = min(defaultCollectionTimeout, opts.AggregateTimeout)
	}
	return &SemanticRetriever{querier: querier, opts: opts}, nil
}

func (r *SemanticRetriever) Name() string { return SemanticRetrieverName }

// Retrieve never fails the pipeline: collection errors are logged and their
// results omitted, and when every collection fails the result is empty.
func (r *SemanticRetriever) Retrieve(ctx context.Context, in *Input) (*Result, error) {
	if in == nil || in.Spec == nil || len(in.Spec.Collections) == 0 {
		return &Result{}, nil
	}
	query := llm.LastUserContent(in.Messages)
	if strings.TrimSpace(query) == "" {
		return &Result{}, nil
	}
	topK := in.Spec.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	perCollection := r.fanOut(ctx, in, query, topK)
	return render(perCollection), nil
}

// fanOut issues one query per collection and returns the successful result
// sets in declared collection order.
func (r *SemanticRetriever) fanOut(ctx context.Context, in *Input, query string, topK int) [][]Passage {
	log := logger.FromContext(ctx)
	collections := in.Spec.Collections
	results := make([][]Passage, len(collections))

	ctx, cancel := context.WithTimeout(ctx, r.opts.AggregateTimeout)
	defer cancel()

	var group errgroup.Group
	for i, collection := range collections {
		group.Go(func() error {
			queryCtx, cancelQuery := context.WithTimeout(ctx, r.opts.CollectionTimeout)
			defer cancelQuery()
			passages, err := r.querier.Query(queryCtx, in.KnowledgeBase, collection, query, topK)
			if err != nil {
				// Degraded retrieval, never a request failure.
				log.Warn("knowledge collection query failed",
					"assistant_id", in.Spec.ID,
					"collection", collection,
					"error", err,
				)
				return nil
			}
			results[i] = passages
			return nil
		})
	}
	// Goroutines swallow their errors, so Wait only synchronizes.
	_ = group.Wait()
	return results
}

func render(perCollection [][]Passage) *Result {
	var sb strings.Builder
	citations := make([]Citation, 0)
	index := 0
	for _, passages := range perCollection {
		for _, p := range passages {
			index++
			if index > 1 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "[%d] %s", index, p.Text)
			citations = append(citations, Citation{
				Index:  index,
				Source: p.Source,
				Page:   p.Page,
				Score:  p.Score,
			})
		}
	}
	if index == 0 {
		return &Result{}
	}
	return &Result{Context: sb.String(), Citations: citations}
}
