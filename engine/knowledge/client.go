package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/attune-ai/attune/engine/tenant"
)

type queryRequest struct {
	QueryText string `json:"query_text"`
	TopK      int    `json:"top_k"`
}

type queryResponse struct {
	Results []struct {
		Text     string `json:"text"`
		Metadata struct {
			Source string `json:"source"`
			Page   int    `json:"page,omitempty"`
		} `json:"metadata"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// HTTPQuerier queries knowledge-base collections over the query endpoint
// carried in the tenant configuration.
type HTTPQuerier struct {
	http *resty.Client
}

// NewHTTPQuerier builds the shared knowledge-base client. The timeout here
// is a transport-level ceiling; per-collection deadlines arrive via ctx.
func NewHTTPQuerier(timeout time.Duration) *HTTPQuerier {
	return &HTTPQuerier{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (q *HTTPQuerier) Query(
	ctx context.Context,
	kb tenant.KnowledgeBaseConfig,
	collection string,
	query string,
	topK int,
) ([]Passage, error) {
	if kb.Endpoint == "" {
		return nil, fmt.Errorf("knowledge: tenant has no knowledge-base endpoint")
	}
	out := &queryResponse{}
	req := q.http.R().
		SetContext(ctx).
		SetBody(queryRequest{QueryText: query, TopK: topK}).
		SetResult(out).
		SetPathParam("collection", collection)
	if kb.APIKey != "" {
		req.SetAuthToken(kb.APIKey)
	}
	resp, err := req.Post(kb.Endpoint + "/collections/{collection}/query")
	if err != nil {
		return nil, fmt.Errorf("knowledge: query collection %q: %w", collection, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("knowledge: collection %q returned %s", collection, resp.Status())
	}
	passages := make([]Passage, 0, len(out.Results))
	for _, r := range out.Results {
		passages = append(passages, Passage{
			Text:   r.Text,
			Source: r.Metadata.Source,
			Page:   r.Metadata.Page,
			Score:  r.Score,
		})
	}
	return passages, nil
}
