// Package rerank scores retrieved chunks against a query with a
// cross-encoder and returns them in relevance order.
package rerank

import (
	"context"
	"errors"
)

// ErrClosed is returned by a closed reranker.
var ErrClosed = errors.New("reranker is closed")

// Document is the text of a reranked input.
type Document struct {
	Text string `json:"text"`
}

// Result is one reranked document. Index is the position in the input
// slice; Score is the model's relevance score.
type Result struct {
	Index    int      `json:"index"`
	Score    float64  `json:"relevance_score"`
	Document Document `json:"document"`
}

// Reranker reorders documents by relevance to query. Results come back
// most relevant first and hold at most topN entries when topN > 0.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
	Close() error
}

// NoOpReranker keeps the input order. Used when no reranking service is
// configured.
type NoOpReranker struct{}

var _ Reranker = NoOpReranker{}

// Rerank returns documents in input order with decreasing scores.
func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topN int) ([]Result, error) {
	n := len(documents)
	if topN > 0 && topN < n {
		n = topN
	}
	results := make([]Result, n)
	for i := range n {
		results[i] = Result{
			Index:    i,
			Score:    1.0 - float64(i)*0.01,
			Document: Document{Text: documents[i]},
		}
	}
	return results, nil
}

// Close is a no-op.
func (NoOpReranker) Close() error { return nil }

// Texts returns the document texts of results in order.
func Texts(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Document.Text
	}
	return out
}
