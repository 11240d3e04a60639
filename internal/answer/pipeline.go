package answer

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/groundedrag/internal/retrieval"
)

// Retriever is the retrieval side of a Pipeline.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]string, error)
}

// Pipeline retrieves evidence and answers from it.
type Pipeline struct {
	retriever Retriever
	answerer  *Answerer
}

// NewPipeline creates a Pipeline.
func NewPipeline(r Retriever, a *Answerer) (*Pipeline, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: retriever is required", ErrNilDependency)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: answerer is required", ErrNilDependency)
	}
	return &Pipeline{retriever: r, answerer: a}, nil
}

// Ask retrieves chunks for query, optionally scoped to docID, and answers
// from them. A zero summaryLength uses the answerer default.
func (p *Pipeline) Ask(ctx context.Context, query, docID string, summaryLength int) (Response, error) {
	chunks, err := p.retriever.Retrieve(ctx, retrieval.Request{Query: query, DocID: docID})
	if err != nil {
		return Response{}, err
	}
	return p.answerer.Answer(ctx, Request{
		Query:           query,
		RetrievedChunks: TextChunks(chunks),
		SummaryLength:   summaryLength,
	})
}
