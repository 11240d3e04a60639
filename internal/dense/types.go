// Package dense provides dense vector indexes queried by the retrieval
// pipeline: a local HNSW graph and a PostgreSQL pgvector table.
//
// Matches carry the chunk text in Metadata["text"]. Indexes never invent
// text: a record stored without it comes back without it, and the
// retrieval pipeline drops such matches.
package dense

import (
	"context"
	"fmt"
)

// Well-known metadata keys.
const (
	MetaText  = "text"
	MetaDocID = "doc_id"
	MetaChunk = "chunk"
)

// Query is a nearest-neighbour request.
type Query struct {
	Vector []float32
	TopK   int
	// IncludeMetadata returns Match.Metadata when set.
	IncludeMetadata bool
	// Filter keeps only matches whose metadata equals every key/value.
	// Nil means no filter.
	Filter map[string]string
}

// Match is one nearest-neighbour hit.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Text returns Metadata["text"] when it is a string.
func (m Match) Text() (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	s, ok := m.Metadata[MetaText].(string)
	return s, ok
}

// QueryResponse holds matches, best first. Matches may be nil.
type QueryResponse struct {
	Matches []Match
}

// Index is the read side used by retrieval.
type Index interface {
	Query(ctx context.Context, q Query) (*QueryResponse, error)
}

// Record is one vector with its metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Writer is the ingest side of an index.
type Writer interface {
	Upsert(ctx context.Context, records []Record) error
	Count() int
	Close() error
}

// Store is an index that can also be written.
type Store interface {
	Index
	Writer
}

// ErrDimensionMismatch reports a vector of the wrong size.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// matchesFilter reports whether meta satisfies every filter pair.
// Non-string values compare by their fmt form.
func matchesFilter(meta map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok {
			return false
		}
		if s, isString := got.(string); isString {
			if s != want {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}
