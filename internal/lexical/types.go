// Package lexical provides BM25 keyword indexes for hybrid retrieval.
//
// Two backends share one tokenizer: SQLite FTS5 (default, single file,
// safe across processes in WAL mode) and Bleve (in-memory or directory).
// Both store the original chunk text so a hit can be used as-is.
package lexical

import (
	"context"
	"errors"
)

// ErrClosed is returned by a closed index.
var ErrClosed = errors.New("lexical index is closed")

// Hit is one keyword search result.
type Hit struct {
	ID    string
	Text  string
	Score float64
}

// Document is one chunk to index.
type Document struct {
	ID    string
	Text  string
	DocID string
}

// Index is the read side used by retrieval.
type Index interface {
	// Search returns up to topK hits, best first. A query with no
	// searchable terms returns no hits and no error.
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
}

// Writer is the ingest side.
type Writer interface {
	Index(ctx context.Context, docs []Document) error
	Count() int
	Close() error
}

// Store is an index that can also be written.
type Store interface {
	Index
	Writer
}
