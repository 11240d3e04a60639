// Package ingest chunks documents, embeds them in document mode and
// writes them to the dense and lexical indexes the retrieval pipeline
// reads. It is the only writer of those indexes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/groundedrag/internal/dense"
	"github.com/Aman-CERP/groundedrag/internal/embed"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
	"github.com/Aman-CERP/groundedrag/internal/lexical"
)

// DefaultBatchSize is the number of chunks embedded and written per batch.
const DefaultBatchSize = 32

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// Result summarizes one ingested document.
type Result struct {
	DocID    string        `json:"doc_id"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
}

// Ingestor writes documents to the indexes.
type Ingestor struct {
	embedder  embed.Embedder
	dense     dense.Writer
	lexical   lexical.Writer
	chunker   *Chunker
	lock      *FileLock
	batchSize int
	logger    *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLexical also writes every chunk to w.
func WithLexical(w lexical.Writer) Option {
	return func(in *Ingestor) {
		in.lexical = w
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c *Chunker) Option {
	return func(in *Ingestor) {
		if c != nil {
			in.chunker = c
		}
	}
}

// WithLockDir serializes ingests across processes with a lock file in dir.
func WithLockDir(dir string) Option {
	return func(in *Ingestor) {
		if dir != "" {
			in.lock = NewFileLock(dir)
		}
	}
}

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.batchSize = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

// NewIngestor creates an Ingestor writing to the given dense index.
func NewIngestor(e embed.Embedder, d dense.Writer, opts ...Option) (*Ingestor, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: dense writer is required", ErrNilDependency)
	}
	in := &Ingestor{
		embedder:  e,
		dense:     d,
		chunker:   NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// ChunkID returns the id of chunk n of docID.
func ChunkID(docID string, n int) string {
	return docID + "#" + strconv.Itoa(n)
}

// IngestText chunks text and writes it under docID. Chunk ids are
// docID#0, docID#1, ... and re-ingesting a document overwrites them.
// Chunks past the new count are not removed; a warning is logged when
// the dense store can report the previous count.
func (in *Ingestor) IngestText(ctx context.Context, docID, text string) (Result, error) {
	start := time.Now()
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return Result{}, ragerrors.ValidationError("doc_id must not be empty", nil)
	}

	chunks := in.chunker.Split(text)
	if len(chunks) == 0 {
		return Result{}, ragerrors.ValidationError(fmt.Sprintf("document %q has no text", docID), nil)
	}

	if in.lock != nil {
		if err := in.lock.Lock(ctx); err != nil {
			return Result{}, err
		}
		defer func() { _ = in.lock.Unlock() }()
	}

	previous := in.previousChunks(ctx, docID)

	for lo := 0; lo < len(chunks); lo += in.batchSize {
		hi := min(lo+in.batchSize, len(chunks))
		if err := in.writeBatch(ctx, docID, lo, chunks[lo:hi]); err != nil {
			return Result{}, err
		}
	}

	if f, ok := in.dense.(dense.Flusher); ok {
		if err := f.Flush(); err != nil {
			return Result{}, fmt.Errorf("failed to persist dense index: %w", err)
		}
	}

	if previous > len(chunks) {
		in.logger.Warn("stale_chunks_remain",
			slog.String("doc_id", docID),
			slog.Int("previous_chunks", previous),
			slog.Int("chunks", len(chunks)))
	}

	res := Result{DocID: docID, Chunks: len(chunks), Duration: time.Since(start)}
	in.logger.Info("document_ingested",
		slog.String("doc_id", docID),
		slog.Int("chunks", res.Chunks),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// previousChunks returns how many chunks docID already has, or 0 when
// the dense store cannot tell.
func (in *Ingestor) previousChunks(ctx context.Context, docID string) int {
	c, ok := in.dense.(dense.DocCounter)
	if !ok {
		return 0
	}
	n, err := c.CountDoc(ctx, docID)
	if err != nil {
		in.logger.Debug("chunk_count_failed",
			slog.String("doc_id", docID),
			slog.String("error", err.Error()))
		return 0
	}
	return n
}

func (in *Ingestor) writeBatch(ctx context.Context, docID string, offset int, texts []string) error {
	vecs, err := in.embedder.Embed(ctx, texts, embed.ModeDocument)
	if err != nil {
		return ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorEmbedder, "embed", err)
	}
	if len(vecs) != len(texts) {
		return ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorEmbedder, "embed",
			fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs)))
	}

	records := make([]dense.Record, len(texts))
	docs := make([]lexical.Document, len(texts))
	for i, t := range texts {
		n := offset + i
		id := ChunkID(docID, n)
		records[i] = dense.Record{
			ID:     id,
			Vector: vecs[i],
			Metadata: map[string]any{
				dense.MetaDocID: docID,
				dense.MetaText:  t,
				dense.MetaChunk: n,
			},
		}
		docs[i] = lexical.Document{ID: id, Text: t, DocID: docID}
	}

	if err := in.dense.Upsert(ctx, records); err != nil {
		return ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorDense, "upsert", err)
	}
	if in.lexical != nil {
		if err := in.lexical.Index(ctx, docs); err != nil {
			return ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorLexical, "index", err)
		}
	}
	return nil
}

// IngestFile reads path and ingests it. An empty docID uses the file name
// without its extension.
func (in *Ingestor) IngestFile(ctx context.Context, path, docID string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, ragerrors.New(ragerrors.ErrCodeFileNotFound, "file not found", err).WithDetail("path", path)
		}
		return Result{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if docID == "" {
		docID = DocIDFromPath(path)
	}
	return in.IngestText(ctx, docID, string(data))
}

// DocIDFromPath returns the base name of path without its extension.
func DocIDFromPath(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
