package dense

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/groundedrag/internal/config"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

// Backend names accepted in dense.backend.
const (
	BackendHNSW     = "hnsw"
	BackendPgvector = "pgvector"
)

// Flusher is implemented by stores that persist on demand.
type Flusher interface {
	Flush() error
}

// DocCounter is implemented by stores that can count one document's records.
type DocCounter interface {
	CountDoc(ctx context.Context, docID string) (int, error)
}

// Open builds the configured dense store. root is the project root used to
// resolve relative index paths; dims is the embedder dimension (0 lets
// the HNSW backend learn it).
func Open(ctx context.Context, cfg config.DenseConfig, root string, dims int) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendHNSW, "":
		path := config.ResolvePath(root, cfg.Path)
		idx, err := OpenHNSWIndex(path, HNSWConfig{Dimensions: dims})
		if err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeCorruptIndex, "failed to open hnsw index", err).
				WithDetail("path", path).
				WithSuggestion("re-run groundedrag ingest to rebuild the index")
		}
		if dims > 0 && idx.Dimensions() != 0 && idx.Dimensions() != dims {
			_ = idx.Close()
			return nil, ragerrors.New(ragerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("hnsw index has %d dimensions, embedder produces %d", idx.Dimensions(), dims), nil).
				WithSuggestion("re-ingest after changing the embedding model")
		}
		return idx, nil
	case BackendPgvector:
		idx, err := NewPgvectorIndex(ctx, PgvectorConfig{
			DSN:        cfg.DSN,
			Table:      cfg.Table,
			Dimensions: dims,
		})
		if err != nil {
			return nil, ragerrors.NetworkError("failed to open pgvector index", err)
		}
		return idx, nil
	default:
		return nil, ragerrors.ConfigError(fmt.Sprintf("unknown dense backend %q", cfg.Backend), nil).
			WithSuggestion("use hnsw or pgvector")
	}
}
