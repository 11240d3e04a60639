package lexical

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/groundedrag/internal/config"
	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
)

// Backend names accepted in lexical.backend.
const (
	BackendSQLite = "sqlite"
	BackendBleve  = "bleve"
	BackendNone   = "none"
)

// Open builds the configured lexical store relative to root. The "none"
// backend returns a nil store and nil error: retrieval then runs dense-only.
func Open(cfg config.LexicalConfig, root string) (Store, error) {
	path := config.ResolvePath(root, cfg.Path)

	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite, "":
		idx, err := NewSQLiteIndex(path)
		if err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeCorruptIndex, "failed to open sqlite lexical index", err).
				WithDetail("path", path)
		}
		return idx, nil
	case BackendBleve:
		idx, err := NewBleveIndex(path)
		if err != nil {
			return nil, ragerrors.New(ragerrors.ErrCodeCorruptIndex, "failed to open bleve lexical index", err).
				WithDetail("path", path)
		}
		return idx, nil
	case BackendNone:
		return nil, nil
	default:
		return nil, ragerrors.ConfigError(fmt.Sprintf("unknown lexical backend %q", cfg.Backend), nil).
			WithSuggestion("use sqlite, bleve or none")
	}
}
