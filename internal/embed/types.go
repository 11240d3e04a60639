// Package embed turns text into dense vectors for the retrieval pipeline.
//
// All embedders take an explicit Mode: queries and passages may be encoded
// differently by asymmetric models, so callers say which side they are
// embedding instead of the embedder guessing.
package embed

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultTimeout bounds one embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultBatchSize is the number of texts sent per remote request.
	DefaultBatchSize = 32

	// StaticDimensions is the vector size of the static embedder.
	StaticDimensions = 256
)

// Mode selects how text is encoded.
type Mode string

const (
	// ModeQuery encodes a search query.
	ModeQuery Mode = "query"
	// ModeDocument encodes a passage that will be searched.
	ModeDocument Mode = "document"
)

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeQuery, ModeDocument:
		return Mode(s), nil
	case "":
		return ModeQuery, nil
	default:
		return "", fmt.Errorf("unknown embedding mode %q (use query or document)", s)
	}
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors are returned as is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
