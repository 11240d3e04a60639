package lexical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// TokenizerName is the registered name of the identifier-aware tokenizer.
	TokenizerName = "groundedrag_tokenizer"

	// StopFilterName is the registered name of the stop word filter.
	StopFilterName = "groundedrag_stop"

	// AnalyzerName is the analyzer used for the content field.
	AnalyzerName = "groundedrag_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(TokenizerName, func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
		return tokenizer{}, nil
	})
	_ = registry.RegisterTokenFilter(StopFilterName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return stopFilter{stop: defaultStopWordMap}, nil
	})
}

// bleveDocument is the indexed shape. Text is stored, not indexed.
type bleveDocument struct {
	Content string `json:"content"`
	Text    string `json:"text"`
	DocID   string `json:"doc_id"`
}

// BleveIndex is a BM25 index on Bleve v2.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

var _ Store = (*BleveIndex)(nil)

// NewBleveIndex opens or creates an index directory. An empty path creates
// an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	m, err := newIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
		return &BleveIndex{index: idx}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	idx, err := bleve.Open(path)
	switch {
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		idx, err = bleve.New(path, m)
	case err != nil:
		// A half-written index is rebuilt by the next ingest.
		slog.Warn("lexical_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("bleve index unreadable and cannot be removed: %w", rmErr)
		}
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return &BleveIndex{index: idx}, nil
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     TokenizerName,
		"token_filters": []string{StopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	content := bleve.NewTextFieldMapping()
	content.Analyzer = AnalyzerName
	content.Store = false

	text := bleve.NewTextFieldMapping()
	text.Index = false
	text.Store = true

	docID := bleve.NewKeywordFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("doc_id", docID)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = AnalyzerName
	return im, nil
}

// Index adds docs in one batch, replacing existing ids.
func (b *BleveIndex) Index(_ context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document id is required")
		}
		if err := batch.Index(d.ID, bleveDocument{Content: d.Text, Text: d.Text, DocID: d.DocID}); err != nil {
			return fmt.Errorf("failed to index %s: %w", d.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs a match query on the content field.
func (b *BleveIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(query) == "" || topK <= 0 || len(Tokenize(query)) == 0 {
		return []Hit{}, nil
	}

	mq := bleve.NewMatchQuery(query)
	mq.SetField("content")

	req := bleve.NewSearchRequest(mq)
	req.Size = topK
	req.Fields = []string{"text"}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		text, _ := h.Fields["text"].(string)
		hits = append(hits, Hit{ID: h.ID, Text: text, Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (b *BleveIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// tokenizer adapts terms to bleve's analysis.Tokenizer.
type tokenizer struct{}

func (tokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	toks := terms(text)

	stream := make(analysis.TokenStream, 0, len(toks))
	offset := 0
	for i, tok := range toks {
		start := strings.Index(lower[offset:], tok)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := min(start+len(tok), len(lower))
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return stream
}

type stopFilter struct {
	stop map[string]struct{}
}

func (f stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, isStop := f.stop[string(tok.Term)]; !isStop {
			out = append(out, tok)
		}
	}
	return out
}
