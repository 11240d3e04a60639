package dense

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// ErrClosed is returned by a closed index.
var ErrClosed = errors.New("dense index is closed")

// HNSWConfig tunes the graph.
type HNSWConfig struct {
	// Dimensions is fixed by the first upsert when 0.
	Dimensions int
	M          int
	EfSearch   int
}

// HNSWIndex is an in-process dense index on coder/hnsw with cosine
// distance. Metadata is kept per id next to the graph.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap    map[string]uint64
	keyMap   map[uint64]string
	metadata map[string]map[string]any
	nextKey  uint64

	// path is set by OpenHNSWIndex and used by Flush.
	path   string
	closed bool
}

var (
	_ Store      = (*HNSWIndex)(nil)
	_ DocCounter = (*HNSWIndex)(nil)
)

// hnswMeta is the gob sidecar written next to the exported graph.
// Metadata is JSON encoded per id so arbitrary values survive gob.
type hnswMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	Metadata   map[string][]byte
}

// NewHNSWIndex creates an empty index.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:    graph,
		dims:     cfg.Dimensions,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		metadata: make(map[string]map[string]any),
	}
}

// OpenHNSWIndex loads path when it exists, otherwise returns an empty index.
func OpenHNSWIndex(path string, cfg HNSWConfig) (*HNSWIndex, error) {
	idx := NewHNSWIndex(cfg)
	idx.path = path
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	return idx, nil
}

// Upsert adds records, replacing existing ids. Replaced nodes stay in the
// graph unreachable by id; coder/hnsw misbehaves when deleting its last node.
func (s *HNSWIndex) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.dims == 0 {
		s.dims = len(records[0].Vector)
	}
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record id is required")
		}
		if len(r.Vector) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(r.Vector)}
		}
	}

	for _, r := range records {
		if old, exists := s.idMap[r.ID]; exists {
			delete(s.keyMap, old)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		normalizeInPlace(vec)
		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[r.ID] = key
		s.keyMap[key] = r.ID
		s.metadata[r.ID] = cloneMetadata(r.Metadata)
	}
	return nil
}

// Query returns up to q.TopK matches, best first.
func (s *HNSWIndex) Query(ctx context.Context, q Query) (*QueryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if q.TopK <= 0 || s.graph.Len() == 0 {
		return &QueryResponse{Matches: []Match{}}, nil
	}
	if len(q.Vector) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(q.Vector)}
	}

	query := make([]float32, len(q.Vector))
	copy(query, q.Vector)
	normalizeInPlace(query)

	var matches []Match
	if len(q.Filter) > 0 {
		matches = s.scanFiltered(query, q)
	} else {
		matches = s.searchGraph(query, q)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return &QueryResponse{Matches: matches}, nil
}

// searchGraph runs an approximate graph search. Orphaned nodes of replaced
// ids are over-fetched and skipped.
func (s *HNSWIndex) searchGraph(query []float32, q Query) []Match {
	orphans := s.graph.Len() - len(s.idMap)
	k := min(q.TopK+orphans, s.graph.Len())

	nodes := s.graph.Search(query, k)
	matches := make([]Match, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		matches = append(matches, s.match(id, query, node.Value, q.IncludeMetadata))
	}
	return matches
}

// scanFiltered scores every live record whose metadata matches q.Filter
// with exact distances, bypassing the graph.
func (s *HNSWIndex) scanFiltered(query []float32, q Query) []Match {
	matches := []Match{}
	for id, key := range s.idMap {
		if !matchesFilter(s.metadata[id], q.Filter) {
			continue
		}
		vec, ok := s.graph.Lookup(key)
		if !ok {
			continue
		}
		matches = append(matches, s.match(id, query, vec, q.IncludeMetadata))
	}
	// map order is random; ties resolve by id
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches
}

func (s *HNSWIndex) match(id string, query, vec []float32, withMeta bool) Match {
	m := Match{
		ID:    id,
		Score: distanceToScore(s.graph.Distance(query, vec)),
	}
	if withMeta {
		m.Metadata = cloneMetadata(s.metadata[id])
	}
	return m
}

// Count returns the number of live records.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// CountDoc returns the number of live records whose doc_id is docID.
func (s *HNSWIndex) CountDoc(_ context.Context, docID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.idMap {
		if d, _ := s.metadata[id][MetaDocID].(string); d == docID {
			n++
		}
	}
	return n, nil
}

// Dimensions returns the vector size, 0 while empty and unconfigured.
func (s *HNSWIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Save writes the graph to path and the id/metadata sidecar to path.meta,
// each through a temp file and rename.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := writeAtomic(path, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	meta := hnswMeta{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.dims,
		Metadata:   make(map[string][]byte, len(s.metadata)),
	}
	for id, m := range s.metadata {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", id, err)
		}
		meta.Metadata[id] = b
	}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// Flush saves to the path the index was opened from.
func (s *HNSWIndex) Flush() error {
	if s.path == "" {
		return nil
	}
	return s.Save(s.path)
}

// Load replaces the index contents with the files at path.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta hnswMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}

	graphFile, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = graphFile.Close() }()

	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.idMap = meta.IDMap
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	s.nextKey = meta.NextKey
	s.dims = meta.Dimensions
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	s.metadata = make(map[string]map[string]any, len(meta.Metadata))
	for id, raw := range meta.Metadata {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			slog.Warn("hnsw_metadata_corrupt", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		s.metadata[id] = m
	}
	return nil
}

// Close releases the graph.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance [0, 2] to similarity [0, 1].
func distanceToScore(d float32) float64 {
	return 1 - float64(d)/2
}
