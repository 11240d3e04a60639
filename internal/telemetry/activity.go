package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a coarse latency class for the status report.
type LatencyBucket string

const (
	BucketP100   LatencyBucket = "p100"   // <100ms
	BucketP500   LatencyBucket = "p500"   // 100-500ms
	BucketP1000  LatencyBucket = "p1000"  // 500ms-1s
	BucketP5000  LatencyBucket = "p5000"  // 1-5s
	BucketSlower LatencyBucket = "slower" // >=5s
)

// LatencyToBucket converts a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1000
	case ms < 5000:
		return BucketP5000
	default:
		return BucketSlower
	}
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer. Non-positive capacity means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// QueryEvent is one finished retrieval as seen by the activity log.
type QueryEvent struct {
	Query   string
	DocID   string
	Results int
	Latency time.Duration
	Err     error
}

// TermCount is a query term and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ActivitySnapshot is a point-in-time copy of the activity log.
type ActivitySnapshot struct {
	TotalQueries  int64                   `json:"total_queries"`
	EmptyResults  int64                   `json:"empty_results"`
	Errors        int64                   `json:"errors"`
	RecentEmpty   []string                `json:"recent_empty_queries"`
	TopTerms      []TermCount             `json:"top_terms"`
	Latency       map[LatencyBucket]int64 `json:"latency"`
	ScopedQueries int64                   `json:"scoped_queries"`
	Since         time.Time               `json:"since"`
}

// Activity keeps local, in-memory query statistics. Nothing leaves the
// process. Safe for concurrent use; a nil *Activity records nothing.
type Activity struct {
	mu          sync.Mutex
	total       int64
	empty       int64
	errors      int64
	scoped      int64
	latency     map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	recentEmpty *CircularBuffer[string]
	since       time.Time
}

// NewActivity creates an activity log tracking up to termCapacity terms
// and the last emptyCapacity queries that returned nothing.
func NewActivity(termCapacity, emptyCapacity int) *Activity {
	if termCapacity <= 0 {
		termCapacity = 100
	}
	terms, _ := lru.New[string, int64](termCapacity)
	return &Activity{
		latency:     make(map[LatencyBucket]int64),
		terms:       terms,
		recentEmpty: NewCircularBuffer[string](emptyCapacity),
		since:       time.Now(),
	}
}

// Record adds ev to the log.
func (a *Activity) Record(ev QueryEvent) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.latency[LatencyToBucket(ev.Latency)]++
	if ev.DocID != "" {
		a.scoped++
	}
	switch {
	case ev.Err != nil:
		a.errors++
	case ev.Results == 0:
		a.empty++
		a.recentEmpty.Add(ev.Query)
	}
	for _, term := range extractTerms(ev.Query) {
		n, _ := a.terms.Get(term)
		a.terms.Add(term, n+1)
	}
}

// Snapshot returns a copy of the current statistics.
func (a *Activity) Snapshot() ActivitySnapshot {
	if a == nil {
		return ActivitySnapshot{Latency: map[LatencyBucket]int64{}}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	top := make([]TermCount, 0, a.terms.Len())
	for _, k := range a.terms.Keys() {
		if n, ok := a.terms.Peek(k); ok {
			top = append(top, TermCount{Term: k, Count: n})
		}
	}
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Term < top[j].Term
	})

	latency := make(map[LatencyBucket]int64, len(a.latency))
	for k, v := range a.latency {
		latency[k] = v
	}

	return ActivitySnapshot{
		TotalQueries:  a.total,
		EmptyResults:  a.empty,
		Errors:        a.errors,
		RecentEmpty:   a.recentEmpty.Items(),
		TopTerms:      top,
		Latency:       latency,
		ScopedQueries: a.scoped,
		Since:         a.since,
	}
}

// extractTerms lowercases query and keeps words of three or more bytes.
func extractTerms(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(w) >= 3 {
			out = append(out, w)
		}
	}
	return out
}
