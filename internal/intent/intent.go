// Package intent classifies a question into the kind of answer it asks
// for, which selects the answering instruction.
package intent

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Intent is the kind of answer a question asks for.
type Intent int

const (
	Direct Intent = iota
	Disadvantages
	Advantages
	Steps
	Comparison
)

// String returns the intent name.
func (i Intent) String() string {
	switch i {
	case Disadvantages:
		return "disadvantages"
	case Advantages:
		return "advantages"
	case Steps:
		return "steps"
	case Comparison:
		return "comparison"
	default:
		return "direct"
	}
}

// Instruction returns the answering instruction for the intent.
func (i Intent) Instruction() string {
	switch i {
	case Disadvantages:
		return "List the disadvantages or negative aspects."
	case Advantages:
		return "List the advantages or benefits."
	case Steps:
		return "Explain the steps."
	case Comparison:
		return "Provide a comparison."
	default:
		return "Answer the question directly."
	}
}

// Classifier maps a query to an Intent.
type Classifier interface {
	Classify(ctx context.Context, query string) Intent
}

type rule struct {
	intent   Intent
	keywords []string
}

// rules are checked in order; the first rule with a matching substring
// wins. "disadvantage" must precede "advantage".
var rules = []rule{
	{Disadvantages, []string{"disadvantage", "drawback", "limitation", "negative"}},
	{Advantages, []string{"advantage", "benefit", "merit"}},
	{Steps, []string{"steps", "process", "how to"}},
	{Comparison, []string{"difference", "compare"}},
}

// KeywordClassifier matches lowercase keyword substrings.
type KeywordClassifier struct{}

var _ Classifier = KeywordClassifier{}

// Classify returns the first matching intent, or Direct.
func (KeywordClassifier) Classify(_ context.Context, query string) Intent {
	q := strings.ToLower(query)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(q, kw) {
				return r.intent
			}
		}
	}
	return Direct
}

// DefaultCacheSize is the CachedClassifier size when none is given.
const DefaultCacheSize = 512

// CachedClassifier memoizes another classifier by normalized query.
type CachedClassifier struct {
	inner Classifier
	cache *lru.Cache[string, Intent]
}

var _ Classifier = (*CachedClassifier)(nil)

// NewCachedClassifier wraps inner with an LRU of size entries.
func NewCachedClassifier(inner Classifier, size int) *CachedClassifier {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, Intent](size)
	return &CachedClassifier{inner: inner, cache: cache}
}

// Classify returns the cached intent or asks the inner classifier.
func (c *CachedClassifier) Classify(ctx context.Context, query string) Intent {
	key := normalize(query)
	if i, ok := c.cache.Get(key); ok {
		return i
	}
	i := c.inner.Classify(ctx, query)
	c.cache.Add(key, i)
	return i
}

// Len returns the number of cached queries.
func (c *CachedClassifier) Len() int {
	return c.cache.Len()
}

func normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
