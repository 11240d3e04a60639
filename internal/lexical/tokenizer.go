package lexical

import (
	"regexp"
	"strings"
	"unicode"
)

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// DefaultStopWords are common English function words.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "can",
	"do", "does", "for", "from", "has", "have", "how", "if", "in", "into",
	"is", "it", "its", "of", "on", "or", "that", "the", "their", "there",
	"these", "this", "to", "was", "were", "what", "when", "where", "which",
	"who", "why", "will", "with",
}

var defaultStopWordMap = BuildStopWordMap(DefaultStopWords)

// Tokenize lowercases text into terms. Identifiers are split on
// underscores and case changes so "getUserID" matches "user". Terms
// shorter than two characters and stop words are dropped.
func Tokenize(text string) []string {
	return filterStopWords(terms(text), defaultStopWordMap)
}

// terms is Tokenize without stop word filtering.
func terms(text string) []string {
	var out []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len([]rune(lower)) >= 2 {
				out = append(out, lower)
			}
		}
	}
	return out
}

func filterStopWords(tokens []string, stop map[string]struct{}) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if _, isStop := stop[t]; !isStop {
			out = append(out, t)
		}
	}
	return out
}

func splitIdentifier(word string) []string {
	if !strings.Contains(word, "_") {
		return splitCamelCase(word)
	}
	var out []string
	for _, part := range strings.Split(word, "_") {
		if part != "" {
			out = append(out, splitCamelCase(part)...)
		}
	}
	return out
}

// splitCamelCase splits "parseHTTPRequest" into parse, HTTP, Request.
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// BuildStopWordMap converts a word list into a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// ftsQuery renders terms as an FTS5 OR query with every term quoted, so
// user punctuation never reaches the FTS5 parser.
func ftsQuery(terms []string) string {
	seen := make(map[string]struct{}, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
