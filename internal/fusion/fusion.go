// Package fusion merges dense and lexical candidates into one set of
// chunk texts for reranking.
package fusion

// Candidate is a retrieved chunk from either index.
type Candidate struct {
	ID   string
	Text string
}

// Merge unions dense and lexical candidates by id. Dense candidates are
// inserted first, so a lexical candidate with the same id replaces the
// dense text. Within one list the last duplicate wins.
//
// Texts are returned in the order their ids were first seen. The result
// is never nil.
func Merge(dense, lexical []Candidate) []string {
	order := make([]string, 0, len(dense)+len(lexical))
	texts := make(map[string]string, len(dense)+len(lexical))

	add := func(list []Candidate) {
		for _, c := range list {
			if _, seen := texts[c.ID]; !seen {
				order = append(order, c.ID)
			}
			texts[c.ID] = c.Text
		}
	}
	add(dense)
	add(lexical)

	out := make([]string, len(order))
	for i, id := range order {
		out[i] = texts[id]
	}
	return out
}
