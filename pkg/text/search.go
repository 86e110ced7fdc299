package text

import (
	"strings"
)

// Query is a parsed $search string
type Query struct {
	Terms    []string // plain words, any of which may match
	Negated  []string // words prefixed with '-'
	Phrases  []string // quoted phrases, all of which must appear
	Language string   // empty means the index default
}

// ParseQuery splits a search string into terms, negated terms and phrases
func ParseQuery(search string) Query {
	var q Query
	for {
		start := strings.IndexByte(search, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(search[start+1:], '"')
		if end < 0 {
			break
		}
		phrase := strings.TrimSpace(search[start+1 : start+1+end])
		if phrase != "" {
			q.Phrases = append(q.Phrases, phrase)
		}
		search = search[:start] + " " + search[start+end+2:]
	}

	for _, word := range strings.Fields(search) {
		if strings.HasPrefix(word, "-") {
			if w := strings.TrimLeft(word, "-"); w != "" {
				q.Negated = append(q.Negated, w)
			}
			continue
		}
		q.Terms = append(q.Terms, word)
	}
	return q
}

// IsEmpty reports whether the query has nothing to search for
func (q Query) IsEmpty() bool {
	return len(q.Terms) == 0 && len(q.Phrases) == 0
}
