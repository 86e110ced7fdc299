package text

import (
	"sort"
	"strings"
	"sync"
)

// Field is one weighted piece of a document's indexed text
type Field struct {
	Text   string
	Weight float64
}

// InvertedIndex maps tokens to documents with weighted term frequencies
type InvertedIndex struct {
	mu sync.RWMutex

	// token -> document ID -> summed weighted term frequency
	postings map[string]map[string]float64

	// document ID -> distinct tokens, for removal
	docTokens map[string][]string

	// document ID -> lower-cased raw field text, for phrase matching
	docText map[string]string

	language  string
	amu       sync.Mutex
	analyzers map[string]*Analyzer
}

// NewInvertedIndex creates an inverted index whose default language is
// language ("" means english)
func NewInvertedIndex(language string) (*InvertedIndex, error) {
	a, err := NewAnalyzer(language)
	if err != nil {
		return nil, err
	}
	return &InvertedIndex{
		postings:  make(map[string]map[string]float64),
		docTokens: make(map[string][]string),
		docText:   make(map[string]string),
		language:  a.Language(),
		analyzers: map[string]*Analyzer{a.Language(): a},
	}, nil
}

// Language returns the default language of the index
func (idx *InvertedIndex) Language() string {
	return idx.language
}

func (idx *InvertedIndex) analyzer(language string) *Analyzer {
	idx.amu.Lock()
	defer idx.amu.Unlock()

	if language == "" {
		language = idx.language
	}
	language = strings.ToLower(language)
	if a, ok := idx.analyzers[language]; ok {
		return a
	}
	a, err := NewAnalyzer(language)
	if err != nil {
		return idx.analyzers[idx.language]
	}
	idx.analyzers[language] = a
	return a
}

// Index adds or replaces a document. language overrides the index
// default for this document when non-empty.
func (idx *InvertedIndex) Index(docID string, fields []Field, language string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(docID)

	a := idx.analyzer(language)
	weighted := make(map[string]float64)
	texts := make([]string, 0, len(fields))
	for _, f := range fields {
		w := f.Weight
		if w <= 0 {
			w = 1
		}
		for _, token := range a.Analyze(f.Text) {
			weighted[token] += w
		}
		texts = append(texts, strings.ToLower(f.Text))
	}
	if len(weighted) == 0 {
		return
	}

	tokens := make([]string, 0, len(weighted))
	for token, score := range weighted {
		if idx.postings[token] == nil {
			idx.postings[token] = make(map[string]float64)
		}
		idx.postings[token][docID] = score
		tokens = append(tokens, token)
	}
	idx.docTokens[docID] = tokens
	idx.docText[docID] = strings.Join(texts, "\n")
}

// Remove removes a document from the inverted index
func (idx *InvertedIndex) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

func (idx *InvertedIndex) removeLocked(docID string) {
	for _, token := range idx.docTokens[docID] {
		docs := idx.postings[token]
		delete(docs, docID)
		if len(docs) == 0 {
			delete(idx.postings, token)
		}
	}
	delete(idx.docTokens, docID)
	delete(idx.docText, docID)
}

// SearchResult represents a document with its relevance score
type SearchResult struct {
	DocID string
	Score float64
}

// Search scores documents by the summed weighted frequency of the query
// terms. Documents containing a negated term are excluded, and every
// phrase must appear in the document text. Results are ordered by
// descending score, then document ID.
func (idx *InvertedIndex) Search(q Query) []SearchResult {
	a := idx.analyzer(q.Language)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scores := make(map[string]float64)
	terms := a.Analyze(strings.Join(q.Terms, " "))
	for _, p := range q.Phrases {
		terms = append(terms, a.Analyze(p)...)
	}
	for _, token := range dedupe(terms) {
		for docID, w := range idx.postings[token] {
			scores[docID] += w
		}
	}

	for _, token := range a.Analyze(strings.Join(q.Negated, " ")) {
		for docID := range idx.postings[token] {
			delete(scores, docID)
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for docID, score := range scores {
		if !idx.containsPhrases(docID, q.Phrases) {
			continue
		}
		results = append(results, SearchResult{DocID: docID, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	return results
}

func (idx *InvertedIndex) containsPhrases(docID string, phrases []string) bool {
	text := idx.docText[docID]
	for _, p := range phrases {
		if !strings.Contains(text, strings.ToLower(p)) {
			return false
		}
	}
	return true
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Stats returns statistics about the inverted index
func (idx *InvertedIndex) Stats() map[string]interface{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return map[string]interface{}{
		"total_documents": len(idx.docTokens),
		"total_terms":     len(idx.postings),
		"language":        idx.language,
	}
}

// Size returns the number of unique terms in the index
func (idx *InvertedIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings)
}
