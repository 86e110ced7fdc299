package index

import (
	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/query"
	"github.com/mnohosten/laura-core/pkg/text"
)

// TextIndex represents a text search index using an inverted index
type TextIndex struct {
	desc        Descriptor
	fields      []string
	wildcard    bool
	partial     *query.Filter
	invertedIdx *text.InvertedIndex
}

func newTextIndex(desc Descriptor, partial *query.Filter) (*TextIndex, error) {
	inv, err := text.NewInvertedIndex(desc.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	ti := &TextIndex{desc: desc, partial: partial, invertedIdx: inv}
	for _, f := range desc.Fields() {
		if f == WildcardField {
			ti.wildcard = true
			continue
		}
		ti.fields = append(ti.fields, f)
	}
	return ti, nil
}

// Descriptor returns the index descriptor
func (ti *TextIndex) Descriptor() Descriptor {
	return ti.desc
}

// Len returns the number of indexed documents
func (ti *TextIndex) Len() int {
	return ti.invertedIdx.Size()
}

func (ti *TextIndex) weight(field string) float64 {
	if w, ok := ti.desc.Weights[field]; ok {
		return float64(w)
	}
	return 1
}

// fieldsOf collects the weighted text of doc; array elements all count
func (ti *TextIndex) fieldsOf(doc *document.Document) []text.Field {
	var out []text.Field
	listed := make(map[string]bool, len(ti.fields))
	for _, f := range ti.fields {
		listed[f] = true
		if v, ok := doc.Lookup(f); ok {
			out = appendStrings(out, v, ti.weight(f))
		}
	}
	if ti.wildcard {
		walkStrings(doc, "", func(path string, s string) {
			if !listed[path] {
				out = append(out, text.Field{Text: s, Weight: ti.weight(path)})
			}
		})
	}
	return out
}

func appendStrings(out []text.Field, v *document.Value, weight float64) []text.Field {
	if s, ok := v.Str(); ok {
		return append(out, text.Field{Text: s, Weight: weight})
	}
	if arr, ok := v.Array(); ok {
		for _, elem := range arr {
			out = appendStrings(out, elem, weight)
		}
	}
	return out
}

func walkStrings(doc *document.Document, prefix string, fn func(path, s string)) {
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		walkValue(v, path, fn)
	}
}

func walkValue(v *document.Value, path string, fn func(path, s string)) {
	switch v.Type {
	case document.TypeString:
		fn(path, v.Data.(string))
	case document.TypeDocument:
		walkStrings(v.Data.(*document.Document), path, fn)
	case document.TypeArray:
		for _, elem := range v.Data.([]*document.Value) {
			walkValue(elem, path, fn)
		}
	}
}

func (ti *TextIndex) language(doc *document.Document) string {
	if v, ok := doc.Lookup(ti.desc.LanguageOverride); ok {
		if s, ok := v.Str(); ok {
			return s
		}
	}
	return ""
}

func (ti *TextIndex) add(id string, doc *document.Document) {
	if ti.partial != nil && !ti.partial.Matches(doc) {
		return
	}
	ti.invertedIdx.Index(id, ti.fieldsOf(doc), ti.language(doc))
}

func (ti *TextIndex) remove(id string, _ *document.Document) {
	ti.invertedIdx.Remove(id)
}

// Search performs a text search and returns matching document IDs with
// scores, best first
func (ti *TextIndex) Search(q *query.TextQuery) []text.SearchResult {
	if q.Query.IsEmpty() {
		return nil
	}
	return ti.invertedIdx.Search(q.Query)
}

// Stats returns inverted index statistics
func (ti *TextIndex) Stats() map[string]interface{} {
	stats := ti.invertedIdx.Stats()
	stats["name"] = ti.desc.Name
	stats["fields"] = ti.desc.Fields()
	return stats
}
