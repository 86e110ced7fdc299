package query

import (
	"iter"
	"sort"

	"github.com/mnohosten/laura-core/pkg/document"
)

// Execute filters candidates and applies sort, skip, limit and projection.
// Without a sort the result streams; with one, the matching documents are
// materialized first.
func Execute(candidates iter.Seq[*document.Document], q *Query) iter.Seq[*document.Document] {
	matched := func(yield func(*document.Document) bool) {
		for doc := range candidates {
			if q.Matches(doc) && !yield(doc) {
				return
			}
		}
	}
	return shape(matched, q)
}

// shape applies sort, skip, limit and projection to already filtered docs
func shape(docs iter.Seq[*document.Document], q *Query) iter.Seq[*document.Document] {
	if len(q.sort) > 0 {
		unsorted := docs
		docs = func(yield func(*document.Document) bool) {
			all := make([]*document.Document, 0)
			for doc := range unsorted {
				all = append(all, doc)
			}
			SortDocuments(all, q.sort)
			for _, doc := range all {
				if !yield(doc) {
					return
				}
			}
		}
	}

	return func(yield func(*document.Document) bool) {
		skipped, emitted := 0, 0
		for doc := range docs {
			if skipped < q.skip {
				skipped++
				continue
			}
			if q.limit > 0 && emitted >= q.limit {
				return
			}
			emitted++
			if !yield(q.ApplyProjection(doc)) {
				return
			}
		}
	}
}

// SortDocuments stably sorts docs by the sort fields in canonical order.
// Missing fields sort as null. An array field sorts by its smallest
// element ascending and by its largest element descending.
func SortDocuments(docs []*document.Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		return CompareBy(docs[i], docs[j], fields) < 0
	})
}

// CompareBy compares two documents by the sort fields
func CompareBy(a, b *document.Document, fields []SortField) int {
	for _, f := range fields {
		c := document.Compare(sortKey(a, f), sortKey(b, f))
		if c == 0 {
			continue
		}
		if !f.Ascending {
			return -c
		}
		return c
	}
	return 0
}

func sortKey(doc *document.Document, f SortField) *document.Value {
	v, ok := doc.Lookup(f.Field)
	if !ok {
		return document.Null
	}
	arr, ok := v.Array()
	if !ok {
		return v
	}
	if len(arr) == 0 {
		return document.Null
	}
	best := arr[0]
	for _, elem := range arr[1:] {
		c := document.Compare(elem, best)
		if (f.Ascending && c < 0) || (!f.Ascending && c > 0) {
			best = elem
		}
	}
	return best
}

// Count returns the number of candidates matching the query filter
func Count(candidates iter.Seq[*document.Document], q *Query) int {
	n := 0
	for doc := range candidates {
		if q.Matches(doc) {
			n++
		}
	}
	return n
}
