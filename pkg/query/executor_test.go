package query

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mnohosten/laura-core/pkg/document"
)

func people() []*document.Document {
	rows := []map[string]interface{}{
		{"_id": int64(1), "name": "Max", "age": int64(29), "city": "Lyon"},
		{"_id": int64(2), "name": "Ana", "age": int64(34), "city": "Paris"},
		{"_id": int64(3), "name": "Bob", "age": int64(29), "city": "Paris"},
		{"_id": int64(4), "name": "Eve", "city": "Nice"},
		{"_id": int64(5), "name": "Zoe", "age": int64(41), "city": "Lyon"},
	}
	docs := make([]*document.Document, len(rows))
	for i, r := range rows {
		docs[i] = document.NewDocumentFromMap(r)
	}
	return docs
}

func names(seq func(func(*document.Document) bool)) []string {
	var out []string
	for doc := range seq {
		v, _ := doc.Get("name")
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

func TestExecuteFilterOnly(t *testing.T) {
	q := NewQuery(MustCompile(map[string]interface{}{"city": "Paris"}))
	got := names(Execute(slices.Values(people()), q))
	if diff := cmp.Diff([]string{"Ana", "Bob"}, got); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestExecuteSortSkipLimit(t *testing.T) {
	sortSpec, err := ParseSort(document.D{{Key: "age", Value: -1}, {Key: "name", Value: 1}})
	if err != nil {
		t.Fatalf("ParseSort failed: %v", err)
	}
	q := NewQuery(nil).WithSort(sortSpec)
	got := names(Execute(slices.Values(people()), q))
	// missing age sorts as null, which is lowest
	want := []string{"Zoe", "Ana", "Bob", "Max", "Eve"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}

	q = NewQuery(nil).WithSort(sortSpec).WithSkip(1).WithLimit(2)
	got = names(Execute(slices.Values(people()), q))
	if diff := cmp.Diff([]string{"Ana", "Bob"}, got); diff != "" {
		t.Errorf("unexpected page (-want +got):\n%s", diff)
	}
}

func TestSortIsStable(t *testing.T) {
	docs := people()
	SortDocuments(docs, []SortField{{Field: "city", Ascending: true}})
	got := make([]interface{}, len(docs))
	for i, d := range docs {
		got[i], _ = d.Get("_id")
	}
	want := []interface{}{int64(1), int64(5), int64(4), int64(2), int64(3)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestSortByArrayField(t *testing.T) {
	docs := []*document.Document{
		document.NewDocumentFromMap(map[string]interface{}{"name": "a", "v": []interface{}{5, 1}}),
		document.NewDocumentFromMap(map[string]interface{}{"name": "b", "v": []interface{}{3}}),
		document.NewDocumentFromMap(map[string]interface{}{"name": "c", "v": []interface{}{2, 9}}),
	}
	SortDocuments(docs, []SortField{{Field: "v", Ascending: true}})
	if diff := cmp.Diff([]string{"a", "c", "b"}, names(slices.Values(docs))); diff != "" {
		t.Errorf("ascending uses the smallest element (-want +got):\n%s", diff)
	}
	SortDocuments(docs, []SortField{{Field: "v", Ascending: false}})
	if diff := cmp.Diff([]string{"c", "a", "b"}, names(slices.Values(docs))); diff != "" {
		t.Errorf("descending uses the largest element (-want +got):\n%s", diff)
	}
}

func TestExecuteStopsEarly(t *testing.T) {
	pulled := 0
	src := func(yield func(*document.Document) bool) {
		for _, d := range people() {
			pulled++
			if !yield(d) {
				return
			}
		}
	}
	q := NewQuery(nil).WithLimit(2)
	if got := len(names(Execute(src, q))); got != 2 {
		t.Fatalf("expected 2 documents, got %d", got)
	}
	if pulled > 3 {
		t.Errorf("expected the source to stop early, pulled %d", pulled)
	}
}

func TestCount(t *testing.T) {
	q := NewQuery(MustCompile(map[string]interface{}{"age": map[string]interface{}{"$gte": 30}}))
	if n := Count(slices.Values(people()), q); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

func TestParseSortErrors(t *testing.T) {
	for _, spec := range []interface{}{
		document.D{},
		document.D{{Key: "a", Value: 2}},
		document.D{{Key: "a", Value: "asc"}},
		42,
	} {
		if _, err := ParseSort(spec); err == nil {
			t.Errorf("ParseSort(%v) should fail", spec)
		}
	}
}
