package cache

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/query"
)

type countingRecorder struct {
	mu   sync.Mutex
	hits int
	miss int
}

func (r *countingRecorder) RecordFilterCache(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.miss++
	}
}

func TestFilterCacheReusesCompiledFilter(t *testing.T) {
	rec := &countingRecorder{}
	c, err := NewFilterCache(4, rec)
	if err != nil {
		t.Fatalf("NewFilterCache failed: %v", err)
	}

	first, err := c.Compile(map[string]interface{}{"age": map[string]interface{}{"$gte": 21}, "city": "Lyon"})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	// same filter, different key order and input shape
	second, err := c.Compile(document.D{{Key: "city", Value: "Lyon"}, {Key: "age", Value: document.D{{Key: "$gte", Value: 21}}}})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if first != second {
		t.Error("expected the cached filter to be reused")
	}

	want := Stats{Capacity: 4, Size: 1, Hits: 1, Misses: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("unexpected stats (-want +got):\n%s", diff)
	}
	if rec.hits != 1 || rec.miss != 1 {
		t.Errorf("recorder saw %d hits and %d misses", rec.hits, rec.miss)
	}
}

func TestFilterCacheKeyOrder(t *testing.T) {
	c, _ := NewFilterCache(8, nil)

	ranged := document.D{{Key: "age", Value: document.D{{Key: "$gte", Value: 21}, {Key: "$lt", Value: 65}}}}
	reordered := document.D{{Key: "age", Value: document.D{{Key: "$lt", Value: 65}, {Key: "$gte", Value: 21}}}}
	disjunction := document.D{{Key: "$or", Value: []interface{}{
		document.D{{Key: "b", Value: 2}, {Key: "a", Value: 1}},
	}}}
	disjunctionSorted := document.D{{Key: "$or", Value: []interface{}{
		document.D{{Key: "a", Value: 1}, {Key: "b", Value: 2}},
	}}}
	embedded := document.D{{Key: "loc", Value: document.D{{Key: "x", Value: 1}, {Key: "y", Value: 2}}}}
	embeddedSwapped := document.D{{Key: "loc", Value: document.D{{Key: "y", Value: 2}, {Key: "x", Value: 1}}}}

	for _, spec := range []interface{}{ranged, reordered, disjunction, disjunctionSorted, embedded, embeddedSwapped} {
		if _, err := c.Compile(spec); err != nil {
			t.Fatalf("Compile(%v) failed: %v", spec, err)
		}
	}
	// operator documents and $or clauses share entries, embedded documents do not
	want := Stats{Capacity: 8, Size: 4, Hits: 2, Misses: 4}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("unexpected stats (-want +got):\n%s", diff)
	}

	doc := document.NewDocumentFromD(document.D{{Key: "z", Value: 1}, {Key: "a", Value: 2}})
	if _, err := c.Compile(doc); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if diff := cmp.Diff([]string{"z", "a"}, doc.Keys()); diff != "" {
		t.Errorf("building the key must not reorder the caller's document (-want +got):\n%s", diff)
	}
}

func TestFilterCacheCopiesInput(t *testing.T) {
	c, _ := NewFilterCache(4, nil)
	spec := document.NewDocument()
	spec.Set("name", "Alice")

	f, err := c.Compile(spec)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	spec.Set("name", "Bob")

	alice := document.NewDocumentFromMap(map[string]interface{}{"name": "Alice"})
	if !f.Matches(alice) {
		t.Error("mutating the caller's document must not change the cached filter")
	}
	g, _ := c.Compile(spec)
	if g == f || g.Matches(alice) {
		t.Error("the mutated document is a different filter")
	}
}

func TestFilterCacheEviction(t *testing.T) {
	c, _ := NewFilterCache(2, nil)
	for _, v := range []int{1, 2, 3} {
		if _, err := c.Compile(map[string]interface{}{"v": v}); err != nil {
			t.Fatal(err)
		}
	}
	stats := c.Stats()
	if stats.Size != 2 || stats.Evictions != 1 {
		t.Errorf("expected 2 entries and 1 eviction, got %+v", stats)
	}

	c.Purge()
	if c.Stats().Size != 0 {
		t.Error("Purge should empty the cache")
	}
}

func TestFilterCacheErrorsAreNotCached(t *testing.T) {
	c, _ := NewFilterCache(2, nil)
	bad := map[string]interface{}{"a": map[string]interface{}{"$bogus": 1}}
	for i := 0; i < 2; i++ {
		if _, err := c.Compile(bad); !errors.Is(err, query.ErrInvalidFilter) {
			t.Fatalf("expected ErrInvalidFilter, got %v", err)
		}
	}
	if _, err := c.Compile(42); !errors.Is(err, query.ErrInvalidFilter) {
		t.Errorf("expected ErrInvalidFilter for a non-document, got %v", err)
	}
	if s := c.Stats(); s.Size != 0 || s.Misses != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestNilFilterCache(t *testing.T) {
	c, err := NewFilterCache(0, nil)
	if err != nil || c != nil {
		t.Fatalf("expected a nil cache, got %v, %v", c, err)
	}
	f, err := c.Compile(map[string]interface{}{"a": 1})
	if err != nil || f == nil {
		t.Fatalf("a nil cache should still compile, got %v", err)
	}
	if _, err := c.Compile(nil); err != nil {
		t.Errorf("nil filter should compile, got %v", err)
	}
	c.Purge()
	if diff := cmp.Diff(Stats{}, c.Stats()); diff != "" {
		t.Errorf("unexpected stats (-want +got):\n%s", diff)
	}
}
