package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/geo"
	"github.com/mnohosten/laura-core/pkg/index"
)

func seedPeople(t *testing.T, coll *Collection) {
	t.Helper()
	people := []map[string]interface{}{
		{"name": "Alice", "age": 30, "city": "Lyon", "active": true},
		{"name": "Bob", "age": 25, "city": "Paris", "active": false},
		{"name": "Carol", "age": 35, "city": "Lyon", "active": true},
		{"name": "Dave", "age": 25, "city": "Nantes", "active": true},
	}
	for _, p := range people {
		if _, err := coll.Insert(p); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
}

func findNames(t *testing.T, coll *Collection, filter interface{}, opts ...FindOption) []string {
	t.Helper()
	cur, err := coll.Find(filter, opts...)
	if err != nil {
		t.Fatalf("Find(%v) failed: %v", filter, err)
	}
	defer cur.Close()
	return names(t, cur.All())
}

func TestFindElemMatch(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("members")

	if _, err := coll.InsertMany([]interface{}{
		map[string]interface{}{"name": "Max", "hobbies": []interface{}{
			map[string]interface{}{"title": "Sports", "frequency": 4},
		}},
		map[string]interface{}{"name": "Ana", "hobbies": []interface{}{
			map[string]interface{}{"title": "Sports", "frequency": 2},
		}},
	}); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	got := findNames(t, coll, map[string]interface{}{
		"hobbies": map[string]interface{}{"$elemMatch": map[string]interface{}{
			"title":     "Sports",
			"frequency": map[string]interface{}{"$gte": 3},
		}},
	})
	if diff := cmp.Diff([]string{"Max"}, got); diff != "" {
		t.Errorf("unexpected $elemMatch result (-want +got):\n%s", diff)
	}
}

func TestFindElemMatchSameElement(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("members")

	// no single hobby satisfies both conditions
	if _, err := coll.Insert(map[string]interface{}{"name": "Lea", "hobbies": []interface{}{
		map[string]interface{}{"title": "Sports", "frequency": 1},
		map[string]interface{}{"title": "Chess", "frequency": 5},
	}}); err != nil {
		t.Fatal(err)
	}

	split := findNames(t, coll, map[string]interface{}{
		"hobbies.title":     "Sports",
		"hobbies.frequency": map[string]interface{}{"$gte": 3},
	})
	if diff := cmp.Diff([]string{"Lea"}, split); diff != "" {
		t.Errorf("independent predicates may match different elements (-want +got):\n%s", diff)
	}

	same := findNames(t, coll, map[string]interface{}{
		"hobbies": map[string]interface{}{"$elemMatch": map[string]interface{}{
			"title":     "Sports",
			"frequency": map[string]interface{}{"$gte": 3},
		}},
	})
	if len(same) != 0 {
		t.Errorf("$elemMatch must match within one element, got %v", same)
	}
}

func TestFindSortSkipLimitProjection(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("people")
	seedPeople(t, coll)

	got := findNames(t, coll, nil, WithSort(document.D{{Key: "age", Value: -1}, {Key: "name", Value: 1}}))
	if diff := cmp.Diff([]string{"Carol", "Alice", "Bob", "Dave"}, got); diff != "" {
		t.Errorf("unexpected sort order (-want +got):\n%s", diff)
	}

	got = findNames(t, coll, nil, WithSort(map[string]interface{}{"name": 1}), WithSkip(1), WithLimit(2))
	if diff := cmp.Diff([]string{"Bob", "Carol"}, got); diff != "" {
		t.Errorf("unexpected page (-want +got):\n%s", diff)
	}

	doc, err := coll.FindOne(map[string]interface{}{"name": "Alice"}, WithProjection(map[string]interface{}{"name": 1, "_id": 0}))
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if diff := cmp.Diff([]string{"name"}, doc.Keys()); diff != "" {
		t.Errorf("unexpected projected fields (-want +got):\n%s", diff)
	}

	stored, _ := coll.FindOne(map[string]interface{}{"name": "Alice"})
	if _, ok := stored.Get("age"); !ok {
		t.Error("projection must not modify stored documents")
	}

	if _, err := coll.FindOne(map[string]interface{}{"name": "Nobody"}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound, got %v", err)
	}
}

func TestFindInvalidFilter(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("people")
	seedPeople(t, coll)

	if _, err := coll.Find(map[string]interface{}{"age": map[string]interface{}{"$bogus": 1}}); err == nil {
		t.Error("Expected an error for an unknown operator")
	}
	if _, err := coll.Find(nil, WithSort(map[string]interface{}{"age": 2})); err == nil {
		t.Error("Expected an error for an invalid sort direction")
	}
}

func TestCount(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("people")
	seedPeople(t, coll)

	tests := []struct {
		filter interface{}
		want   int
	}{
		{nil, 4},
		{map[string]interface{}{"city": "Lyon"}, 2},
		{map[string]interface{}{"age": map[string]interface{}{"$lt": 30}}, 2},
		{map[string]interface{}{"city": "Rome"}, 0},
	}
	for _, tt := range tests {
		n, err := coll.Count(tt.filter)
		if err != nil {
			t.Fatalf("Count(%v) failed: %v", tt.filter, err)
		}
		if n != tt.want {
			t.Errorf("Count(%v) = %d, want %d", tt.filter, n, tt.want)
		}
	}
}

func TestFindUsesCompoundIndexPrefix(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("people")
	seedPeople(t, coll)

	name, err := coll.CreateIndex(map[string]interface{}{"key": document.D{{Key: "city", Value: 1}, {Key: "age", Value: 1}}})
	if err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}

	plan, err := coll.Explain(map[string]interface{}{"city": "Lyon"})
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if plan["stage"] != "IXSCAN" || plan["indexName"] != name || plan["equalityPrefix"] != 1 {
		t.Errorf("expected an index scan on %s with prefix 1, got %v", name, plan)
	}
	if plan["namespace"] != "people" {
		t.Errorf("expected namespace people, got %v", plan["namespace"])
	}

	plan, _ = coll.Explain(map[string]interface{}{"age": 25})
	if plan["stage"] != "COLLSCAN" {
		t.Errorf("a filter without the leading field must scan, got %v", plan)
	}

	// the index scan returns the same documents in the same order as a scan
	got := findNames(t, coll, map[string]interface{}{"city": "Lyon", "age": map[string]interface{}{"$gte": 30}})
	if diff := cmp.Diff([]string{"Alice", "Carol"}, got); diff != "" {
		t.Errorf("unexpected index scan result (-want +got):\n%s", diff)
	}
}

func TestFindPartialIndex(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("people")
	seedPeople(t, coll)

	if _, err := coll.CreateIndex(map[string]interface{}{
		"key":                     map[string]interface{}{"city": 1},
		"partialFilterExpression": map[string]interface{}{"active": true},
	}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}

	plan, _ := coll.Explain(map[string]interface{}{"city": "Paris"})
	if plan["stage"] != "COLLSCAN" {
		t.Errorf("partial index must not serve a filter that does not imply it, got %v", plan)
	}
	if got := findNames(t, coll, map[string]interface{}{"city": "Paris"}); !cmp.Equal([]string{"Bob"}, got) {
		t.Errorf("expected [Bob], got %v", got)
	}

	plan, _ = coll.Explain(map[string]interface{}{"city": "Lyon", "active": true})
	if plan["stage"] != "IXSCAN" {
		t.Errorf("expected the partial index to be used, got %v", plan)
	}
	if got := findNames(t, coll, map[string]interface{}{"city": "Lyon", "active": true}); !cmp.Equal([]string{"Alice", "Carol"}, got) {
		t.Errorf("expected [Alice Carol], got %v", got)
	}
}

func TestFindParallelScan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParallelScanThreshold = 10
	cfg.ParallelWorkers = 4
	cfg.ParallelBatchSize = 16
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	coll := db.Collection("numbers")
	var want []string
	for i := 0; i < 200; i++ {
		name := fmt.Sprintf("n%03d", i)
		if _, err := coll.Insert(map[string]interface{}{"name": name, "n": i}); err != nil {
			t.Fatal(err)
		}
		if i%3 == 0 {
			want = append(want, name)
		}
	}

	got := findNames(t, coll, map[string]interface{}{"$expr": map[string]interface{}{
		"$eq": []interface{}{map[string]interface{}{"$mod": []interface{}{"$n", 3}}, 0},
	}})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parallel scan must keep scan order (-want +got):\n%s", diff)
	}

	got = findNames(t, coll, map[string]interface{}{"n": map[string]interface{}{"$gte": 190}}, WithLimit(3))
	if diff := cmp.Diff([]string{"n190", "n191", "n192"}, got); diff != "" {
		t.Errorf("unexpected limited result (-want +got):\n%s", diff)
	}
}

func TestTextSearch(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("notes")

	if _, err := coll.TextSearch("coffee"); !errors.Is(err, index.ErrNoTextIndex) {
		t.Errorf("Expected ErrNoTextIndex, got %v", err)
	}

	for _, n := range []map[string]interface{}{
		{"name": "a", "title": "coffee", "body": "a short note"},
		{"name": "b", "title": "breakfast", "body": "coffee and toast"},
		{"name": "c", "title": "tea", "body": "green leaves"},
	} {
		if _, err := coll.Insert(n); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := coll.CreateIndex(map[string]interface{}{
		"key":     map[string]interface{}{"title": "text", "body": "text"},
		"weights": map[string]interface{}{"title": 10},
	}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}

	results, err := coll.TextSearch("coffee", WithProjection(map[string]interface{}{"name": 1}))
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	var got []string
	for _, r := range results {
		v, _ := r.Document.Get("name")
		got = append(got, v.(string))
		if r.Score <= 0 {
			t.Errorf("expected a positive score for %v", r.Document)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("unexpected ranking (-want +got):\n%s", diff)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("the weighted title match should score higher: %v", results)
	}

	// the $text operator through Find uses the same index
	if got := findNames(t, coll, map[string]interface{}{"$text": map[string]interface{}{"$search": "toast"}}); !cmp.Equal([]string{"b"}, got) {
		t.Errorf("expected [b], got %v", got)
	}
}

func TestNearAndGeoWithin(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("places")

	for _, p := range []map[string]interface{}{
		{"name": "paris", "loc": map[string]interface{}{"type": "Point", "coordinates": []interface{}{2.3522, 48.8566}}},
		{"name": "lyon", "loc": map[string]interface{}{"type": "Point", "coordinates": []interface{}{4.8357, 45.7640}}},
		{"name": "nyc", "loc": map[string]interface{}{"type": "Point", "coordinates": []interface{}{-74.0060, 40.7128}}},
	} {
		if _, err := coll.Insert(p); err != nil {
			t.Fatal(err)
		}
	}

	paris := geo.Point{Lon: 2.35, Lat: 48.85}
	if _, err := coll.Near("loc", paris, 0, 0); !errors.Is(err, index.ErrNoGeoIndex) {
		t.Errorf("Expected ErrNoGeoIndex, got %v", err)
	}

	box := map[string]interface{}{"$box": []interface{}{[]interface{}{0, 44}, []interface{}{6, 50}}}
	scanned, err := coll.GeoWithin("loc", box)
	if err != nil {
		t.Fatalf("GeoWithin without an index failed: %v", err)
	}

	if _, err := coll.CreateIndex(map[string]interface{}{"key": map[string]interface{}{"loc": "2dsphere"}}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}

	near, err := coll.Near("loc", paris, 1_000_000, 0)
	if err != nil {
		t.Fatalf("Near failed: %v", err)
	}
	var got []string
	for _, r := range near {
		v, _ := r.Document.Get("name")
		got = append(got, v.(string))
	}
	if diff := cmp.Diff([]string{"paris", "lyon"}, got); diff != "" {
		t.Errorf("unexpected near result (-want +got):\n%s", diff)
	}
	if near[0].Distance > near[1].Distance {
		t.Errorf("results must be ordered by distance: %v", near)
	}

	limited, _ := coll.Near("loc", paris, 0, 1)
	if len(limited) != 1 {
		t.Errorf("expected 1 result with limit 1, got %d", len(limited))
	}

	indexed, err := coll.GeoWithin("loc", box)
	if err != nil {
		t.Fatalf("GeoWithin failed: %v", err)
	}
	if diff := cmp.Diff(names(t, scanned), names(t, indexed)); diff != "" {
		t.Errorf("indexed and scanned $geoWithin disagree (-scan +index):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"paris", "lyon"}, names(t, indexed)); diff != "" {
		t.Errorf("unexpected $geoWithin result (-want +got):\n%s", diff)
	}
}
