package query

import (
	"errors"
	"testing"
	"time"

	"github.com/mnohosten/laura-core/pkg/document"
)

func person() *document.Document {
	return document.NewDocumentFromMap(map[string]interface{}{
		"name":  "Max",
		"age":   int64(29),
		"score": 8.5,
		"born":  time.Date(1995, 3, 14, 7, 30, 0, 0, time.UTC),
		"tags":  []interface{}{"go", "db", "chess"},
		"nums":  []interface{}{int64(3), int64(8), int64(12)},
		"hobbies": []interface{}{
			map[string]interface{}{"title": "chess", "level": int64(1)},
			map[string]interface{}{"title": "judo", "level": int64(5)},
		},
		"address": map[string]interface{}{"city": "Lyon", "zip": "69001"},
		"nothing": nil,
	})
}

func mustMatch(t *testing.T, filter map[string]interface{}, doc *document.Document, want bool) {
	t.Helper()
	f, err := Compile(filter)
	if err != nil {
		t.Fatalf("Compile(%v) failed: %v", filter, err)
	}
	if got := f.Matches(doc); got != want {
		t.Errorf("Matches(%v) = %v, want %v", filter, got, want)
	}
}

func TestQuerySimpleMatch(t *testing.T) {
	doc := person()
	mustMatch(t, map[string]interface{}{"name": "Max"}, doc, true)
	mustMatch(t, map[string]interface{}{"name": "Ana"}, doc, false)
	mustMatch(t, map[string]interface{}{"name": "Max", "age": 29}, doc, true)
	mustMatch(t, map[string]interface{}{"address.city": "Lyon"}, doc, true)
	mustMatch(t, map[string]interface{}{"address": map[string]interface{}{"city": "Lyon", "zip": "69001"}}, doc, true)
	mustMatch(t, map[string]interface{}{"address": map[string]interface{}{"city": "Lyon"}}, doc, false)
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	for _, spec := range []interface{}{nil, map[string]interface{}{}} {
		f, err := Compile(spec)
		if err != nil {
			t.Fatalf("Compile(%v) failed: %v", spec, err)
		}
		if !f.IsEmpty() || !f.Matches(person()) {
			t.Errorf("empty filter %v should match everything", spec)
		}
	}
}

func TestComparisonOperators(t *testing.T) {
	doc := person()
	tests := []struct {
		filter map[string]interface{}
		want   bool
	}{
		{map[string]interface{}{"age": map[string]interface{}{"$gt": 25}}, true},
		{map[string]interface{}{"age": map[string]interface{}{"$gt": 29}}, false},
		{map[string]interface{}{"age": map[string]interface{}{"$gte": 29.0}}, true},
		{map[string]interface{}{"age": map[string]interface{}{"$lt": 30, "$gt": 20}}, true},
		{map[string]interface{}{"age": map[string]interface{}{"$lte": 28}}, false},
		{map[string]interface{}{"age": map[string]interface{}{"$ne": 30}}, true},
		{map[string]interface{}{"age": map[string]interface{}{"$eq": int32(29)}}, true},
		{map[string]interface{}{"score": map[string]interface{}{"$gt": 8}}, true},
		{map[string]interface{}{"born": map[string]interface{}{"$lt": time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)}}, true},
		// type bracketing: no cross-type range matches
		{map[string]interface{}{"age": map[string]interface{}{"$gt": "10"}}, false},
		{map[string]interface{}{"name": map[string]interface{}{"$gt": 1}}, false},
		{map[string]interface{}{"name": map[string]interface{}{"$gte": "M"}}, true},
	}
	for _, tt := range tests {
		mustMatch(t, tt.filter, doc, tt.want)
	}
}

func TestMissingFieldSemantics(t *testing.T) {
	doc := person()
	tests := []struct {
		filter map[string]interface{}
		want   bool
	}{
		{map[string]interface{}{"missing": nil}, true},
		{map[string]interface{}{"nothing": nil}, true},
		{map[string]interface{}{"name": nil}, false},
		{map[string]interface{}{"missing": map[string]interface{}{"$exists": false}}, true},
		{map[string]interface{}{"nothing": map[string]interface{}{"$exists": true}}, true},
		{map[string]interface{}{"missing": map[string]interface{}{"$ne": 5}}, true},
		{map[string]interface{}{"missing": map[string]interface{}{"$nin": []interface{}{1, 2}}}, true},
		{map[string]interface{}{"missing": map[string]interface{}{"$gt": 0}}, false},
		{map[string]interface{}{"missing": map[string]interface{}{"$lte": 0}}, false},
		{map[string]interface{}{"missing": 0}, false},
		{map[string]interface{}{"missing": map[string]interface{}{"$in": []interface{}{nil}}}, true},
		{map[string]interface{}{"missing": map[string]interface{}{"$regex": "."}}, false},
		{map[string]interface{}{"address.country": map[string]interface{}{"$exists": false}}, true},
	}
	for _, tt := range tests {
		mustMatch(t, tt.filter, doc, tt.want)
	}
}

func TestArrayFieldSemantics(t *testing.T) {
	doc := person()
	tests := []struct {
		filter map[string]interface{}
		want   bool
	}{
		{map[string]interface{}{"tags": "db"}, true},
		{map[string]interface{}{"tags": []interface{}{"go", "db", "chess"}}, true},
		{map[string]interface{}{"tags": []interface{}{"db", "go", "chess"}}, false},
		{map[string]interface{}{"tags.1": "db"}, true},
		{map[string]interface{}{"tags.5": map[string]interface{}{"$exists": true}}, false},
		{map[string]interface{}{"nums": map[string]interface{}{"$gt": 10, "$lt": 5}}, true},
		{map[string]interface{}{"nums": map[string]interface{}{"$gt": 20}}, false},
		{map[string]interface{}{"hobbies.title": "judo"}, true},
		{map[string]interface{}{"hobbies.level": map[string]interface{}{"$gte": 5}}, true},
		{map[string]interface{}{"hobbies.0.title": "chess"}, true},
		{map[string]interface{}{"tags": map[string]interface{}{"$in": []interface{}{"rust", "chess"}}}, true},
		{map[string]interface{}{"tags": map[string]interface{}{"$nin": []interface{}{"db"}}}, false},
	}
	for _, tt := range tests {
		mustMatch(t, tt.filter, doc, tt.want)
	}
}

func TestElemMatchVersusIndependentPredicates(t *testing.T) {
	doc := person()

	// each predicate may be satisfied by a different element
	mustMatch(t, map[string]interface{}{
		"hobbies.title": "chess",
		"hobbies.level": map[string]interface{}{"$gte": 3},
	}, doc, true)

	// $elemMatch needs one element satisfying both
	mustMatch(t, map[string]interface{}{
		"hobbies": map[string]interface{}{"$elemMatch": map[string]interface{}{
			"title": "chess",
			"level": map[string]interface{}{"$gte": 3},
		}},
	}, doc, false)

	mustMatch(t, map[string]interface{}{
		"hobbies": map[string]interface{}{"$elemMatch": map[string]interface{}{
			"title": "judo",
			"level": map[string]interface{}{"$gte": 3},
		}},
	}, doc, true)

	// operator form applies to scalar elements
	mustMatch(t, map[string]interface{}{
		"nums": map[string]interface{}{"$elemMatch": map[string]interface{}{"$gt": 10, "$lt": 5}},
	}, doc, false)
	mustMatch(t, map[string]interface{}{
		"nums": map[string]interface{}{"$elemMatch": map[string]interface{}{"$gt": 5, "$lt": 10}},
	}, doc, true)
}

func TestSizeAndAll(t *testing.T) {
	doc := person()
	mustMatch(t, map[string]interface{}{"tags": map[string]interface{}{"$size": 3}}, doc, true)
	mustMatch(t, map[string]interface{}{"tags": map[string]interface{}{"$size": 2}}, doc, false)
	mustMatch(t, map[string]interface{}{"name": map[string]interface{}{"$size": 3}}, doc, false)
	mustMatch(t, map[string]interface{}{"tags": map[string]interface{}{"$all": []interface{}{"chess", "go"}}}, doc, true)
	mustMatch(t, map[string]interface{}{"tags": map[string]interface{}{"$all": []interface{}{"chess", "rust"}}}, doc, false)
	mustMatch(t, map[string]interface{}{"tags": map[string]interface{}{"$all": []interface{}{}}}, doc, false)
	mustMatch(t, map[string]interface{}{"hobbies": map[string]interface{}{"$all": []interface{}{
		map[string]interface{}{"$elemMatch": map[string]interface{}{"level": map[string]interface{}{"$gt": 4}}},
		map[string]interface{}{"$elemMatch": map[string]interface{}{"title": "chess"}},
	}}}, doc, true)
}

func TestLogicalOperators(t *testing.T) {
	doc := person()
	mustMatch(t, map[string]interface{}{"$and": []interface{}{
		map[string]interface{}{"age": map[string]interface{}{"$gt": 20}},
		map[string]interface{}{"name": "Max"},
	}}, doc, true)
	mustMatch(t, map[string]interface{}{"$or": []interface{}{
		map[string]interface{}{"name": "Ana"},
		map[string]interface{}{"age": 29},
	}}, doc, true)
	mustMatch(t, map[string]interface{}{"$or": []interface{}{
		map[string]interface{}{"name": "Ana"},
		map[string]interface{}{"age": 30},
	}}, doc, false)
	mustMatch(t, map[string]interface{}{"$nor": []interface{}{
		map[string]interface{}{"name": "Ana"},
		map[string]interface{}{"age": 30},
	}}, doc, true)
	mustMatch(t, map[string]interface{}{"age": map[string]interface{}{"$not": map[string]interface{}{"$gt": 30}}}, doc, true)
	mustMatch(t, map[string]interface{}{"age": map[string]interface{}{"$not": map[string]interface{}{"$gt": 20}}}, doc, false)
	mustMatch(t, map[string]interface{}{"missing": map[string]interface{}{"$not": map[string]interface{}{"$gt": 20}}}, doc, true)
	mustMatch(t, map[string]interface{}{"name": map[string]interface{}{"$not": map[string]interface{}{"$regex": "^m", "$options": "i"}}}, doc, false)
}

func TestRegexOperator(t *testing.T) {
	doc := document.NewDocumentFromMap(map[string]interface{}{
		"email": "Max.Power@Example.com",
		"bio":   "line one\nsecond line",
	})
	tests := []struct {
		filter map[string]interface{}
		want   bool
	}{
		{map[string]interface{}{"email": map[string]interface{}{"$regex": "example"}}, false},
		{map[string]interface{}{"email": map[string]interface{}{"$regex": "example", "$options": "i"}}, true},
		{map[string]interface{}{"bio": map[string]interface{}{"$regex": "^second"}}, false},
		{map[string]interface{}{"bio": map[string]interface{}{"$regex": "^second", "$options": "m"}}, true},
		{map[string]interface{}{"bio": map[string]interface{}{"$regex": "one.second"}}, false},
		{map[string]interface{}{"bio": map[string]interface{}{"$regex": "one.second", "$options": "s"}}, true},
	}
	for _, tt := range tests {
		mustMatch(t, tt.filter, doc, tt.want)
	}
}

func TestTypeAndMod(t *testing.T) {
	doc := person()
	tests := []struct {
		filter map[string]interface{}
		want   bool
	}{
		{map[string]interface{}{"age": map[string]interface{}{"$type": "long"}}, true},
		{map[string]interface{}{"age": map[string]interface{}{"$type": "int"}}, false},
		{map[string]interface{}{"age": map[string]interface{}{"$type": "number"}}, true},
		{map[string]interface{}{"score": map[string]interface{}{"$type": 1}}, true},
		{map[string]interface{}{"name": map[string]interface{}{"$type": []interface{}{"int", "string"}}}, true},
		{map[string]interface{}{"tags": map[string]interface{}{"$type": "array"}}, true},
		{map[string]interface{}{"tags": map[string]interface{}{"$type": "string"}}, true},
		{map[string]interface{}{"nothing": map[string]interface{}{"$type": "null"}}, true},
		{map[string]interface{}{"born": map[string]interface{}{"$type": 9}}, true},
		{map[string]interface{}{"age": map[string]interface{}{"$mod": []interface{}{10, 9}}}, true},
		{map[string]interface{}{"age": map[string]interface{}{"$mod": []interface{}{10, 0}}}, false},
		{map[string]interface{}{"nums": map[string]interface{}{"$mod": []interface{}{4, 0}}}, true},
	}
	for _, tt := range tests {
		mustMatch(t, tt.filter, doc, tt.want)
	}
}

func TestExprFilter(t *testing.T) {
	doc := document.NewDocumentFromMap(map[string]interface{}{
		"spent":  int64(120),
		"budget": int64(100),
		"checks": []interface{}{true, true, false},
	})
	mustMatch(t, map[string]interface{}{"$expr": map[string]interface{}{"$gt": []interface{}{"$spent", "$budget"}}}, doc, true)
	mustMatch(t, map[string]interface{}{"$expr": map[string]interface{}{"$lt": []interface{}{"$spent", "$budget"}}}, doc, false)
	mustMatch(t, map[string]interface{}{"$expr": map[string]interface{}{"$allElementsTrue": []interface{}{"$checks"}}}, doc, false)
	mustMatch(t, map[string]interface{}{"$expr": map[string]interface{}{"$anyElementTrue": []interface{}{"$checks"}}}, doc, true)
}

func TestGeoOperators(t *testing.T) {
	paris := document.NewDocumentFromMap(map[string]interface{}{
		"loc": map[string]interface{}{"type": "Point", "coordinates": []interface{}{2.3522, 48.8566}},
	})
	legacy := document.NewDocumentFromMap(map[string]interface{}{
		"loc": []interface{}{2.3522, 48.8566},
	})
	france := map[string]interface{}{
		"type": "Polygon",
		"coordinates": []interface{}{[]interface{}{
			[]interface{}{-5.0, 42.0}, []interface{}{8.0, 42.0}, []interface{}{8.0, 51.0},
			[]interface{}{-5.0, 51.0}, []interface{}{-5.0, 42.0},
		}},
	}
	for _, doc := range []*document.Document{paris, legacy} {
		mustMatch(t, map[string]interface{}{"loc": map[string]interface{}{
			"$geoWithin": map[string]interface{}{"$geometry": france},
		}}, doc, true)
		mustMatch(t, map[string]interface{}{"loc": map[string]interface{}{
			"$geoWithin": map[string]interface{}{"$box": []interface{}{[]interface{}{10.0, 10.0}, []interface{}{20.0, 20.0}}},
		}}, doc, false)
		mustMatch(t, map[string]interface{}{"loc": map[string]interface{}{
			"$geoIntersects": map[string]interface{}{"$geometry": france},
		}}, doc, true)
		// Lyon is about 392 km from Paris
		mustMatch(t, map[string]interface{}{"loc": map[string]interface{}{
			"$near": map[string]interface{}{
				"$geometry":    map[string]interface{}{"type": "Point", "coordinates": []interface{}{4.8357, 45.7640}},
				"$maxDistance": 450000,
			},
		}}, doc, true)
		mustMatch(t, map[string]interface{}{"loc": map[string]interface{}{
			"$near": map[string]interface{}{
				"$geometry":    map[string]interface{}{"type": "Point", "coordinates": []interface{}{4.8357, 45.7640}},
				"$maxDistance": 100000,
			},
		}}, doc, false)
	}
}

func TestTextClauseIsExtracted(t *testing.T) {
	f, err := Compile(map[string]interface{}{
		"$text":  map[string]interface{}{"$search": `coffee -decaf "dark roast"`, "$language": "english"},
		"status": "open",
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	tq := f.Text()
	if tq == nil {
		t.Fatal("expected a text clause")
	}
	if len(tq.Query.Terms) != 1 || tq.Query.Terms[0] != "coffee" {
		t.Errorf("unexpected terms %v", tq.Query.Terms)
	}
	if len(tq.Query.Negated) != 1 || len(tq.Query.Phrases) != 1 {
		t.Errorf("unexpected parsed query %+v", tq.Query)
	}
	// the matcher leaves $text to the index
	if !f.Matches(document.NewDocumentFromMap(map[string]interface{}{"status": "open"})) {
		t.Error("expected the non-text predicates to match")
	}
}

func TestPredicatesAndContains(t *testing.T) {
	f := MustCompile(document.D{
		{Key: "status", Value: "A"},
		{Key: "age", Value: map[string]interface{}{"$gte": 21}},
		{Key: "$or", Value: []interface{}{map[string]interface{}{"x": 1}}},
	})
	preds := f.Predicates()
	if len(preds) != 2 {
		t.Fatalf("expected 2 top-level predicates, got %d: %v", len(preds), preds)
	}
	if preds[0].Field != "status" || preds[0].Op != OpEqual {
		t.Errorf("unexpected first predicate %+v", preds[0])
	}
	if preds[1].Field != "age" || preds[1].Op != OpGreaterThanOrEqual {
		t.Errorf("unexpected second predicate %+v", preds[1])
	}

	partial := MustCompile(map[string]interface{}{"age": map[string]interface{}{"$gte": 21}})
	if !f.Contains(partial) {
		t.Error("expected the filter to contain the partial filter predicate")
	}
	other := MustCompile(map[string]interface{}{"age": map[string]interface{}{"$gte": 18}})
	if f.Contains(other) {
		t.Error("a different operand must not count as contained")
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []map[string]interface{}{
		{"name": map[string]interface{}{"$regex": "("}},
		{"name": map[string]interface{}{"$regex": "a", "$options": "q"}},
		{"name": map[string]interface{}{"$options": "i"}},
		{"age": map[string]interface{}{"$in": 5}},
		{"age": map[string]interface{}{"$mod": []interface{}{0, 1}}},
		{"age": map[string]interface{}{"$size": -1}},
		{"age": map[string]interface{}{"$bogus": 1}},
		{"age": map[string]interface{}{"$gt": 1, "x": 2}},
		{"$or": []interface{}{}},
		{"$and": "nope"},
		{"$where": "this.a > 1"},
		{"age": map[string]interface{}{"$type": "money"}},
		{"age": map[string]interface{}{"$not": 5}},
		{"$or": []interface{}{map[string]interface{}{"$text": map[string]interface{}{"$search": "x"}}}},
		{"loc": map[string]interface{}{"$geoWithin": map[string]interface{}{"$circle": 1}}},
		{"$expr": map[string]interface{}{"$nope": 1}},
	}
	for _, spec := range bad {
		_, err := Compile(spec)
		if !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("Compile(%v) = %v, want ErrInvalidFilter", spec, err)
		}
	}
}
