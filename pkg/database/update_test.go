package database

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mnohosten/laura-core/pkg/document"
)

func updated(t *testing.T, start map[string]interface{}, patch interface{}) map[string]interface{} {
	t.Helper()
	db := openTestDB(t)
	coll := db.Collection("things")
	key, err := coll.Insert(start)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := coll.Update(key, patch); err != nil {
		t.Fatalf("Update(%v) failed: %v", patch, err)
	}
	doc, err := coll.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	out := doc.ToMap()
	delete(out, document.IDField)
	return out
}

func TestUpdateOperators(t *testing.T) {
	tests := []struct {
		name  string
		start map[string]interface{}
		patch map[string]interface{}
		want  map[string]interface{}
	}{
		{
			name:  "set nested",
			start: map[string]interface{}{"a": 1},
			patch: map[string]interface{}{"$set": map[string]interface{}{"b.c": "x"}},
			want:  map[string]interface{}{"a": int64(1), "b": map[string]interface{}{"c": "x"}},
		},
		{
			name:  "unset",
			start: map[string]interface{}{"a": 1, "b": 2},
			patch: map[string]interface{}{"$unset": map[string]interface{}{"b": ""}},
			want:  map[string]interface{}{"a": int64(1)},
		},
		{
			name:  "inc existing and missing",
			start: map[string]interface{}{"n": 5},
			patch: map[string]interface{}{"$inc": map[string]interface{}{"n": 2, "m": 3}},
			want:  map[string]interface{}{"n": int64(7), "m": int64(3)},
		},
		{
			name:  "inc float",
			start: map[string]interface{}{"n": 1},
			patch: map[string]interface{}{"$inc": map[string]interface{}{"n": 0.5}},
			want:  map[string]interface{}{"n": 1.5},
		},
		{
			name:  "mul missing sets zero",
			start: map[string]interface{}{"n": 4},
			patch: map[string]interface{}{"$mul": map[string]interface{}{"n": 3, "m": 2}},
			want:  map[string]interface{}{"n": int64(12), "m": int64(0)},
		},
		{
			name:  "push each",
			start: map[string]interface{}{"tags": []interface{}{"a"}},
			patch: map[string]interface{}{"$push": map[string]interface{}{"tags": map[string]interface{}{"$each": []interface{}{"b", "a"}}}},
			want:  map[string]interface{}{"tags": []interface{}{"a", "b", "a"}},
		},
		{
			name:  "push creates array",
			start: map[string]interface{}{},
			patch: map[string]interface{}{"$push": map[string]interface{}{"tags": "x"}},
			want:  map[string]interface{}{"tags": []interface{}{"x"}},
		},
		{
			name:  "addToSet skips present values",
			start: map[string]interface{}{"tags": []interface{}{"a"}},
			patch: map[string]interface{}{"$addToSet": map[string]interface{}{"tags": map[string]interface{}{"$each": []interface{}{"a", "b"}}}},
			want:  map[string]interface{}{"tags": []interface{}{"a", "b"}},
		},
		{
			name:  "pull by condition",
			start: map[string]interface{}{"scores": []interface{}{1, 6, 3, 9}},
			patch: map[string]interface{}{"$pull": map[string]interface{}{"scores": map[string]interface{}{"$gte": 5}}},
			want:  map[string]interface{}{"scores": []interface{}{int64(1), int64(3)}},
		},
		{
			name: "pull by document filter",
			start: map[string]interface{}{"items": []interface{}{
				map[string]interface{}{"sku": "a", "qty": 1},
				map[string]interface{}{"sku": "b", "qty": 2},
			}},
			patch: map[string]interface{}{"$pull": map[string]interface{}{"items": map[string]interface{}{"sku": "a"}}},
			want: map[string]interface{}{"items": []interface{}{
				map[string]interface{}{"sku": "b", "qty": int64(2)},
			}},
		},
		{
			name:  "pull by equality",
			start: map[string]interface{}{"tags": []interface{}{"a", "b", "a"}},
			patch: map[string]interface{}{"$pull": map[string]interface{}{"tags": "a"}},
			want:  map[string]interface{}{"tags": []interface{}{"b"}},
		},
		{
			name:  "rename",
			start: map[string]interface{}{"old": 1},
			patch: map[string]interface{}{"$rename": map[string]interface{}{"old": "new", "missing": "other"}},
			want:  map[string]interface{}{"new": int64(1)},
		},
		{
			name:  "several operators",
			start: map[string]interface{}{"n": 1, "s": "a"},
			patch: map[string]interface{}{"$inc": map[string]interface{}{"n": 1}, "$set": map[string]interface{}{"s": "b"}},
			want:  map[string]interface{}{"n": int64(2), "s": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := updated(t, tt.start, tt.patch)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected document (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateReplacement(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("things")
	key, err := coll.Insert(map[string]interface{}{"_id": "k1", "a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}

	if err := coll.Update(key, map[string]interface{}{"c": 3}); err != nil {
		t.Fatalf("replacement failed: %v", err)
	}
	doc, _ := coll.Get(key)
	want := map[string]interface{}{"_id": "k1", "c": int64(3)}
	if diff := cmp.Diff(want, doc.ToMap()); diff != "" {
		t.Errorf("replacement must keep only _id and the new fields (-want +got):\n%s", diff)
	}

	err = coll.Update(key, map[string]interface{}{"_id": "k2", "c": 4})
	if !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("changing _id must fail with ErrInvalidUpdate, got %v", err)
	}
	if err := coll.Update(key, map[string]interface{}{"_id": "k1", "c": 5}); err != nil {
		t.Errorf("repeating the same _id is allowed, got %v", err)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("things")
	key, err := coll.Insert(map[string]interface{}{"n": 1, "s": "text", "tags": []interface{}{"a"}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		patch map[string]interface{}
	}{
		{"mixed", map[string]interface{}{"$set": map[string]interface{}{"a": 1}, "b": 2}},
		{"unknown operator", map[string]interface{}{"$bogus": map[string]interface{}{"a": 1}}},
		{"operand not a document", map[string]interface{}{"$set": 1}},
		{"set _id", map[string]interface{}{"$set": map[string]interface{}{"_id": 1}}},
		{"inc non-number argument", map[string]interface{}{"$inc": map[string]interface{}{"n": "x"}}},
		{"inc non-numeric field", map[string]interface{}{"$inc": map[string]interface{}{"s": 1}}},
		{"push non-array", map[string]interface{}{"$push": map[string]interface{}{"s": 1}}},
		{"rename to _id", map[string]interface{}{"$rename": map[string]interface{}{"n": "_id"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := coll.Update(key, tt.patch); !errors.Is(err, ErrInvalidUpdate) {
				t.Errorf("expected ErrInvalidUpdate, got %v", err)
			}
		})
	}

	doc, _ := coll.Get(key)
	if got, _ := doc.Get("n"); got != int64(1) {
		t.Errorf("failed updates must leave the document unchanged, n = %v", got)
	}
}

func TestUpdateMissingDocument(t *testing.T) {
	db := openTestDB(t)
	coll := db.Collection("things")
	err := coll.Update("nope", map[string]interface{}{"$set": map[string]interface{}{"a": 1}})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestUpdateValidatesSchema(t *testing.T) {
	db := openTestDB(t)
	coll, err := db.CreateCollection("people", WithSchema(personSchema))
	if err != nil {
		t.Fatal(err)
	}
	key, err := coll.Insert(map[string]interface{}{"name": "Ann", "age": 40})
	if err != nil {
		t.Fatal(err)
	}

	if err := coll.Update(key, map[string]interface{}{"$unset": map[string]interface{}{"age": ""}}); err == nil {
		t.Error("removing a required field must fail validation")
	}
	if err := coll.Update(key, map[string]interface{}{"$inc": map[string]interface{}{"age": 1}}); err != nil {
		t.Errorf("valid update failed: %v", err)
	}
	doc, _ := coll.Get(key)
	if got, _ := doc.Get("age"); got != int64(41) {
		t.Errorf("expected age 41, got %v", got)
	}
}
