package query

import (
	"testing"

	"github.com/mnohosten/laura-core/pkg/document"
)

func sample() *document.Document {
	return document.NewDocumentFromD(document.D{
		{Key: "_id", Value: int64(7)},
		{Key: "name", Value: "Max"},
		{Key: "age", Value: int64(29)},
		{Key: "address", Value: document.D{{Key: "city", Value: "Lyon"}, {Key: "zip", Value: "69001"}}},
		{Key: "items", Value: []interface{}{
			map[string]interface{}{"sku": "a", "qty": int64(2)},
			map[string]interface{}{"sku": "b", "qty": int64(1)},
		}},
	})
}

func project(t *testing.T, spec interface{}) string {
	t.Helper()
	p, err := ParseProjection(spec)
	if err != nil {
		t.Fatalf("ParseProjection(%v) failed: %v", spec, err)
	}
	b, err := p.Apply(sample()).MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	return string(b)
}

func TestProjectionInclusion(t *testing.T) {
	tests := []struct {
		spec interface{}
		want string
	}{
		{map[string]interface{}{"name": 1}, `{"_id":7,"name":"Max"}`},
		{map[string]interface{}{"name": true, "_id": 0}, `{"name":"Max"}`},
		{map[string]interface{}{"address.city": 1}, `{"_id":7,"address":{"city":"Lyon"}}`},
		{map[string]interface{}{"address": map[string]interface{}{"zip": 1}}, `{"_id":7,"address":{"zip":"69001"}}`},
		{map[string]interface{}{"items.sku": 1, "_id": false}, `{"items":[{"sku":"a"},{"sku":"b"}]}`},
		// inclusion keeps document order
		{document.D{{Key: "age", Value: 1}, {Key: "name", Value: 1}}, `{"_id":7,"name":"Max","age":29}`},
	}
	for _, tt := range tests {
		if got := project(t, tt.spec); got != tt.want {
			t.Errorf("project(%v) = %s, want %s", tt.spec, got, tt.want)
		}
	}
}

func TestProjectionExclusion(t *testing.T) {
	tests := []struct {
		spec interface{}
		want string
	}{
		{map[string]interface{}{"items": 0, "address": 0}, `{"_id":7,"name":"Max","age":29}`},
		{map[string]interface{}{"_id": 0, "items": 0, "address.zip": 0}, `{"name":"Max","age":29,"address":{"city":"Lyon"}}`},
		{map[string]interface{}{"items.qty": 0, "address": false, "age": 0, "name": 0, "_id": 0}, `{"items":[{"sku":"a"},{"sku":"b"}]}`},
	}
	for _, tt := range tests {
		if got := project(t, tt.spec); got != tt.want {
			t.Errorf("project(%v) = %s, want %s", tt.spec, got, tt.want)
		}
	}
}

func TestProjectionComputed(t *testing.T) {
	got := project(t, document.D{
		{Key: "name", Value: 1},
		{Key: "nextAge", Value: map[string]interface{}{"$add": []interface{}{"$age", 1}}},
		{Key: "label", Value: map[string]interface{}{"$literal": 1}},
		{Key: "gone", Value: "$missing"},
	})
	want := `{"_id":7,"name":"Max","nextAge":30,"label":1}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestProjectionDoesNotModifySource(t *testing.T) {
	doc := sample()
	p, err := ParseProjection(map[string]interface{}{"address.zip": 0})
	if err != nil {
		t.Fatalf("ParseProjection failed: %v", err)
	}
	p.Apply(doc)
	if v, ok := doc.Lookup("address.zip"); !ok || v.Data != "69001" {
		t.Error("source document was modified")
	}
}

func TestProjectionErrors(t *testing.T) {
	for _, spec := range []interface{}{
		map[string]interface{}{},
		map[string]interface{}{"name": 1, "age": 0},
		map[string]interface{}{"$bad": 1},
		map[string]interface{}{"x": map[string]interface{}{"$nope": 1}},
	} {
		if _, err := ParseProjection(spec); err == nil {
			t.Errorf("ParseProjection(%v) should fail", spec)
		}
	}
}
