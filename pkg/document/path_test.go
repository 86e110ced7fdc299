package document

import "testing"

func TestLookupNestedPath(t *testing.T) {
	doc := NewDocumentFromMap(map[string]interface{}{
		"address": map[string]interface{}{"city": "Berlin"},
	})

	v, ok := doc.Lookup("address.city")
	if !ok {
		t.Fatal("Expected address.city to resolve")
	}
	if s, _ := v.Str(); s != "Berlin" {
		t.Errorf("Expected Berlin, got %v", v)
	}

	if _, ok := doc.Lookup("address.zip"); ok {
		t.Error("Expected missing nested field")
	}
	if _, ok := doc.Lookup("address.city.name"); ok {
		t.Error("Expected path through a string to be missing")
	}
}

func TestLookupThroughArray(t *testing.T) {
	doc := NewDocumentFromMap(map[string]interface{}{
		"hobbies": []interface{}{
			map[string]interface{}{"title": "Sports"},
			map[string]interface{}{"title": "Cooking"},
			map[string]interface{}{"other": 1},
		},
	})

	v, ok := doc.Lookup("hobbies.title")
	if !ok {
		t.Fatal("Expected hobbies.title to resolve")
	}
	arr, _ := v.Array()
	if len(arr) != 2 {
		t.Fatalf("Expected 2 titles, got %v", v)
	}
	if s, _ := arr[1].Str(); s != "Cooking" {
		t.Errorf("Expected Cooking, got %v", arr[1])
	}
}

func TestSetAndUnsetPath(t *testing.T) {
	doc := NewDocument()
	doc.SetPath("a.b.c", NewValue(1))

	v, ok := doc.Lookup("a.b.c")
	if !ok {
		t.Fatal("Expected a.b.c to be created")
	}
	if n, _ := v.Int(); n != 1 {
		t.Errorf("Expected 1, got %v", v)
	}

	doc.Set("x", "scalar")
	doc.SetPath("x.y", NewValue(true))
	if _, ok := doc.Lookup("x.y"); !ok {
		t.Error("Expected scalar intermediate to be replaced by a document")
	}

	doc.UnsetPath("a.b.c")
	if _, ok := doc.Lookup("a.b.c"); ok {
		t.Error("Expected a.b.c to be removed")
	}
	if _, ok := doc.Lookup("a.b"); !ok {
		t.Error("Expected parent a.b to remain")
	}
}

func TestNewDocumentFromMapOrdersIDFirst(t *testing.T) {
	doc := NewDocumentFromMap(map[string]interface{}{"b": 1, "_id": 2, "a": 3})
	keys := doc.Keys()
	if keys[0] != IDField || keys[1] != "a" || keys[2] != "b" {
		t.Errorf("Unexpected key order %v", keys)
	}
}

func TestLookupNumericSegment(t *testing.T) {
	doc := NewDocumentFromMap(map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"sku": "a"},
			map[string]interface{}{"sku": "b"},
		},
	})

	v, ok := doc.Lookup("items.1.sku")
	if !ok {
		t.Fatal("Expected items.1.sku to resolve")
	}
	if s, _ := v.Str(); s != "b" {
		t.Errorf("Expected b, got %v", v)
	}
	if _, ok := doc.Lookup("items.5"); ok {
		t.Error("Expected out of range index to be missing")
	}
}
