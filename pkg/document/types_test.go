package document

import (
	"testing"
	"time"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ      Type
		expected string
	}{
		{TypeNull, "null"},
		{TypeBoolean, "bool"},
		{TypeInt32, "int"},
		{TypeInt64, "long"},
		{TypeFloat64, "double"},
		{TypeString, "string"},
		{TypeObjectID, "objectId"},
		{TypeArray, "array"},
		{TypeDocument, "object"},
		{TypeDate, "date"},
		{Type(0xFF), "unknown"},
	}

	for _, tt := range tests {
		if result := tt.typ.String(); result != tt.expected {
			t.Errorf("Type(%d).String() = %s, expected %s", tt.typ, result, tt.expected)
		}
	}
}

func TestNewValue(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected Type
	}{
		{"nil", nil, TypeNull},
		{"boolean", true, TypeBoolean},
		{"int32", int32(42), TypeInt32},
		{"int64", int64(42), TypeInt64},
		{"int", 42, TypeInt64},
		{"float32", float32(1.5), TypeFloat64},
		{"float64", 3.14, TypeFloat64},
		{"string", "hello", TypeString},
		{"objectid", NewObjectID(), TypeObjectID},
		{"date", time.Now(), TypeDate},
		{"array", []interface{}{1, "a"}, TypeArray},
		{"string slice", []string{"a", "b"}, TypeArray},
		{"map", map[string]interface{}{"a": 1}, TypeDocument},
		{"ordered", D{{"b", 1}, {"a", 2}}, TypeDocument},
		{"document", NewDocument(), TypeDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := NewValue(tt.input); v.Type != tt.expected {
				t.Errorf("NewValue(%v).Type = %s, expected %s", tt.input, v.Type, tt.expected)
			}
		})
	}
}

func TestNewValueNormalizesArrays(t *testing.T) {
	v := NewValue([]interface{}{1, []interface{}{"x"}, map[string]interface{}{"k": true}})
	arr, ok := v.Array()
	if !ok || len(arr) != 3 {
		t.Fatalf("Expected normalized array of 3, got %v", v)
	}
	if arr[0].Type != TypeInt64 {
		t.Errorf("Expected int64 element, got %s", arr[0].Type)
	}
	if arr[1].Type != TypeArray {
		t.Errorf("Expected nested array, got %s", arr[1].Type)
	}
	if _, ok := arr[2].Doc(); !ok {
		t.Errorf("Expected nested document, got %s", arr[2].Type)
	}
}

func TestValueTruthy(t *testing.T) {
	falsy := []interface{}{nil, false, 0, 0.0, int32(0)}
	for _, f := range falsy {
		if NewValue(f).Truthy() {
			t.Errorf("Expected %v to be falsy", f)
		}
	}
	truthy := []interface{}{true, 1, -2.5, "", []interface{}{}, map[string]interface{}{}}
	for _, v := range truthy {
		if !NewValue(v).Truthy() {
			t.Errorf("Expected %v to be truthy", v)
		}
	}
}

func TestValueCloneIsDeep(t *testing.T) {
	v := NewValue(map[string]interface{}{"tags": []interface{}{"a"}})
	clone := v.Clone()

	doc, _ := clone.Doc()
	doc.Set("tags", []interface{}{"b", "c"})

	orig, _ := v.Doc()
	tags, _ := orig.GetValue("tags")
	arr, _ := tags.Array()
	if len(arr) != 1 {
		t.Errorf("Original value was modified through clone: %v", v)
	}
}
