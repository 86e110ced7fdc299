package document

import (
	"sort"
	"strconv"
	"strings"
)

// IDField is the name of the immutable identity field
const IDField = "_id"

// Document represents a BSON-like document (ordered key-value pairs)
type Document struct {
	fields map[string]*Value
	order  []string // Maintain insertion order
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]*Value),
		order:  make([]string, 0),
	}
}

// NewDocumentFromMap creates a document from a map.
// Go maps are unordered, so keys are sorted with _id first.
func NewDocumentFromMap(m map[string]interface{}) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	doc := &Document{
		fields: make(map[string]*Value, len(m)),
		order:  make([]string, 0, len(m)),
	}
	for _, k := range keys {
		doc.Set(k, m[k])
	}
	return doc
}

// E is a single ordered key-value pair
type E struct {
	Key   string
	Value interface{}
}

// D is an ordered document literal, used where field order matters
// (sort specifications, compound index keys).
type D []E

// NewDocumentFromD creates a document preserving the order of d
func NewDocumentFromD(d D) *Document {
	doc := &Document{
		fields: make(map[string]*Value, len(d)),
		order:  make([]string, 0, len(d)),
	}
	for _, e := range d {
		doc.Set(e.Key, e.Value)
	}
	return doc
}

// FromAny converts a caller-supplied document (map or *Document) into a Document
func FromAny(v interface{}) (*Document, bool) {
	switch d := v.(type) {
	case *Document:
		return d, d != nil
	case map[string]interface{}:
		return NewDocumentFromMap(d), true
	case D:
		return NewDocumentFromD(d), true
	case *Value:
		return d.Doc()
	}
	return nil, false
}

// Set sets a field value in the document
func (d *Document) Set(key string, value interface{}) {
	d.SetValue(key, NewValue(value))
}

// SetValue sets an already typed value
func (d *Document) SetValue(key string, value *Value) {
	if value == nil {
		value = &Value{Type: TypeNull}
	}
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = value
}

// Get retrieves a field value from the document as a plain Go value
func (d *Document) Get(key string) (interface{}, bool) {
	if v, ok := d.fields[key]; ok {
		return v.Interface(), true
	}
	return nil, false
}

// GetValue retrieves a typed value from the document
func (d *Document) GetValue(key string) (*Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a field from the document
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}

	delete(d.fields, key)

	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	return d.order
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.fields)
}

// ToMap converts the document to a map[string]interface{}
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		m[k] = v.Interface()
	}
	return m
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := &Document{
		fields: make(map[string]*Value, len(d.fields)),
		order:  make([]string, 0, len(d.order)),
	}
	for _, key := range d.order {
		clone.SetValue(key, d.fields[key].Clone())
	}
	return clone
}

// Lookup resolves a dot-separated path.
// Traversing an array maps the remaining path over its document elements,
// so "items.price" on an array of items yields the array of prices.
// A numeric segment indexes into the array instead.
func (d *Document) Lookup(path string) (*Value, bool) {
	if !strings.Contains(path, ".") {
		return d.GetValue(path)
	}
	return lookupParts(d, strings.Split(path, "."))
}

func lookupParts(d *Document, parts []string) (*Value, bool) {
	v, ok := d.fields[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	return lookupValue(v, parts[1:])
}

func lookupValue(v *Value, parts []string) (*Value, bool) {
	switch v.Type {
	case TypeDocument:
		return lookupParts(v.Data.(*Document), parts)
	case TypeArray:
		arr := v.Data.([]*Value)
		if i, err := strconv.Atoi(parts[0]); err == nil && i >= 0 {
			if i >= len(arr) {
				return nil, false
			}
			if len(parts) == 1 {
				return arr[i], true
			}
			return lookupValue(arr[i], parts[1:])
		}
		out := make([]*Value, 0)
		for _, elem := range arr {
			if r, ok := lookupValue(elem, parts); ok {
				out = append(out, r)
			}
		}
		return &Value{Type: TypeArray, Data: out}, true
	}
	return nil, false
}

// SetPath sets a value at a dot-separated path, creating intermediate
// documents as needed. Non-document intermediates are replaced.
func (d *Document) SetPath(path string, value *Value) {
	parts := strings.Split(path, ".")
	cur := d
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur.fields[p]
		if !ok || next.Type != TypeDocument {
			child := NewDocument()
			cur.SetValue(p, &Value{Type: TypeDocument, Data: child})
			cur = child
			continue
		}
		cur = next.Data.(*Document)
	}
	cur.SetValue(parts[len(parts)-1], value)
}

// UnsetPath removes the field at a dot-separated path
func (d *Document) UnsetPath(path string) {
	parts := strings.Split(path, ".")
	cur := d
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur.fields[p]
		if !ok || next.Type != TypeDocument {
			return
		}
		cur = next.Data.(*Document)
	}
	cur.Delete(parts[len(parts)-1])
}

// ID returns the _id value
func (d *Document) ID() (*Value, bool) {
	return d.GetValue(IDField)
}

// String returns a string representation of the document
func (d *Document) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range d.order {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(d.fields[k].String())
	}
	sb.WriteString("}")
	return sb.String()
}

func keyLess(a, b string) bool {
	if a == IDField {
		return b != IDField
	}
	if b == IDField {
		return false
	}
	return a < b
}
