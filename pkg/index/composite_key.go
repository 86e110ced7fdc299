package index

import (
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
)

// CompositeKey represents a key composed of multiple field values.
// Used for compound indexes on multiple fields.
type CompositeKey []*document.Value

// compareKeys compares two keys field by field honoring the directions.
// A shorter key that is a prefix of the longer one sorts first.
func compareKeys(a, b CompositeKey, dirs []int) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		c := document.Compare(a[i], b[i])
		if c == 0 {
			continue
		}
		if i < len(dirs) && dirs[i] < 0 {
			return -c
		}
		return c
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// HasPrefix checks if the key starts with prefix
func (ck CompositeKey) HasPrefix(prefix CompositeKey) bool {
	if len(prefix) > len(ck) {
		return false
	}
	for i := range prefix {
		if !document.Equal(ck[i], prefix[i]) {
			return false
		}
	}
	return true
}

// String renders the key for error messages
func (ck CompositeKey) String() string {
	parts := make([]string, len(ck))
	for i, v := range ck {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// extractKeys returns the index keys of doc for the given fields. Array
// values contribute one key per element, so a document may produce
// several keys (the cartesian product for compound patterns). Missing
// fields are indexed as null.
func extractKeys(doc *document.Document, fields []string) []CompositeKey {
	keys := []CompositeKey{{}}
	for _, field := range fields {
		vals := fieldKeys(doc, field)
		next := make([]CompositeKey, 0, len(keys)*len(vals))
		for _, prefix := range keys {
			for _, v := range vals {
				k := make(CompositeKey, len(prefix)+1)
				copy(k, prefix)
				k[len(prefix)] = v
				next = append(next, k)
			}
		}
		keys = next
	}
	return keys
}

func fieldKeys(doc *document.Document, field string) []*document.Value {
	v, ok := doc.Lookup(field)
	if !ok {
		return []*document.Value{document.Null}
	}
	arr, ok := v.Array()
	if !ok {
		return []*document.Value{v}
	}
	nested := strings.Contains(field, ".")
	out := make([]*document.Value, 0, len(arr))
	for _, elem := range arr {
		if inner, ok := elem.Array(); ok && nested {
			out = append(out, inner...)
			continue
		}
		out = append(out, elem)
	}
	if len(out) == 0 {
		return []*document.Value{document.Null}
	}
	return dedupeValues(out)
}

func dedupeValues(vals []*document.Value) []*document.Value {
	out := vals[:0:0]
	for _, v := range vals {
		dup := false
		for _, seen := range out {
			if document.Equal(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
