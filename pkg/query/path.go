package query

import (
	"strconv"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
)

// reach collects every value a dotted path reaches in doc. Crossing an
// array descends into each element; a numeric segment also selects the
// element at that position. An empty result means the field is missing.
func reach(doc *document.Document, parts []string) []*document.Value {
	v, ok := doc.GetValue(parts[0])
	if !ok {
		return nil
	}
	if len(parts) == 1 {
		return []*document.Value{v}
	}
	return reachValue(v, parts[1:], nil)
}

func reachValue(v *document.Value, parts []string, out []*document.Value) []*document.Value {
	switch v.Type {
	case document.TypeDocument:
		child, ok := v.Data.(*document.Document).GetValue(parts[0])
		if !ok {
			return out
		}
		if len(parts) == 1 {
			return append(out, child)
		}
		return reachValue(child, parts[1:], out)
	case document.TypeArray:
		arr := v.Data.([]*document.Value)
		if i, err := strconv.Atoi(parts[0]); err == nil && i >= 0 {
			if i < len(arr) {
				if len(parts) == 1 {
					out = append(out, arr[i])
				} else {
					out = reachValue(arr[i], parts[1:], out)
				}
			}
			return out
		}
		for _, elem := range arr {
			if elem.Type == document.TypeDocument {
				out = reachValue(elem, parts, out)
			}
		}
	}
	return out
}

// expand returns the reached values followed by the elements of any
// reached arrays, which is the candidate set for scalar predicates.
func expand(vals []*document.Value) []*document.Value {
	out := vals
	for _, v := range vals {
		if arr, ok := v.Array(); ok {
			if len(out) == len(vals) {
				out = append(make([]*document.Value, 0, len(vals)+len(arr)), vals...)
			}
			out = append(out, arr...)
		}
	}
	return out
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
