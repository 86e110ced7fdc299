package document

import (
	"strings"
	"time"
)

// typeRank orders types the way sort and index ordering expect:
// null < numbers < string < document < array < objectId < bool < date
func typeRank(t Type) int {
	switch t {
	case TypeNull:
		return 1
	case TypeInt32, TypeInt64, TypeFloat64:
		return 2
	case TypeString:
		return 3
	case TypeDocument:
		return 4
	case TypeArray:
		return 5
	case TypeObjectID:
		return 7
	case TypeBoolean:
		return 8
	case TypeDate:
		return 9
	}
	return 0
}

// SameClass reports whether two values are comparable with range operators.
// All numeric types form one class.
func SameClass(a, b *Value) bool {
	if a == nil || b == nil {
		return false
	}
	return typeRank(a.Type) == typeRank(b.Type)
}

// Compare compares two values in canonical order.
// Returns: -1 if a < b, 0 if a == b, 1 if a > b. nil sorts as null.
func Compare(a, b *Value) int {
	if a == nil {
		a = Null
	}
	if b == nil {
		b = Null
	}

	ra, rb := typeRank(a.Type), typeRank(b.Type)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch a.Type {
	case TypeNull:
		return 0
	case TypeInt32, TypeInt64, TypeFloat64:
		return compareNumbers(a, b)
	case TypeString:
		return strings.Compare(a.Data.(string), b.Data.(string))
	case TypeBoolean:
		ab, bb := a.Data.(bool), b.Data.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case TypeDate:
		at, bt := a.Data.(time.Time), b.Data.(time.Time)
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		}
		return 0
	case TypeObjectID:
		return a.Data.(ObjectID).Compare(b.Data.(ObjectID))
	case TypeArray:
		return compareArrays(a.Data.([]*Value), b.Data.([]*Value))
	case TypeDocument:
		return compareDocuments(a.Data.(*Document), b.Data.(*Document))
	}
	return 0
}

func compareNumbers(a, b *Value) int {
	// Integers compare exactly, mixed types go through float64
	if ai, ok := a.Data.(int64); ok {
		if bi, ok := b.Data.(int64); ok {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			}
			return 0
		}
	}
	af, _ := a.Float()
	bf, _ := b.Float()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func compareArrays(a, b []*Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareDocuments(a, b *Document) int {
	ak, bk := a.Keys(), b.Keys()
	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a.fields[ak[i]], b.fields[bk[i]]); c != 0 {
			return c
		}
	}
	switch {
	case len(ak) < len(bk):
		return -1
	case len(ak) > len(bk):
		return 1
	}
	return 0
}

// Equal reports whether two values are equal in canonical order
func Equal(a, b *Value) bool {
	return Compare(a, b) == 0
}
