package document

import (
	"fmt"
	"math"
	"time"
)

// Type represents the BSON data type of a value
type Type byte

const (
	TypeFloat64  Type = 0x01
	TypeString   Type = 0x02
	TypeDocument Type = 0x03
	TypeArray    Type = 0x04
	TypeObjectID Type = 0x07
	TypeBoolean  Type = 0x08
	TypeDate     Type = 0x09
	TypeNull     Type = 0x0A
	TypeInt32    Type = 0x10
	TypeInt64    Type = 0x12
)

// String returns the $type alias of the type
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "bool"
	case TypeInt32:
		return "int"
	case TypeInt64:
		return "long"
	case TypeFloat64:
		return "double"
	case TypeString:
		return "string"
	case TypeObjectID:
		return "objectId"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "object"
	case TypeDate:
		return "date"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether the type is one of the numeric types
func (t Type) IsNumeric() bool {
	return t == TypeInt32 || t == TypeInt64 || t == TypeFloat64
}

// Value is a tagged value in a document tree.
//
// Data holds the normalized payload for Type:
//
//	TypeNull     nil
//	TypeBoolean  bool
//	TypeInt32    int32
//	TypeInt64    int64
//	TypeFloat64  float64
//	TypeString   string
//	TypeDate     time.Time (UTC)
//	TypeObjectID ObjectID
//	TypeArray    []*Value
//	TypeDocument *Document
type Value struct {
	Type Type
	Data interface{}
}

// Null is the shared null value. It must not be mutated.
var Null = &Value{Type: TypeNull}

// NewValue creates a new typed value from a Go value
func NewValue(data interface{}) *Value {
	switch v := data.(type) {
	case nil:
		return &Value{Type: TypeNull}
	case *Value:
		if v == nil {
			return &Value{Type: TypeNull}
		}
		return v
	case bool:
		return &Value{Type: TypeBoolean, Data: v}
	case int32:
		return &Value{Type: TypeInt32, Data: v}
	case int:
		return &Value{Type: TypeInt64, Data: int64(v)}
	case int8:
		return &Value{Type: TypeInt32, Data: int32(v)}
	case int16:
		return &Value{Type: TypeInt32, Data: int32(v)}
	case int64:
		return &Value{Type: TypeInt64, Data: v}
	case uint:
		return &Value{Type: TypeInt64, Data: int64(v)}
	case uint8:
		return &Value{Type: TypeInt32, Data: int32(v)}
	case uint16:
		return &Value{Type: TypeInt32, Data: int32(v)}
	case uint32:
		return &Value{Type: TypeInt64, Data: int64(v)}
	case uint64:
		return &Value{Type: TypeInt64, Data: int64(v)}
	case float32:
		return &Value{Type: TypeFloat64, Data: float64(v)}
	case float64:
		return &Value{Type: TypeFloat64, Data: v}
	case string:
		return &Value{Type: TypeString, Data: v}
	case ObjectID:
		return &Value{Type: TypeObjectID, Data: v}
	case time.Time:
		return &Value{Type: TypeDate, Data: v.UTC()}
	case []*Value:
		return &Value{Type: TypeArray, Data: v}
	case []interface{}:
		arr := make([]*Value, len(v))
		for i, item := range v {
			arr[i] = NewValue(item)
		}
		return &Value{Type: TypeArray, Data: arr}
	case []string:
		arr := make([]*Value, len(v))
		for i, item := range v {
			arr[i] = NewValue(item)
		}
		return &Value{Type: TypeArray, Data: arr}
	case []int:
		arr := make([]*Value, len(v))
		for i, item := range v {
			arr[i] = NewValue(item)
		}
		return &Value{Type: TypeArray, Data: arr}
	case []float64:
		arr := make([]*Value, len(v))
		for i, item := range v {
			arr[i] = NewValue(item)
		}
		return &Value{Type: TypeArray, Data: arr}
	case []map[string]interface{}:
		arr := make([]*Value, len(v))
		for i, item := range v {
			arr[i] = NewValue(item)
		}
		return &Value{Type: TypeArray, Data: arr}
	case map[string]interface{}:
		return &Value{Type: TypeDocument, Data: NewDocumentFromMap(v)}
	case D:
		return &Value{Type: TypeDocument, Data: NewDocumentFromD(v)}
	case *Document:
		if v == nil {
			return &Value{Type: TypeNull}
		}
		return &Value{Type: TypeDocument, Data: v}
	default:
		return &Value{Type: TypeString, Data: fmt.Sprintf("%v", v)}
	}
}

// IsNull reports whether the value is null (or a nil pointer)
func (v *Value) IsNull() bool {
	return v == nil || v.Type == TypeNull
}

// IsNumber reports whether the value is numeric
func (v *Value) IsNumber() bool {
	return v != nil && v.Type.IsNumeric()
}

// Float returns the numeric value as float64
func (v *Value) Float() (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch d := v.Data.(type) {
	case int32:
		return float64(d), true
	case int64:
		return float64(d), true
	case float64:
		return d, true
	}
	return 0, false
}

// Int returns the numeric value truncated to int64
func (v *Value) Int() (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch d := v.Data.(type) {
	case int32:
		return int64(d), true
	case int64:
		return d, true
	case float64:
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, false
		}
		return int64(d), true
	}
	return 0, false
}

// Str returns the string payload
func (v *Value) Str() (string, bool) {
	if v == nil || v.Type != TypeString {
		return "", false
	}
	return v.Data.(string), true
}

// Bool returns the boolean payload
func (v *Value) Bool() (bool, bool) {
	if v == nil || v.Type != TypeBoolean {
		return false, false
	}
	return v.Data.(bool), true
}

// Time returns the date payload
func (v *Value) Time() (time.Time, bool) {
	if v == nil || v.Type != TypeDate {
		return time.Time{}, false
	}
	return v.Data.(time.Time), true
}

// Array returns the array elements
func (v *Value) Array() ([]*Value, bool) {
	if v == nil || v.Type != TypeArray {
		return nil, false
	}
	return v.Data.([]*Value), true
}

// Doc returns the embedded document
func (v *Value) Doc() (*Document, bool) {
	if v == nil || v.Type != TypeDocument {
		return nil, false
	}
	return v.Data.(*Document), true
}

// Truthy follows aggregation boolean coercion: null, false and zero are false
func (v *Value) Truthy() bool {
	if v == nil {
		return false
	}
	switch v.Type {
	case TypeNull:
		return false
	case TypeBoolean:
		return v.Data.(bool)
	case TypeInt32, TypeInt64, TypeFloat64:
		f, _ := v.Float()
		return f != 0
	}
	return true
}

// Interface converts the value back to plain Go values
func (v *Value) Interface() interface{} {
	if v == nil {
		return nil
	}
	switch v.Type {
	case TypeArray:
		arr := v.Data.([]*Value)
		out := make([]interface{}, len(arr))
		for i, item := range arr {
			out[i] = item.Interface()
		}
		return out
	case TypeDocument:
		return v.Data.(*Document).ToMap()
	}
	return v.Data
}

// Clone returns a deep copy of the value
func (v *Value) Clone() *Value {
	if v == nil {
		return &Value{Type: TypeNull}
	}
	switch v.Type {
	case TypeArray:
		arr := v.Data.([]*Value)
		out := make([]*Value, len(arr))
		for i, item := range arr {
			out[i] = item.Clone()
		}
		return &Value{Type: TypeArray, Data: out}
	case TypeDocument:
		return &Value{Type: TypeDocument, Data: v.Data.(*Document).Clone()}
	}
	return &Value{Type: v.Type, Data: v.Data}
}

// String renders the value for diagnostics
func (v *Value) String() string {
	if v == nil {
		return "null"
	}
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeString:
		return fmt.Sprintf("%q", v.Data)
	case TypeDate:
		return v.Data.(time.Time).Format(time.RFC3339Nano)
	case TypeArray:
		arr := v.Data.([]*Value)
		s := "["
		for i, item := range arr {
			if i > 0 {
				s += ", "
			}
			s += item.String()
		}
		return s + "]"
	case TypeDocument:
		return v.Data.(*Document).String()
	}
	return fmt.Sprintf("%v", v.Data)
}
