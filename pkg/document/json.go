package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// MarshalJSON encodes the document as extended JSON, preserving field order
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeDocument(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON encodes the value as extended JSON
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDocument(buf *bytes.Buffer, d *Document) error {
	buf.WriteByte('{')
	for i, k := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeValue(buf, d.fields[k]); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v *Value) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch v.Type {
	case TypeNull:
		buf.WriteString("null")
	case TypeBoolean:
		buf.WriteString(strconv.FormatBool(v.Data.(bool)))
	case TypeInt32:
		buf.WriteString(strconv.FormatInt(int64(v.Data.(int32)), 10))
	case TypeInt64:
		buf.WriteString(strconv.FormatInt(v.Data.(int64), 10))
	case TypeFloat64:
		f := v.Data.(float64)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
			return nil
		}
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case TypeString:
		b, err := json.Marshal(v.Data.(string))
		if err != nil {
			return err
		}
		buf.Write(b)
	case TypeDate:
		fmt.Fprintf(buf, `{"$date":%q}`, v.Data.(time.Time).Format(time.RFC3339Nano))
	case TypeObjectID:
		fmt.Fprintf(buf, `{"$oid":%q}`, v.Data.(ObjectID).Hex())
	case TypeArray:
		buf.WriteByte('[')
		for i, item := range v.Data.([]*Value) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case TypeDocument:
		return writeDocument(buf, v.Data.(*Document))
	default:
		return fmt.Errorf("unsupported type %s", v.Type)
	}
	return nil
}

// FromJSON parses a single extended JSON object, preserving key order.
// Integral numbers decode as int64, others as float64.
func FromJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeDocument(dec)
}

// NewJSONDecoder returns a function reading consecutive JSON objects from r.
// It returns io.EOF once the input is exhausted.
func NewJSONDecoder(r io.Reader) func() (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return func() (*Document, error) {
		if !dec.More() {
			return nil, io.EOF
		}
		return decodeDocument(dec)
	}
}

// ParseJSONValue parses any extended JSON value
func ParseJSONValue(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeValue(dec)
}

func decodeDocument(dec *json.Decoder) (*Document, error) {
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	doc, ok := v.Doc()
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", v.Type)
	}
	return doc, nil
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case nil:
		return &Value{Type: TypeNull}, nil
	case bool:
		return NewValue(t), nil
	case string:
		return NewValue(t), nil
	case json.Number:
		return decodeNumber(t)
	case json.Delim:
		switch t {
		case '[':
			arr := make([]*Value, 0)
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return &Value{Type: TypeArray, Data: arr}, nil
		case '{':
			doc := NewDocument()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("invalid object key %v", keyTok)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", key, err)
				}
				doc.SetValue(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return unwrapExtended(doc)
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

func decodeNumber(n json.Number) (*Value, error) {
	if !strings.ContainsAny(n.String(), ".eE") {
		if i, err := n.Int64(); err == nil {
			return NewValue(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %s: %w", n, err)
	}
	return NewValue(f), nil
}

// unwrapExtended turns {"$oid": ...} and {"$date": ...} into typed values
func unwrapExtended(doc *Document) (*Value, error) {
	if doc.Len() == 1 {
		if v, ok := doc.GetValue("$oid"); ok {
			s, _ := v.Str()
			id, err := ObjectIDFromHex(s)
			if err != nil {
				return nil, err
			}
			return NewValue(id), nil
		}
		if v, ok := doc.GetValue("$date"); ok {
			return parseExtendedDate(v)
		}
	}
	return &Value{Type: TypeDocument, Data: doc}, nil
}

func parseExtendedDate(date *Value) (*Value, error) {
	switch date.Type {
	case TypeString:
		t, err := time.Parse(time.RFC3339Nano, date.Data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid $date: %w", err)
		}
		return NewValue(t), nil
	case TypeInt32, TypeInt64:
		ms, _ := date.Int()
		return NewValue(time.UnixMilli(ms)), nil
	}
	return nil, fmt.Errorf("invalid $date value %s", date)
}
