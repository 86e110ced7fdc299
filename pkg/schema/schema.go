// Package schema implements $jsonSchema-style document validation.
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/mnohosten/laura-core/pkg/document"
)

// Schema is one node of a validation tree
type Schema struct {
	BSONTypes            []string
	Required             []string
	Properties           map[string]*Schema
	AdditionalProperties *bool
	Items                *Schema
	Enum                 []*document.Value
	Minimum              *float64
	Maximum              *float64
	Pattern              *regexp.Regexp
	MinItems             *int
	MaxItems             *int
}

var typeAliases = map[string][]document.Type{
	"int":      {document.TypeInt32},
	"long":     {document.TypeInt64},
	"double":   {document.TypeFloat64},
	"decimal":  {document.TypeFloat64},
	"number":   {document.TypeInt32, document.TypeInt64, document.TypeFloat64},
	"string":   {document.TypeString},
	"bool":     {document.TypeBoolean},
	"date":     {document.TypeDate},
	"objectId": {document.TypeObjectID},
	"array":    {document.TypeArray},
	"object":   {document.TypeDocument},
	"null":     {document.TypeNull},
}

// JSON Schema "type" names mapped to bsonType aliases
var jsonTypeAliases = map[string][]string{
	"integer": {"int", "long"},
	"number":  {"number"},
	"string":  {"string"},
	"boolean": {"bool"},
	"array":   {"array"},
	"object":  {"object"},
	"null":    {"null"},
}

// Parse builds a schema from its document form. Both a bare schema and
// the {"$jsonSchema": {...}} wrapper are accepted.
func Parse(spec interface{}) (*Schema, error) {
	doc, ok := document.FromAny(spec)
	if !ok {
		return nil, fmt.Errorf("%w: expected a document, got %T", ErrInvalidSchema, spec)
	}
	if inner, ok := doc.GetValue("$jsonSchema"); ok && doc.Len() == 1 {
		d, ok := inner.Doc()
		if !ok {
			return nil, fmt.Errorf("%w: $jsonSchema must be a document", ErrInvalidSchema)
		}
		doc = d
	}
	return parseNode(doc, "")
}

func parseNode(doc *document.Document, path string) (*Schema, error) {
	s := &Schema{}
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		var err error
		switch key {
		case "bsonType":
			s.BSONTypes, err = parseTypes(v, false)
		case "type":
			s.BSONTypes, err = parseTypes(v, true)
		case "required":
			s.Required, err = stringList(v)
		case "properties":
			s.Properties, err = parseProperties(v, path)
		case "additionalProperties":
			b, ok := v.Bool()
			if !ok {
				err = fmt.Errorf("additionalProperties must be a boolean")
			}
			s.AdditionalProperties = &b
		case "items":
			d, ok := v.Doc()
			if !ok {
				err = fmt.Errorf("items must be a document")
				break
			}
			s.Items, err = parseNode(d, path+"[]")
		case "enum":
			arr, ok := v.Array()
			if !ok {
				err = fmt.Errorf("enum must be an array")
			}
			s.Enum = arr
		case "minimum":
			s.Minimum, err = number(v)
		case "maximum":
			s.Maximum, err = number(v)
		case "pattern":
			p, ok := v.Str()
			if !ok {
				err = fmt.Errorf("pattern must be a string")
				break
			}
			s.Pattern, err = regexp.Compile(p)
		case "minItems":
			s.MinItems, err = count(v)
		case "maxItems":
			s.MaxItems, err = count(v)
		}
		// description, title and other annotations are ignored
		if err != nil {
			return nil, fmt.Errorf("%w: %s%s: %v", ErrInvalidSchema, prefix(path), key, err)
		}
	}
	return s, nil
}

func parseProperties(v *document.Value, path string) (map[string]*Schema, error) {
	d, ok := v.Doc()
	if !ok {
		return nil, fmt.Errorf("properties must be a document")
	}
	props := make(map[string]*Schema, d.Len())
	for _, name := range d.Keys() {
		pv, _ := d.GetValue(name)
		pd, ok := pv.Doc()
		if !ok {
			return nil, fmt.Errorf("property %s must be a document", name)
		}
		child, err := parseNode(pd, join(path, name))
		if err != nil {
			return nil, err
		}
		props[name] = child
	}
	return props, nil
}

func parseTypes(v *document.Value, jsonNames bool) ([]string, error) {
	var names []string
	if s, ok := v.Str(); ok {
		names = []string{s}
	} else {
		var err error
		if names, err = stringList(v); err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if jsonNames {
			aliases, ok := jsonTypeAliases[n]
			if !ok {
				return nil, fmt.Errorf("unknown type %q", n)
			}
			out = append(out, aliases...)
			continue
		}
		if _, ok := typeAliases[n]; !ok {
			return nil, fmt.Errorf("unknown bsonType %q", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func stringList(v *document.Value) ([]string, error) {
	arr, ok := v.Array()
	if !ok {
		return nil, fmt.Errorf("expected an array of strings")
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.Str()
		if !ok {
			return nil, fmt.Errorf("expected an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func number(v *document.Value) (*float64, error) {
	f, ok := v.Float()
	if !ok {
		return nil, fmt.Errorf("expected a number")
	}
	return &f, nil
}

func count(v *document.Value) (*int, error) {
	n, ok := v.Int()
	if !ok || n < 0 {
		return nil, fmt.Errorf("expected a non-negative integer")
	}
	i := int(n)
	return &i, nil
}

// Fields returns the declared property names in sorted order
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func prefix(path string) string {
	if path == "" {
		return ""
	}
	return path + "."
}
