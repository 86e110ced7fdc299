package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/text"
)

// Kind classifies an index by its key pattern
type Kind int

const (
	KindSingle Kind = iota
	KindCompound
	KindText
	KindGeo
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindCompound:
		return "compound"
	case KindText:
		return "text"
	case KindGeo:
		return "2dsphere"
	}
	return "unknown"
}

// Key type markers
const (
	KeyText     = "text"
	Key2DSphere = "2dsphere"
)

// WildcardField indexes every string field of a document in a text index
const WildcardField = "$**"

// IDIndexName is the name of the implicit unique index on _id
const IDIndexName = "_id_"

// Key is one component of an index key pattern.
// Direction is 1 or -1 for ordered keys; Type marks text and 2dsphere keys.
type Key struct {
	Field     string
	Direction int
	Type      string
}

// Descriptor describes an index
type Descriptor struct {
	Name               string
	Keys               []Key
	Unique             bool
	PartialFilter      map[string]interface{}
	ExpireAfterSeconds *int64
	Weights            map[string]int
	DefaultLanguage    string
	LanguageOverride   string
}

// Kind derives the index kind from the key pattern
func (d Descriptor) Kind() Kind {
	for _, k := range d.Keys {
		switch k.Type {
		case KeyText:
			return KindText
		case Key2DSphere:
			return KindGeo
		}
	}
	if len(d.Keys) > 1 {
		return KindCompound
	}
	return KindSingle
}

// IsTTL reports whether documents expire through this index
func (d Descriptor) IsTTL() bool {
	return d.ExpireAfterSeconds != nil
}

// Fields returns the indexed field paths in key order
func (d Descriptor) Fields() []string {
	fields := make([]string, len(d.Keys))
	for i, k := range d.Keys {
		fields[i] = k.Field
	}
	return fields
}

// DefaultName builds the conventional name, e.g. "city_1_age_-1"
func (d Descriptor) DefaultName() string {
	parts := make([]string, 0, len(d.Keys)*2)
	for _, k := range d.Keys {
		parts = append(parts, k.Field)
		if k.Type != "" {
			parts = append(parts, k.Type)
		} else {
			parts = append(parts, strconv.Itoa(k.Direction))
		}
	}
	return strings.Join(parts, "_")
}

// normalize fills defaults and validates the descriptor shape
func (d *Descriptor) normalize() error {
	if len(d.Keys) == 0 {
		return fmt.Errorf("%w: index needs at least one key", ErrInvalidIndex)
	}
	seen := make(map[string]bool, len(d.Keys))
	for i, k := range d.Keys {
		if k.Field == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidIndex)
		}
		if seen[k.Field] {
			return fmt.Errorf("%w: field %s appears twice", ErrInvalidIndex, k.Field)
		}
		seen[k.Field] = true
		switch k.Type {
		case "":
			if k.Direction == 0 {
				d.Keys[i].Direction = 1
			} else if k.Direction != 1 && k.Direction != -1 {
				return fmt.Errorf("%w: direction for %s must be 1 or -1", ErrInvalidIndex, k.Field)
			}
		case KeyText, Key2DSphere:
		default:
			return fmt.Errorf("%w: unknown key type %q", ErrInvalidIndex, k.Type)
		}
	}
	if d.Name == "" {
		d.Name = d.DefaultName()
	}

	switch d.Kind() {
	case KindText:
		for _, k := range d.Keys {
			if k.Type != KeyText {
				return fmt.Errorf("%w: text index keys must all be text", ErrInvalidIndex)
			}
		}
		if d.Unique {
			return fmt.Errorf("%w: text index cannot be unique", ErrInvalidIndex)
		}
		if d.DefaultLanguage == "" {
			d.DefaultLanguage = text.DefaultLanguage
		}
		if _, err := text.NewAnalyzer(d.DefaultLanguage); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIndex, err)
		}
		if d.LanguageOverride == "" {
			d.LanguageOverride = "language"
		}
		for field, w := range d.Weights {
			if w < 1 {
				return fmt.Errorf("%w: weight for %s must be a positive integer", ErrInvalidIndex, field)
			}
		}
	case KindGeo:
		if len(d.Keys) != 1 {
			return fmt.Errorf("%w: 2dsphere index must have exactly one key", ErrInvalidIndex)
		}
		if d.Unique {
			return fmt.Errorf("%w: 2dsphere index cannot be unique", ErrInvalidIndex)
		}
	}

	if d.Kind() != KindText && len(d.Weights) > 0 {
		return fmt.Errorf("%w: weights are only valid for text indexes", ErrInvalidIndex)
	}
	if d.IsTTL() {
		if d.Kind() != KindSingle {
			return fmt.Errorf("%w: expireAfterSeconds requires a single-field index", ErrInvalidIndex)
		}
		if *d.ExpireAfterSeconds < 0 {
			return fmt.Errorf("%w: expireAfterSeconds must be non-negative", ErrInvalidIndex)
		}
	}
	return nil
}

// ParseKeys reads an ordered key pattern such as
// document.D{{"city", 1}, {"age", -1}} or {"body": "text"}
func ParseKeys(spec interface{}) ([]Key, error) {
	doc, ok := document.FromAny(spec)
	if !ok {
		return nil, fmt.Errorf("%w: key pattern must be a document, got %T", ErrInvalidIndex, spec)
	}
	keys := make([]Key, 0, doc.Len())
	for _, field := range doc.Keys() {
		v, _ := doc.GetValue(field)
		if s, ok := v.Str(); ok {
			if s != KeyText && s != Key2DSphere {
				return nil, fmt.Errorf("%w: unknown key type %q for %s", ErrInvalidIndex, s, field)
			}
			keys = append(keys, Key{Field: field, Type: s})
			continue
		}
		dir, ok := v.Int()
		if !ok || (dir != 1 && dir != -1) {
			return nil, fmt.Errorf("%w: direction for %s must be 1 or -1", ErrInvalidIndex, field)
		}
		keys = append(keys, Key{Field: field, Direction: int(dir)})
	}
	return keys, nil
}

// ParseDescriptor reads an index document in the createIndexes shape:
// {key: {...}, name, unique, partialFilterExpression, expireAfterSeconds,
// weights, default_language, language_override}
func ParseDescriptor(spec interface{}) (*Descriptor, error) {
	doc, ok := document.FromAny(spec)
	if !ok {
		return nil, fmt.Errorf("%w: index must be a document, got %T", ErrInvalidIndex, spec)
	}
	d := &Descriptor{}
	for _, field := range doc.Keys() {
		v, _ := doc.GetValue(field)
		switch field {
		case "key":
			keys, err := ParseKeys(v)
			if err != nil {
				return nil, err
			}
			d.Keys = keys
		case "name":
			d.Name, _ = v.Str()
		case "unique":
			d.Unique = v.Truthy()
		case "partialFilterExpression":
			pf, ok := v.Doc()
			if !ok {
				return nil, fmt.Errorf("%w: partialFilterExpression must be a document", ErrInvalidIndex)
			}
			d.PartialFilter = pf.ToMap()
		case "expireAfterSeconds":
			secs, ok := v.Int()
			if !ok {
				return nil, fmt.Errorf("%w: expireAfterSeconds must be a number", ErrInvalidIndex)
			}
			d.ExpireAfterSeconds = &secs
		case "weights":
			wd, ok := v.Doc()
			if !ok {
				return nil, fmt.Errorf("%w: weights must be a document", ErrInvalidIndex)
			}
			d.Weights = make(map[string]int, wd.Len())
			for _, f := range wd.Keys() {
				wv, _ := wd.GetValue(f)
				w, _ := wv.Int()
				d.Weights[f] = int(w)
			}
		case "default_language":
			d.DefaultLanguage, _ = v.Str()
		case "language_override":
			d.LanguageOverride, _ = v.Str()
		case "v", "ns", "background", "sparse":
		default:
			return nil, fmt.Errorf("%w: unknown index option %s", ErrInvalidIndex, field)
		}
	}
	if len(d.Keys) == 0 {
		return nil, fmt.Errorf("%w: index requires a key pattern", ErrInvalidIndex)
	}
	return d, nil
}
