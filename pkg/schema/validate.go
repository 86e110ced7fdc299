package schema

import (
	"fmt"

	"github.com/mnohosten/laura-core/pkg/document"
)

// Validate checks doc against s. A nil schema accepts everything.
// The returned error is a *ViolationError for the first failed rule.
func Validate(doc *document.Document, s *Schema) error {
	if s == nil {
		return nil
	}
	return validateDocument(doc, s, "")
}

func validateDocument(doc *document.Document, s *Schema, path string) error {
	for _, name := range s.Required {
		if !doc.Has(name) {
			return &ViolationError{Field: join(path, name), Reason: "required"}
		}
	}

	for _, name := range doc.Keys() {
		v, _ := doc.GetValue(name)
		child, declared := s.Properties[name]
		if !declared {
			if s.AdditionalProperties != nil && !*s.AdditionalProperties && name != document.IDField {
				return &ViolationError{
					Field:  join(path, name),
					Actual: v.Type.String(),
					Reason: "additional property not allowed",
				}
			}
			continue
		}
		if err := validateValue(v, child, join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(v *document.Value, s *Schema, path string) error {
	if len(s.BSONTypes) > 0 && !typeAllowed(v, s.BSONTypes) {
		return &ViolationError{
			Field:    path,
			Expected: s.BSONTypes,
			Actual:   v.Type.String(),
			Reason:   "type",
		}
	}

	if len(s.Enum) > 0 {
		found := false
		for _, e := range s.Enum {
			if document.Equal(v, e) {
				found = true
				break
			}
		}
		if !found {
			return &ViolationError{Field: path, Actual: v.String(), Reason: "value not in enum"}
		}
	}

	if f, ok := v.Float(); ok {
		if s.Minimum != nil && f < *s.Minimum {
			return &ViolationError{Field: path, Actual: v.String(), Reason: fmt.Sprintf("below minimum %v", *s.Minimum)}
		}
		if s.Maximum != nil && f > *s.Maximum {
			return &ViolationError{Field: path, Actual: v.String(), Reason: fmt.Sprintf("above maximum %v", *s.Maximum)}
		}
	}

	if str, ok := v.Str(); ok && s.Pattern != nil && !s.Pattern.MatchString(str) {
		return &ViolationError{Field: path, Actual: v.String(), Reason: fmt.Sprintf("does not match pattern %s", s.Pattern)}
	}

	if arr, ok := v.Array(); ok {
		if s.MinItems != nil && len(arr) < *s.MinItems {
			return &ViolationError{Field: path, Actual: fmt.Sprintf("%d items", len(arr)), Reason: fmt.Sprintf("fewer than %d items", *s.MinItems)}
		}
		if s.MaxItems != nil && len(arr) > *s.MaxItems {
			return &ViolationError{Field: path, Actual: fmt.Sprintf("%d items", len(arr)), Reason: fmt.Sprintf("more than %d items", *s.MaxItems)}
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := validateValue(item, s.Items, fmt.Sprintf("%s.%d", path, i)); err != nil {
					return err
				}
			}
		}
	}

	if sub, ok := v.Doc(); ok && (len(s.Properties) > 0 || len(s.Required) > 0 || s.AdditionalProperties != nil) {
		return validateDocument(sub, s, path)
	}
	return nil
}

func typeAllowed(v *document.Value, names []string) bool {
	for _, name := range names {
		for _, t := range typeAliases[name] {
			if v.Type == t {
				return true
			}
		}
		// int accepts long values that fit in 32 bits, since Go ints decode as int64
		if name == "int" && v.Type == document.TypeInt64 {
			n := v.Data.(int64)
			if n >= -1<<31 && n < 1<<31 {
				return true
			}
		}
	}
	return false
}
