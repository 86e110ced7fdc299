package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaViolation is matched by every validation failure
var ErrSchemaViolation = errors.New("document failed schema validation")

// ErrInvalidSchema is returned when a schema definition cannot be parsed
var ErrInvalidSchema = errors.New("invalid schema")

// ViolationError describes the first rule a document broke
type ViolationError struct {
	Field    string
	Expected []string
	Actual   string
	Reason   string
}

func (e *ViolationError) Error() string {
	field := e.Field
	if field == "" {
		field = "<root>"
	}
	switch e.Reason {
	case "type":
		return fmt.Sprintf("schema violation at %s: expected %s, got %s",
			field, strings.Join(e.Expected, "|"), e.Actual)
	case "required":
		return fmt.Sprintf("schema violation: missing required field %s", field)
	}
	return fmt.Sprintf("schema violation at %s: %s", field, e.Reason)
}

// Is makes errors.Is(err, ErrSchemaViolation) succeed
func (e *ViolationError) Is(target error) bool {
	return target == ErrSchemaViolation
}
