package query

import (
	"fmt"

	"github.com/mnohosten/laura-core/pkg/document"
)

// Query represents a find request: a compiled filter plus result shaping
type Query struct {
	filter     *Filter
	projection *Projection
	sort       []SortField
	limit      int
	skip       int
}

// SortField represents a field to sort by
type SortField struct {
	Field     string
	Ascending bool
}

// NewQuery creates a new query
func NewQuery(filter *Filter) *Query {
	if filter == nil {
		filter = MustCompile(nil)
	}
	return &Query{filter: filter}
}

// WithProjection sets the projection
func (q *Query) WithProjection(p *Projection) *Query {
	q.projection = p
	return q
}

// WithSort sets the sort order
func (q *Query) WithSort(fields []SortField) *Query {
	q.sort = fields
	return q
}

// WithLimit sets the limit. Zero means no limit.
func (q *Query) WithLimit(limit int) *Query {
	q.limit = limit
	return q
}

// WithSkip sets the skip
func (q *Query) WithSkip(skip int) *Query {
	q.skip = skip
	return q
}

// Matches checks if a document matches the query filter
func (q *Query) Matches(doc *document.Document) bool {
	return q.filter.Matches(doc)
}

// ApplyProjection applies the projection to a document
func (q *Query) ApplyProjection(doc *document.Document) *document.Document {
	if q.projection == nil {
		return doc
	}
	return q.projection.Apply(doc)
}

// Filter returns the compiled filter
func (q *Query) Filter() *Filter {
	return q.filter
}

// Limit returns the limit
func (q *Query) Limit() int {
	return q.limit
}

// Skip returns the skip
func (q *Query) Skip() int {
	return q.skip
}

// Sort returns the sort fields
func (q *Query) Sort() []SortField {
	return q.sort
}

// Projection returns the projection
func (q *Query) Projection() *Projection {
	return q.projection
}

// ParseSort reads an ordered sort specification such as
// document.D{{"age", -1}, {"name", 1}}. Directions must be 1 or -1.
func ParseSort(spec interface{}) ([]SortField, error) {
	doc, ok := document.FromAny(spec)
	if !ok {
		return nil, fmt.Errorf("%w: sort must be a document, got %T", ErrInvalidFilter, spec)
	}
	if doc.Len() == 0 {
		return nil, fmt.Errorf("%w: sort specification is empty", ErrInvalidFilter)
	}
	fields := make([]SortField, 0, doc.Len())
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		dir, ok := v.Int()
		if !ok || (dir != 1 && dir != -1) {
			return nil, fmt.Errorf("%w: sort direction for %s must be 1 or -1", ErrInvalidFilter, key)
		}
		fields = append(fields, SortField{Field: key, Ascending: dir == 1})
	}
	return fields, nil
}
