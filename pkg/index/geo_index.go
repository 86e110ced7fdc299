package index

import (
	"fmt"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/geo"
	"github.com/mnohosten/laura-core/pkg/query"
)

// GeoIndex is a 2dsphere index over one field
type GeoIndex struct {
	desc    Descriptor
	field   string
	partial *query.Filter
	grid    *geo.Index2DSphere
}

func newGeoIndex(desc Descriptor, partial *query.Filter) *GeoIndex {
	return &GeoIndex{
		desc:    desc,
		field:   desc.Keys[0].Field,
		partial: partial,
		grid:    geo.NewIndex2DSphere(1.0), // 1 degree cells
	}
}

// Descriptor returns the index descriptor
func (gi *GeoIndex) Descriptor() Descriptor {
	return gi.desc
}

// Field returns the indexed field path
func (gi *GeoIndex) Field() string {
	return gi.field
}

// Len returns the number of indexed documents
func (gi *GeoIndex) Len() int {
	return gi.grid.Len()
}

// geometry extracts the indexed shape. Documents without the field are
// not indexed; a value that is not a valid shape is an error.
func (gi *GeoIndex) geometry(doc *document.Document) (geo.Geometry, bool, error) {
	if gi.partial != nil && !gi.partial.Matches(doc) {
		return nil, false, nil
	}
	v, ok := doc.Lookup(gi.field)
	if !ok || v.IsNull() {
		return nil, false, nil
	}
	g, err := geo.ParseGeometry(v)
	if err != nil {
		return nil, false, fmt.Errorf("index %s: can't extract geo keys: %w", gi.desc.Name, err)
	}
	return g, true, nil
}

func (gi *GeoIndex) check(_ string, doc *document.Document) error {
	_, _, err := gi.geometry(doc)
	return err
}

func (gi *GeoIndex) add(id string, doc *document.Document) {
	if g, ok, _ := gi.geometry(doc); ok {
		gi.grid.Insert(id, g)
	}
}

func (gi *GeoIndex) remove(id string, _ *document.Document) {
	gi.grid.Remove(id)
}

// Near returns documents ordered by ascending distance from center.
// maxMeters <= 0 means unbounded; limit <= 0 means no limit.
func (gi *GeoIndex) Near(center geo.Point, maxMeters, minMeters float64, limit int) []geo.NearbyResult {
	return gi.grid.FindNear(&center, maxMeters, minMeters, limit)
}

// Within returns the ids of documents whose shape lies inside region
func (gi *GeoIndex) Within(region geo.Region) []string {
	return gi.grid.FindWithin(region)
}

// Intersects returns the ids of documents whose shape intersects g
func (gi *GeoIndex) Intersects(g geo.Geometry) []string {
	return gi.grid.FindIntersecting(g)
}
