package geo

import (
	"errors"
	"fmt"

	"github.com/mnohosten/laura-core/pkg/document"
)

// ErrInvalidGeometry is returned for values that are not valid geometries
var ErrInvalidGeometry = errors.New("invalid geometry")

// ParseGeometry reads a GeoJSON document ({type, coordinates}) or a
// legacy [lon, lat] coordinate pair
func ParseGeometry(v *document.Value) (Geometry, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: missing value", ErrInvalidGeometry)
	}
	if arr, ok := v.Array(); ok {
		p, err := parsePosition(arr)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}

	doc, ok := v.Doc()
	if !ok {
		return nil, fmt.Errorf("%w: expected GeoJSON or coordinate pair, got %s", ErrInvalidGeometry, v.Type)
	}
	typ, _ := doc.GetValue("type")
	name, _ := typ.Str()
	coords, ok := doc.GetValue("coordinates")
	if !ok {
		return nil, fmt.Errorf("%w: missing coordinates field", ErrInvalidGeometry)
	}

	switch GeometryType(name) {
	case GeometryTypePoint:
		arr, ok := coords.Array()
		if !ok {
			return nil, fmt.Errorf("%w: coordinates must be an array", ErrInvalidGeometry)
		}
		p, err := parsePosition(arr)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case GeometryTypeLineString:
		points, err := parsePositions(coords)
		if err != nil {
			return nil, err
		}
		if len(points) < 2 {
			return nil, fmt.Errorf("%w: LineString needs at least 2 positions", ErrInvalidGeometry)
		}
		return &LineString{Points: points}, nil
	case GeometryTypeMultiPoint:
		points, err := parsePositions(coords)
		if err != nil {
			return nil, err
		}
		return &MultiPoint{Points: points}, nil
	case GeometryTypePolygon:
		return parsePolygon(coords)
	}
	return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidGeometry, name)
}

// ParsePoint reads a point in GeoJSON or legacy form
func ParsePoint(v *document.Value) (*Point, error) {
	g, err := ParseGeometry(v)
	if err != nil {
		return nil, err
	}
	p, ok := g.(*Point)
	if !ok {
		return nil, fmt.Errorf("%w: expected a Point, got %s", ErrInvalidGeometry, g.Type())
	}
	return p, nil
}

// ParseRegion reads a $geoWithin operand:
// {$geometry: Polygon}, {$centerSphere: [[lon, lat], radians]},
// {$box: [[lon, lat], [lon, lat]]} or {$polygon: [[lon, lat], ...]}
func ParseRegion(v *document.Value) (Region, error) {
	doc, ok := v.Doc()
	if !ok || doc.Len() != 1 {
		return nil, fmt.Errorf("%w: $geoWithin requires a single shape operator", ErrInvalidGeometry)
	}
	key := doc.Keys()[0]
	arg, _ := doc.GetValue(key)

	switch key {
	case "$geometry":
		g, err := ParseGeometry(arg)
		if err != nil {
			return nil, err
		}
		poly, ok := g.(*Polygon)
		if !ok {
			return nil, fmt.Errorf("%w: $geoWithin $geometry must be a Polygon", ErrInvalidGeometry)
		}
		return poly, nil
	case "$centerSphere":
		arr, ok := arg.Array()
		if !ok || len(arr) != 2 {
			return nil, fmt.Errorf("%w: $centerSphere requires [[lon, lat], radius]", ErrInvalidGeometry)
		}
		center, err := ParsePoint(arr[0])
		if err != nil {
			return nil, err
		}
		radians, ok := arr[1].Float()
		if !ok || radians < 0 {
			return nil, fmt.Errorf("%w: $centerSphere radius must be a non-negative number", ErrInvalidGeometry)
		}
		return NewCapRadians(*center, radians), nil
	case "$box":
		points, err := parsePositions(arg)
		if err != nil {
			return nil, err
		}
		if len(points) != 2 {
			return nil, fmt.Errorf("%w: $box requires two corners", ErrInvalidGeometry)
		}
		return boundsOf(points), nil
	case "$polygon":
		points, err := parsePositions(arg)
		if err != nil {
			return nil, err
		}
		if len(points) < 3 {
			return nil, fmt.Errorf("%w: $polygon requires at least 3 points", ErrInvalidGeometry)
		}
		return NewPolygon([][]Point{points}), nil
	}
	return nil, fmt.Errorf("%w: unknown shape operator %s", ErrInvalidGeometry, key)
}

func parsePolygon(coords *document.Value) (*Polygon, error) {
	rings, ok := coords.Array()
	if !ok || len(rings) == 0 {
		return nil, fmt.Errorf("%w: polygon coordinates must be an array of rings", ErrInvalidGeometry)
	}
	out := make([][]Point, len(rings))
	for i, ring := range rings {
		points, err := parsePositions(ring)
		if err != nil {
			return nil, err
		}
		if len(points) < 4 || points[0] != points[len(points)-1] {
			return nil, fmt.Errorf("%w: ring %d must be closed with at least 4 positions", ErrInvalidGeometry, i)
		}
		out[i] = points
	}
	return NewPolygon(out), nil
}

func parsePositions(v *document.Value) ([]Point, error) {
	arr, ok := v.Array()
	if !ok {
		return nil, fmt.Errorf("%w: expected an array of positions", ErrInvalidGeometry)
	}
	points := make([]Point, len(arr))
	for i, item := range arr {
		pos, ok := item.Array()
		if !ok {
			return nil, fmt.Errorf("%w: position must be an array", ErrInvalidGeometry)
		}
		p, err := parsePosition(pos)
		if err != nil {
			return nil, err
		}
		points[i] = p
	}
	return points, nil
}

func parsePosition(arr []*document.Value) (Point, error) {
	if len(arr) != 2 {
		return Point{}, fmt.Errorf("%w: point coordinates must have 2 elements", ErrInvalidGeometry)
	}
	lon, ok := arr[0].Float()
	if !ok {
		return Point{}, fmt.Errorf("%w: invalid longitude", ErrInvalidGeometry)
	}
	lat, ok := arr[1].Float()
	if !ok {
		return Point{}, fmt.Errorf("%w: invalid latitude", ErrInvalidGeometry)
	}
	if lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidGeometry)
	}
	if lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidGeometry)
	}
	return Point{Lon: lon, Lat: lat}, nil
}
