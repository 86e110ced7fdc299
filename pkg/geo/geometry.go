package geo

import (
	"math"
)

// EarthRadiusMeters is the equatorial radius used for spherical distances
const EarthRadiusMeters = 6378100.0

// GeometryType represents the type of geometry
type GeometryType string

const (
	GeometryTypePoint      GeometryType = "Point"
	GeometryTypeLineString GeometryType = "LineString"
	GeometryTypePolygon    GeometryType = "Polygon"
	GeometryTypeMultiPoint GeometryType = "MultiPoint"
)

// Geometry represents a geographic shape
type Geometry interface {
	Type() GeometryType
	Bounds() *BoundingBox
	// Vertices returns every coordinate of the shape
	Vertices() []Point
}

// Region is an area that can contain points ($geoWithin operands)
type Region interface {
	ContainsPoint(p *Point) bool
	Bounds() *BoundingBox
}

// Point represents a geographic point [longitude, latitude] in degrees
type Point struct {
	Lon float64
	Lat float64
}

func NewPoint(lon, lat float64) *Point {
	return &Point{Lon: lon, Lat: lat}
}

func (p *Point) Type() GeometryType {
	return GeometryTypePoint
}

func (p *Point) Bounds() *BoundingBox {
	return &BoundingBox{MinLon: p.Lon, MinLat: p.Lat, MaxLon: p.Lon, MaxLat: p.Lat}
}

func (p *Point) Vertices() []Point {
	return []Point{*p}
}

// LineString is an open path
type LineString struct {
	Points []Point
}

func (l *LineString) Type() GeometryType {
	return GeometryTypeLineString
}

func (l *LineString) Bounds() *BoundingBox {
	return boundsOf(l.Points)
}

func (l *LineString) Vertices() []Point {
	return l.Points
}

// MultiPoint is a set of points
type MultiPoint struct {
	Points []Point
}

func (m *MultiPoint) Type() GeometryType {
	return GeometryTypeMultiPoint
}

func (m *MultiPoint) Bounds() *BoundingBox {
	return boundsOf(m.Points)
}

func (m *MultiPoint) Vertices() []Point {
	return m.Points
}

// Polygon represents a closed polygon
type Polygon struct {
	// Outer ring (first element) and holes (remaining elements)
	Rings [][]Point
}

func NewPolygon(rings [][]Point) *Polygon {
	return &Polygon{Rings: rings}
}

func (p *Polygon) Type() GeometryType {
	return GeometryTypePolygon
}

func (p *Polygon) Bounds() *BoundingBox {
	if len(p.Rings) == 0 {
		return nil
	}
	return boundsOf(p.Rings[0])
}

func (p *Polygon) Vertices() []Point {
	if len(p.Rings) == 0 {
		return nil
	}
	return p.Rings[0]
}

// ContainsPoint reports whether the point lies inside the outer ring and
// outside every hole
func (p *Polygon) ContainsPoint(pt *Point) bool {
	return PointInPolygon(pt, p)
}

func boundsOf(points []Point) *BoundingBox {
	if len(points) == 0 {
		return nil
	}
	bb := &BoundingBox{
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
	}
	for _, pt := range points[1:] {
		bb.MinLon = math.Min(bb.MinLon, pt.Lon)
		bb.MaxLon = math.Max(bb.MaxLon, pt.Lon)
		bb.MinLat = math.Min(bb.MinLat, pt.Lat)
		bb.MaxLat = math.Max(bb.MaxLat, pt.Lat)
	}
	return bb
}

// BoundingBox represents a rectangular bounding box ($box)
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Contains checks if a point is within the bounding box
func (bb *BoundingBox) Contains(p *Point) bool {
	return p.Lon >= bb.MinLon && p.Lon <= bb.MaxLon &&
		p.Lat >= bb.MinLat && p.Lat <= bb.MaxLat
}

func (bb *BoundingBox) ContainsPoint(p *Point) bool {
	return bb.Contains(p)
}

func (bb *BoundingBox) Bounds() *BoundingBox {
	return bb
}

// Intersects checks if two bounding boxes intersect
func (bb *BoundingBox) Intersects(other *BoundingBox) bool {
	return !(bb.MaxLon < other.MinLon || bb.MinLon > other.MaxLon ||
		bb.MaxLat < other.MinLat || bb.MinLat > other.MaxLat)
}

// Cap is a spherical cap: every point within Radius meters of Center
// ($centerSphere, $nearSphere).
type Cap struct {
	Center Point
	Radius float64
}

// NewCapRadians builds a cap from a radius expressed in radians
func NewCapRadians(center Point, radians float64) *Cap {
	return &Cap{Center: center, Radius: radians * EarthRadiusMeters}
}

func (c *Cap) ContainsPoint(p *Point) bool {
	return Distance(&c.Center, p) <= c.Radius
}

func (c *Cap) Bounds() *BoundingBox {
	return searchBox(&c.Center, c.Radius)
}

// Distance calculates the great-circle distance in meters between two
// points using the haversine formula
func Distance(p1, p2 *Point) float64 {
	lat1 := toRadians(p1.Lat)
	lat2 := toRadians(p2.Lat)
	deltaLat := toRadians(p2.Lat - p1.Lat)
	deltaLon := toRadians(p2.Lon - p1.Lon)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// DistanceTo returns the distance from p to the closest vertex of g,
// or zero when a polygon contains p
func DistanceTo(p *Point, g Geometry) float64 {
	if poly, ok := g.(*Polygon); ok && poly.ContainsPoint(p) {
		return 0
	}
	best := math.Inf(1)
	for _, v := range g.Vertices() {
		v := v
		if d := Distance(p, &v); d < best {
			best = d
		}
	}
	return best
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

// searchBox returns a lat/lon box enclosing every point within meters of center
func searchBox(center *Point, meters float64) *BoundingBox {
	latDelta := meters / 111320.0
	lonDelta := 360.0
	if cos := math.Cos(toRadians(center.Lat)); cos > 1e-6 {
		lonDelta = latDelta / cos
	}
	return &BoundingBox{
		MinLon: center.Lon - lonDelta,
		MaxLon: center.Lon + lonDelta,
		MinLat: center.Lat - latDelta,
		MaxLat: center.Lat + latDelta,
	}
}

// PointInPolygon checks if a point is inside a polygon using ray casting
func PointInPolygon(point *Point, polygon *Polygon) bool {
	if len(polygon.Rings) == 0 {
		return false
	}

	if !pointInRing(point, polygon.Rings[0]) {
		return false
	}

	// Points inside a hole are outside the polygon
	for i := 1; i < len(polygon.Rings); i++ {
		if pointInRing(point, polygon.Rings[i]) {
			return false
		}
	}

	return true
}

func pointInRing(point *Point, ring []Point) bool {
	if len(ring) < 3 {
		return false
	}

	inside := false
	j := len(ring) - 1

	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat

		intersect := ((yi > point.Lat) != (yj > point.Lat)) &&
			(point.Lon < (xj-xi)*(point.Lat-yi)/(yj-yi)+xi)

		if intersect {
			inside = !inside
		}

		j = i
	}

	return inside
}

// Within reports whether every vertex of g lies inside r
func Within(g Geometry, r Region) bool {
	vertices := g.Vertices()
	if len(vertices) == 0 {
		return false
	}
	for _, v := range vertices {
		v := v
		if !r.ContainsPoint(&v) {
			return false
		}
	}
	return true
}

// Intersects reports whether two geometries share at least one point
func Intersects(a, b Geometry) bool {
	ba, bb := a.Bounds(), b.Bounds()
	if ba == nil || bb == nil || !ba.Intersects(bb) {
		return false
	}

	if pa, ok := a.(*Polygon); ok {
		for _, v := range b.Vertices() {
			v := v
			if pa.ContainsPoint(&v) {
				return true
			}
		}
	}
	if pb, ok := b.(*Polygon); ok {
		for _, v := range a.Vertices() {
			v := v
			if pb.ContainsPoint(&v) {
				return true
			}
		}
	}

	ea, eb := edges(a), edges(b)
	for _, s := range ea {
		for _, t := range eb {
			if segmentsIntersect(s[0], s[1], t[0], t[1]) {
				return true
			}
		}
	}
	return false
}

// edges returns the segments of g; points are degenerate segments
func edges(g Geometry) [][2]Point {
	switch v := g.(type) {
	case *Point:
		return [][2]Point{{*v, *v}}
	case *MultiPoint:
		out := make([][2]Point, len(v.Points))
		for i, p := range v.Points {
			out[i] = [2]Point{p, p}
		}
		return out
	case *LineString:
		return chain(v.Points, false)
	case *Polygon:
		var out [][2]Point
		for _, ring := range v.Rings {
			out = append(out, chain(ring, true)...)
		}
		return out
	}
	return nil
}

func chain(points []Point, closed bool) [][2]Point {
	if len(points) == 1 {
		return [][2]Point{{points[0], points[0]}}
	}
	out := make([][2]Point, 0, len(points))
	for i := 0; i+1 < len(points); i++ {
		out = append(out, [2]Point{points[i], points[i+1]})
	}
	if closed && len(points) > 2 && points[0] != points[len(points)-1] {
		out = append(out, [2]Point{points[len(points)-1], points[0]})
	}
	return out
}

const epsilon = 1e-12

func orientation(a, b, c Point) int {
	v := (b.Lat-a.Lat)*(c.Lon-b.Lon) - (b.Lon-a.Lon)*(c.Lat-b.Lat)
	switch {
	case v > epsilon:
		return 1
	case v < -epsilon:
		return -1
	}
	return 0
}

func onSegment(a, b, p Point) bool {
	return p.Lon <= math.Max(a.Lon, b.Lon)+epsilon && p.Lon >= math.Min(a.Lon, b.Lon)-epsilon &&
		p.Lat <= math.Max(a.Lat, b.Lat)+epsilon && p.Lat >= math.Min(a.Lat, b.Lat)-epsilon
}

func segmentsIntersect(p1, q1, p2, q2 Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)

	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, q1, p2)) ||
		(o2 == 0 && onSegment(p1, q1, q2)) ||
		(o3 == 0 && onSegment(p2, q2, p1)) ||
		(o4 == 0 && onSegment(p2, q2, q1))
}
