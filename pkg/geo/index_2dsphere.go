package geo

import (
	"math"
	"sort"
	"sync"
)

// NearbyResult is one hit of a proximity search
type NearbyResult struct {
	DocID    string
	Geometry Geometry
	Distance float64 // meters
}

type cell struct {
	x, y int
}

// Index2DSphere indexes geometries on the sphere.
// Points are bucketed in a lat/lon grid; other shapes are kept in a
// side list and tested directly.
type Index2DSphere struct {
	mu sync.RWMutex

	gridSize float64 // degrees per grid cell

	grid   map[cell]map[string]*Point
	shapes map[string]Geometry
	docs   map[string]Geometry
}

// NewIndex2DSphere creates a new 2dsphere spherical index
func NewIndex2DSphere(gridSize float64) *Index2DSphere {
	if gridSize <= 0 {
		gridSize = 1.0
	}

	return &Index2DSphere{
		gridSize: gridSize,
		grid:     make(map[cell]map[string]*Point),
		shapes:   make(map[string]Geometry),
		docs:     make(map[string]Geometry),
	}
}

// Insert adds or replaces the geometry of a document
func (idx *Index2DSphere) Insert(docID string, g Geometry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(docID)

	if p, ok := g.(*Point); ok {
		c := idx.cellOf(p)
		if idx.grid[c] == nil {
			idx.grid[c] = make(map[string]*Point)
		}
		idx.grid[c][docID] = p
	} else {
		idx.shapes[docID] = g
	}
	idx.docs[docID] = g
}

// Remove removes a document from the index
func (idx *Index2DSphere) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

func (idx *Index2DSphere) removeLocked(docID string) {
	g, exists := idx.docs[docID]
	if !exists {
		return
	}
	if p, ok := g.(*Point); ok {
		c := idx.cellOf(p)
		if bucket, ok := idx.grid[c]; ok {
			delete(bucket, docID)
			if len(bucket) == 0 {
				delete(idx.grid, c)
			}
		}
	} else {
		delete(idx.shapes, docID)
	}
	delete(idx.docs, docID)
}

// Len returns the number of indexed documents
func (idx *Index2DSphere) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

func (idx *Index2DSphere) cellOf(p *Point) cell {
	return cell{
		x: int(math.Floor(p.Lon / idx.gridSize)),
		y: int(math.Floor(p.Lat / idx.gridSize)),
	}
}

func (idx *Index2DSphere) cellBox(c cell) *BoundingBox {
	return &BoundingBox{
		MinLon: float64(c.x) * idx.gridSize,
		MaxLon: float64(c.x+1) * idx.gridSize,
		MinLat: float64(c.y) * idx.gridSize,
		MaxLat: float64(c.y+1) * idx.gridSize,
	}
}

// candidates calls fn for every indexed geometry that may intersect box.
// A nil box visits everything.
func (idx *Index2DSphere) candidates(box *BoundingBox, fn func(docID string, g Geometry)) {
	for c, bucket := range idx.grid {
		if box != nil && !idx.cellBox(c).Intersects(box) {
			continue
		}
		for docID, p := range bucket {
			fn(docID, p)
		}
	}
	for docID, g := range idx.shapes {
		if box != nil {
			if b := g.Bounds(); b == nil || !b.Intersects(box) {
				continue
			}
		}
		fn(docID, g)
	}
}

// FindNear finds documents whose distance from center lies within
// [minMeters, maxMeters] (maxMeters <= 0 means unbounded), sorted by
// ascending distance then document id. limit <= 0 returns every hit.
func (idx *Index2DSphere) FindNear(center *Point, maxMeters, minMeters float64, limit int) []NearbyResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var box *BoundingBox
	if maxMeters > 0 && maxMeters < math.Pi*EarthRadiusMeters/2 {
		box = searchBox(center, maxMeters)
	}

	results := make([]NearbyResult, 0)
	idx.candidates(box, func(docID string, g Geometry) {
		d := DistanceTo(center, g)
		if maxMeters > 0 && d > maxMeters {
			return
		}
		if d < minMeters {
			return
		}
		results = append(results, NearbyResult{DocID: docID, Geometry: g, Distance: d})
	})

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].DocID < results[j].DocID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// FindWithin returns the ids of documents lying entirely inside region
func (idx *Index2DSphere) FindWithin(region Region) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]string, 0)
	idx.candidates(region.Bounds(), func(docID string, g Geometry) {
		if Within(g, region) {
			results = append(results, docID)
		}
	})
	sort.Strings(results)
	return results
}

// FindIntersecting returns the ids of documents sharing a point with g
func (idx *Index2DSphere) FindIntersecting(g Geometry) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]string, 0)
	idx.candidates(g.Bounds(), func(docID string, other Geometry) {
		if Intersects(g, other) {
			results = append(results, docID)
		}
	})
	sort.Strings(results)
	return results
}
