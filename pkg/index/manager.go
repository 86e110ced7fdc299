package index

import (
	"fmt"
	"iter"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/query"
)

// Index is implemented by the ordered, text and geo indexes
type Index interface {
	Descriptor() Descriptor
	Len() int
	add(id string, doc *document.Document)
	remove(id string, doc *document.Document)
}

// checker is implemented by indexes that can reject a write
type checker interface {
	check(id string, doc *document.Document) error
}

// Manager owns the indexes of one collection and keeps them in step with
// the documents. It is not safe for concurrent use; the collection
// serializes writers and hands readers a Snapshot.
type Manager struct {
	limits  Limits
	indexes []Index
	byName  map[string]Index
	text    *TextIndex
}

// NewManager creates a manager holding the implicit unique _id_ index
func NewManager(limits Limits) *Manager {
	m := &Manager{
		limits: limits.withDefaults(),
		byName: make(map[string]Index),
	}
	id := newOrderedIndex(Descriptor{
		Name:   IDIndexName,
		Keys:   []Key{{Field: document.IDField, Direction: 1}},
		Unique: true,
	}, nil)
	m.indexes = append(m.indexes, id)
	m.byName[IDIndexName] = id
	return m
}

// Limits returns the effective limits
func (m *Manager) Limits() Limits {
	return m.limits
}

// Create builds a new index over docs. The index is only installed when
// every existing document could be indexed.
func (m *Manager) Create(desc Descriptor, docs iter.Seq2[string, *document.Document]) (Index, error) {
	desc.Keys = append([]Key(nil), desc.Keys...)
	if err := desc.normalize(); err != nil {
		return nil, err
	}
	if _, exists := m.byName[desc.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexExists, desc.Name)
	}
	if desc.Kind() == KindText && m.text != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTextIndex, m.text.desc.Name)
	}
	if err := m.limits.check(&desc, len(m.indexes)); err != nil {
		return nil, err
	}

	var partial *query.Filter
	if len(desc.PartialFilter) > 0 {
		f, err := query.Compile(desc.PartialFilter)
		if err != nil {
			return nil, fmt.Errorf("%w: partialFilterExpression: %v", ErrInvalidIndex, err)
		}
		partial = f
	}

	var idx Index
	switch desc.Kind() {
	case KindText:
		ti, err := newTextIndex(desc, partial)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidIndex, err)
		}
		idx = ti
	case KindGeo:
		idx = newGeoIndex(desc, partial)
	default:
		idx = newOrderedIndex(desc, partial)
	}

	if docs != nil {
		for id, doc := range docs {
			if c, ok := idx.(checker); ok {
				if err := c.check(id, doc); err != nil {
					return nil, err
				}
			}
			idx.add(id, doc)
		}
	}

	m.indexes = append(m.indexes, idx)
	m.byName[desc.Name] = idx
	if ti, ok := idx.(*TextIndex); ok {
		m.text = ti
	}
	return idx, nil
}

// Drop removes a named index. The _id_ index cannot be dropped.
func (m *Manager) Drop(name string) error {
	if name == IDIndexName {
		return fmt.Errorf("%w: cannot drop %s", ErrInvalidIndex, IDIndexName)
	}
	idx, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	delete(m.byName, name)
	for i, other := range m.indexes {
		if other == idx {
			m.indexes = append(m.indexes[:i:i], m.indexes[i+1:]...)
			break
		}
	}
	if idx == Index(m.text) {
		m.text = nil
	}
	return nil
}

// Get returns a named index
func (m *Manager) Get(name string) (Index, bool) {
	idx, ok := m.byName[name]
	return idx, ok
}

// List returns the descriptors in creation order
func (m *Manager) List() []Descriptor {
	out := make([]Descriptor, len(m.indexes))
	for i, idx := range m.indexes {
		out[i] = idx.Descriptor()
	}
	return out
}

// Len returns the number of indexes, _id_ included
func (m *Manager) Len() int {
	return len(m.indexes)
}

// Text returns the text index, or nil
func (m *Manager) Text() *TextIndex {
	return m.text
}

// Geo returns the 2dsphere index on field, or nil
func (m *Manager) Geo(field string) *GeoIndex {
	for _, idx := range m.indexes {
		if gi, ok := idx.(*GeoIndex); ok && gi.field == field {
			return gi
		}
	}
	return nil
}

// GeoIndexes returns every 2dsphere index
func (m *Manager) GeoIndexes() []*GeoIndex {
	var out []*GeoIndex
	for _, idx := range m.indexes {
		if gi, ok := idx.(*GeoIndex); ok {
			out = append(out, gi)
		}
	}
	return out
}

// TTLIndexes returns the ordered indexes that expire documents
func (m *Manager) TTLIndexes() []*OrderedIndex {
	var out []*OrderedIndex
	for _, idx := range m.indexes {
		if oi, ok := idx.(*OrderedIndex); ok && oi.ttl != nil {
			out = append(out, oi)
		}
	}
	return out
}

// Check validates a write of doc under id against every index without
// changing anything
func (m *Manager) Check(id string, doc *document.Document) error {
	for _, idx := range m.indexes {
		if c, ok := idx.(checker); ok {
			if err := c.check(id, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Insert indexes a new document. Constraints are checked before any
// index is touched.
func (m *Manager) Insert(id string, doc *document.Document) error {
	if err := m.Check(id, doc); err != nil {
		return err
	}
	for _, idx := range m.indexes {
		idx.add(id, doc)
	}
	m.track(id, doc)
	return nil
}

// Update replaces the index entries of id from old to doc
func (m *Manager) Update(id string, old, doc *document.Document) error {
	if err := m.Check(id, doc); err != nil {
		return err
	}
	for _, idx := range m.indexes {
		idx.remove(id, old)
		idx.add(id, doc)
	}
	m.track(id, doc)
	return nil
}

// Delete removes the index entries of id
func (m *Manager) Delete(id string, doc *document.Document) {
	for _, idx := range m.indexes {
		idx.remove(id, doc)
		if oi, ok := idx.(*OrderedIndex); ok && oi.ttl != nil {
			oi.ttl.Remove(id)
		}
	}
}

// track feeds TTL trackers; only writes after index creation reach here
func (m *Manager) track(id string, doc *document.Document) {
	for _, oi := range m.TTLIndexes() {
		if oi.Covers(doc) {
			oi.ttl.Track(id, doc)
		} else {
			oi.ttl.Remove(id)
		}
	}
}

// Snapshot returns a read-only view whose ordered indexes are lazily
// copied. It must be taken while no writer is active.
func (m *Manager) Snapshot() *Manager {
	s := &Manager{
		limits:  m.limits,
		indexes: make([]Index, len(m.indexes)),
		byName:  make(map[string]Index, len(m.byName)),
		text:    m.text,
	}
	for i, idx := range m.indexes {
		if oi, ok := idx.(*OrderedIndex); ok {
			idx = oi.clone()
		}
		s.indexes[i] = idx
		s.byName[idx.Descriptor().Name] = idx
	}
	return s
}
