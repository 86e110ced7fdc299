package index

import (
	"github.com/google/btree"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/query"
)

const btreeDegree = 32

type entry struct {
	key CompositeKey
	id  string
}

// OrderedIndex is a single-field or compound index over a B-tree of
// (key, document id) entries. It is not safe for concurrent writers;
// readers work on a Clone.
type OrderedIndex struct {
	desc    Descriptor
	fields  []string
	dirs    []int
	partial *query.Filter
	tree    *btree.BTreeG[entry]
	ttl     *TTLTracker
}

func newOrderedIndex(desc Descriptor, partial *query.Filter) *OrderedIndex {
	idx := &OrderedIndex{
		desc:    desc,
		fields:  desc.Fields(),
		dirs:    make([]int, len(desc.Keys)),
		partial: partial,
	}
	for i, k := range desc.Keys {
		idx.dirs[i] = k.Direction
	}
	idx.tree = btree.NewG(btreeDegree, idx.less)
	if desc.IsTTL() {
		idx.ttl = NewTTLTracker(desc.Fields()[0], *desc.ExpireAfterSeconds)
	}
	return idx
}

func (idx *OrderedIndex) less(a, b entry) bool {
	if c := compareKeys(a.key, b.key, idx.dirs); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

// Descriptor returns the index descriptor
func (idx *OrderedIndex) Descriptor() Descriptor {
	return idx.desc
}

// Len returns the number of entries (multikey documents count once per key)
func (idx *OrderedIndex) Len() int {
	return idx.tree.Len()
}

// Covers reports whether doc belongs in the index under its partial filter
func (idx *OrderedIndex) Covers(doc *document.Document) bool {
	return idx.partial == nil || idx.partial.Matches(doc)
}

// Partial returns the compiled partial filter, or nil
func (idx *OrderedIndex) Partial() *query.Filter {
	return idx.partial
}

// TTL returns the expiry tracker of a TTL index, or nil
func (idx *OrderedIndex) TTL() *TTLTracker {
	return idx.ttl
}

func (idx *OrderedIndex) keys(doc *document.Document) []CompositeKey {
	if !idx.Covers(doc) {
		return nil
	}
	return extractKeys(doc, idx.fields)
}

// check reports a unique-constraint violation for storing doc under id
func (idx *OrderedIndex) check(id string, doc *document.Document) error {
	if !idx.desc.Unique {
		return nil
	}
	for _, k := range idx.keys(doc) {
		if other, ok := idx.holder(k, id); ok {
			return &DuplicateKeyError{Index: idx.desc.Name, Key: k.String(), Existing: other}
		}
	}
	return nil
}

// holder returns a document other than id stored under key
func (idx *OrderedIndex) holder(key CompositeKey, id string) (string, bool) {
	var found string
	idx.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if compareKeys(e.key, key, idx.dirs) != 0 {
			return false
		}
		if e.id != id {
			found = e.id
			return false
		}
		return true
	})
	return found, found != ""
}

func (idx *OrderedIndex) add(id string, doc *document.Document) {
	for _, k := range idx.keys(doc) {
		idx.tree.ReplaceOrInsert(entry{key: k, id: id})
	}
}

func (idx *OrderedIndex) remove(id string, doc *document.Document) {
	for _, k := range idx.keys(doc) {
		idx.tree.Delete(entry{key: k, id: id})
	}
}

// clone returns a lazily copied index for lock-free reads
func (idx *OrderedIndex) clone() *OrderedIndex {
	c := *idx
	c.tree = idx.tree.Clone()
	return &c
}

// Bounds restricts a scan: Equal fixes the leading fields, then either
// In lists point values for the next field or Lower / Upper bound it.
type Bounds struct {
	Equal []*document.Value
	In    []*document.Value
	Lower *Bound
	Upper *Bound
}

// Bound is one end of a range
type Bound struct {
	Value     *document.Value
	Inclusive bool
}

// Scan returns the ids of entries within b, deduplicated, in index order
func (idx *OrderedIndex) Scan(b Bounds) []string {
	seen := make(map[string]bool)
	var out []string
	emit := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	prefix := CompositeKey(b.Equal)
	if len(b.In) > 0 {
		for _, v := range b.In {
			point := append(append(CompositeKey{}, prefix...), v)
			idx.ascendPrefix(point, func(e entry) bool {
				emit(e.id)
				return true
			})
		}
		return out
	}

	pos := len(prefix)
	if pos >= len(idx.fields) || (b.Lower == nil && b.Upper == nil) {
		idx.ascendPrefix(prefix, func(e entry) bool {
			emit(e.id)
			return true
		})
		return out
	}

	desc := idx.dirs[pos] < 0
	start := prefix
	if !desc && b.Lower != nil {
		start = append(append(CompositeKey{}, prefix...), b.Lower.Value)
	}
	if desc && b.Upper != nil {
		start = append(append(CompositeKey{}, prefix...), b.Upper.Value)
	}
	idx.tree.AscendGreaterOrEqual(entry{key: start}, func(e entry) bool {
		if !e.key.HasPrefix(prefix) {
			return false
		}
		v := e.key[pos]
		if b.Lower != nil {
			c := document.Compare(v, b.Lower.Value)
			if c < 0 || (c == 0 && !b.Lower.Inclusive) {
				// past the far end when descending
				return !desc || c == 0
			}
		}
		if b.Upper != nil {
			c := document.Compare(v, b.Upper.Value)
			if c > 0 || (c == 0 && !b.Upper.Inclusive) {
				return desc || c == 0
			}
		}
		emit(e.id)
		return true
	})
	return out
}

func (idx *OrderedIndex) ascendPrefix(prefix CompositeKey, fn func(entry) bool) {
	idx.tree.AscendGreaterOrEqual(entry{key: prefix}, func(e entry) bool {
		if !e.key.HasPrefix(prefix) {
			return false
		}
		return fn(e)
	})
}

// Stats summarizes the index contents
func (idx *OrderedIndex) Stats() *IndexStats {
	stats := &IndexStats{}
	var prev CompositeKey
	idx.tree.Ascend(func(e entry) bool {
		stats.TotalEntries++
		if prev == nil || compareKeys(prev, e.key, idx.dirs) != 0 {
			stats.UniqueKeys++
		}
		if stats.MinKey == nil {
			stats.MinKey = e.key
		}
		stats.MaxKey = e.key
		prev = e.key
		return true
	})
	return stats
}
