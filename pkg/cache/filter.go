// Package cache keeps compiled query filters so that repeated finds with
// the same filter skip compilation.
package cache

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/query"
)

// Recorder observes cache lookups; *metrics.Collector satisfies it
type Recorder interface {
	RecordFilterCache(hit bool)
}

// Stats is a snapshot of the cache counters
type Stats struct {
	Capacity  int
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// FilterCache is an LRU of compiled filters keyed by the canonical
// extended JSON of the filter document (see cacheKey). A nil *FilterCache compiles every
// filter.
type FilterCache struct {
	entries  *lru.Cache[string, *query.Filter]
	capacity int
	recorder Recorder

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewFilterCache creates a cache holding up to capacity filters. A
// capacity of 0 or less returns nil, which disables caching.
func NewFilterCache(capacity int, recorder Recorder) (*FilterCache, error) {
	if capacity <= 0 {
		return nil, nil
	}
	c := &FilterCache{capacity: capacity, recorder: recorder}
	entries, err := lru.NewWithEvict(capacity, func(string, *query.Filter) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Compile returns the compiled form of spec, reusing a cached filter when
// an identical one was compiled before. Filters that fail to compile are
// not cached. The cached filter is compiled from a copy of spec, so
// callers may keep mutating the document they passed in.
func (c *FilterCache) Compile(spec interface{}) (*query.Filter, error) {
	if c == nil || spec == nil {
		return query.Compile(spec)
	}
	doc, ok := document.FromAny(spec)
	if !ok {
		return query.Compile(spec)
	}
	key, err := cacheKey(doc)
	if err != nil {
		return query.Compile(spec)
	}

	if f, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		c.record(true)
		return f, nil
	}
	c.misses.Add(1)
	c.record(false)

	f, err := query.Compile(doc.Clone())
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, f)
	return f, nil
}

// cacheKey renders a filter as extended JSON with the fields of every
// conjunction sorted: the top level, operator documents such as
// {"$gte": 1, "$lt": 9}, and the clauses of $and, $or and $nor. Clause
// order and plain sub-documents keep their order, since equality on an
// embedded document is order sensitive.
func cacheKey(doc *document.Document) (string, error) {
	var buf bytes.Buffer
	if err := writeConjunction(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeConjunction(buf *bytes.Buffer, doc *document.Document) error {
	keys := slices.Sorted(slices.Values(doc.Keys()))
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(name)
		buf.WriteByte(':')
		v, _ := doc.GetValue(k)
		if err := writeFilterValue(buf, k, v); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeFilterValue(buf *bytes.Buffer, key string, v *document.Value) error {
	switch key {
	case "$and", "$or", "$nor":
		if clauses, ok := v.Array(); ok {
			buf.WriteByte('[')
			for i, clause := range clauses {
				if i > 0 {
					buf.WriteByte(',')
				}
				sub, ok := clause.Doc()
				if !ok {
					if err := writeRaw(buf, clause); err != nil {
						return err
					}
					continue
				}
				if err := writeConjunction(buf, sub); err != nil {
					return err
				}
			}
			buf.WriteByte(']')
			return nil
		}
	}
	if sub, ok := v.Doc(); ok && isOperators(sub) {
		return writeConjunction(buf, sub)
	}
	return writeRaw(buf, v)
}

func writeRaw(buf *bytes.Buffer, v *document.Value) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	buf.Write(raw)
	return nil
}

// isOperators reports whether every field of doc is an operator
func isOperators(doc *document.Document) bool {
	keys := doc.Keys()
	for _, k := range keys {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return len(keys) > 0
}

func (c *FilterCache) record(hit bool) {
	if c.recorder != nil {
		c.recorder.RecordFilterCache(hit)
	}
}

// Purge drops every cached filter
func (c *FilterCache) Purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

// Stats returns the cache counters
func (c *FilterCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Capacity:  c.capacity,
		Size:      c.entries.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
