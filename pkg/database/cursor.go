package database

import (
	"iter"
	"sync"

	"github.com/mnohosten/laura-core/pkg/document"
)

// Cursor iterates over query results. Documents are produced lazily from
// the snapshot the query was planned on; Close releases the iteration
// early. A cursor is not safe for concurrent use.
type Cursor struct {
	next     func() (*document.Document, bool)
	stop     func()
	peeked   *document.Document
	hasPeek  bool
	position int
	done     bool
	onClose  func(returned int)
	once     sync.Once
}

func newCursor(seq iter.Seq[*document.Document], onClose func(int)) *Cursor {
	next, stop := iter.Pull(seq)
	return &Cursor{next: next, stop: stop, onClose: onClose}
}

// HasNext reports whether another document is available
func (c *Cursor) HasNext() bool {
	if c.hasPeek {
		return true
	}
	if c.done {
		return false
	}
	doc, ok := c.next()
	if !ok {
		c.Close()
		return false
	}
	c.peeked, c.hasPeek = doc, true
	return true
}

// Next returns the next document, or ErrCursorExhausted
func (c *Cursor) Next() (*document.Document, error) {
	if !c.HasNext() {
		return nil, ErrCursorExhausted
	}
	doc := c.peeked
	c.peeked, c.hasPeek = nil, false
	c.position++
	return doc, nil
}

// NextBatch returns up to n documents. An empty batch means the cursor is
// exhausted.
func (c *Cursor) NextBatch(n int) []*document.Document {
	batch := make([]*document.Document, 0, n)
	for len(batch) < n && c.HasNext() {
		doc, _ := c.Next()
		batch = append(batch, doc)
	}
	return batch
}

// All drains the remaining documents and closes the cursor
func (c *Cursor) All() []*document.Document {
	out := make([]*document.Document, 0)
	for c.HasNext() {
		doc, _ := c.Next()
		out = append(out, doc)
	}
	c.Close()
	return out
}

// Documents returns the remaining documents as a sequence
func (c *Cursor) Documents() iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		for c.HasNext() {
			doc, _ := c.Next()
			if !yield(doc) {
				return
			}
		}
	}
}

// Position returns the number of documents returned so far
func (c *Cursor) Position() int {
	return c.position
}

// IsExhausted reports whether the cursor is closed or drained
func (c *Cursor) IsExhausted() bool {
	return c.done && !c.hasPeek
}

// Close stops the underlying iteration and drops a peeked document. It
// is safe to call more than once.
func (c *Cursor) Close() {
	c.once.Do(func() {
		c.done = true
		c.peeked, c.hasPeek = nil, false
		c.stop()
		if c.onClose != nil {
			c.onClose(c.position)
		}
	})
}
