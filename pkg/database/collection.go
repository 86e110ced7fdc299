package database

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/index"
	"github.com/mnohosten/laura-core/pkg/metrics"
	"github.com/mnohosten/laura-core/pkg/query"
	"github.com/mnohosten/laura-core/pkg/schema"
)

// Collection represents a collection of documents.
//
// Stored documents are immutable: every write installs a new version, so
// documents handed to readers must be treated as read-only. Writers of one
// document are serialized by a striped per-document lock; the collection
// mutex is only held to commit a prepared change to the store and the
// indexes, or to take a snapshot.
type Collection struct {
	name string
	db   *Database

	mu      sync.Mutex // guards everything below
	data    *store
	indexes *index.Manager
	schema  *schema.Schema
	nextSeq uint64
	dropped bool

	locks       *keyLocks
	parallel    *query.ParallelExecutor
	parallelMin int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

func newCollection(name string, db *Database) *Collection {
	return &Collection{
		name:        name,
		db:          db,
		data:        newStore(),
		indexes:     index.NewManager(db.config.IndexLimits),
		locks:       newKeyLocks(db.config.LockStripes),
		parallel:    db.parallel,
		parallelMin: db.config.ParallelScanThreshold,
		logger:      db.logger.With(zap.String("collection", name)),
		metrics:     db.metrics,
	}
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Len returns the number of stored documents
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.len()
}

// Schema returns the validator attached to the collection, or nil
func (c *Collection) Schema() *schema.Schema {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schema
}

func (c *Collection) setSchema(s *schema.Schema) {
	c.mu.Lock()
	c.schema = s
	c.mu.Unlock()
}

// checkOpen must be called with c.mu held
func (c *Collection) checkOpen() error {
	if c.db.isClosed() {
		return ErrDatabaseClosed
	}
	if c.dropped {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, c.name)
	}
	return nil
}

// KeyOf returns the store key of an _id value: the hex string of an
// ObjectID, or the fmt rendering of any other value.
func KeyOf(id *document.Value) string {
	if oid, ok := id.Data.(document.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id.Interface())
}

// withID returns a private copy of src that starts with an _id
func withID(src *document.Document) (*document.Document, *document.Value) {
	if id, ok := src.ID(); ok {
		return src.Clone(), id
	}
	id := document.NewValue(document.NewObjectID())
	doc := document.NewDocument()
	doc.SetValue(document.IDField, id)
	for _, k := range src.Keys() {
		v, _ := src.GetValue(k)
		doc.SetValue(k, v.Clone())
	}
	return doc, id
}

// testHookValidated runs after a write passed schema validation and
// before it takes the collection lock
var testHookValidated func()

// Insert stores a document (map, document.D or *document.Document) and
// returns its key. A document without _id is given a new ObjectID. The
// document is validated against the collection schema and every unique
// index before anything is changed.
func (c *Collection) Insert(input interface{}) (string, error) {
	start := time.Now()
	key, err := c.insert(input)
	c.metrics.RecordWrite(c.name, "insert", time.Since(start), err)
	return key, err
}

func (c *Collection) insert(input interface{}) (string, error) {
	src, ok := document.FromAny(input)
	if !ok {
		return "", fmt.Errorf("%w: expected a document, got %T", ErrInvalidDocument, input)
	}
	doc, id := withID(src)
	key := KeyOf(id)

	defer c.locks.lock(key)()

	s := c.Schema()
	for {
		if err := schema.Validate(doc, s); err != nil {
			return "", err
		}
		if testHookValidated != nil {
			testHookValidated()
		}
		c.mu.Lock()
		if c.schema == s {
			break
		}
		// CollMod installed a new schema while we were validating
		s = c.schema
		c.mu.Unlock()
	}
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	if existing, ok := c.data.get(key); ok {
		return "", &index.DuplicateKeyError{Index: index.IDIndexName, Key: key, Existing: existing.key}
	}
	if err := c.indexes.Insert(key, doc); err != nil {
		return "", err
	}
	c.nextSeq++
	c.data.put(&record{seq: c.nextSeq, key: key, doc: doc})
	return key, nil
}

// InsertMany inserts documents in order and stops at the first failure.
// Documents inserted before the failure stay inserted; their keys are
// returned along with the error.
func (c *Collection) InsertMany(docs []interface{}) ([]string, error) {
	keys := make([]string, 0, len(docs))
	for i, doc := range docs {
		key, err := c.Insert(doc)
		if err != nil {
			return keys, fmt.Errorf("document %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Get returns the document stored under key
func (c *Collection) Get(key string) (*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	r, ok := c.data.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	return r.doc, nil
}

// Update applies patch to the document stored under key. The patch is
// either a replacement document (the _id is kept) or a document of
// update operators. Nothing changes when the result fails validation or
// a unique index.
func (c *Collection) Update(key string, patch interface{}) error {
	start := time.Now()
	err := c.update(key, patch)
	c.metrics.RecordWrite(c.name, "update", time.Since(start), err)
	return err
}

func (c *Collection) update(key string, patch interface{}) error {
	p, ok := document.FromAny(patch)
	if !ok {
		return fmt.Errorf("%w: expected a document, got %T", ErrInvalidUpdate, patch)
	}
	u, err := parseUpdate(p)
	if err != nil {
		return err
	}

	defer c.locks.lock(key)()

	for {
		c.mu.Lock()
		if err := c.checkOpen(); err != nil {
			c.mu.Unlock()
			return err
		}
		cur, ok := c.data.get(key)
		s := c.schema
		c.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
		}

		next, err := u.apply(cur.doc)
		if err != nil {
			return err
		}
		if err := schema.Validate(next, s); err != nil {
			return err
		}
		if testHookValidated != nil {
			testHookValidated()
		}

		c.mu.Lock()
		latest, ok := c.data.get(key)
		if !ok || latest != cur || c.schema != s {
			// replaced wholesale by $out, or given a new schema by
			// CollMod, while we were computing
			c.mu.Unlock()
			continue
		}
		if err := c.indexes.Update(key, cur.doc, next); err != nil {
			c.mu.Unlock()
			return err
		}
		c.data.put(&record{seq: cur.seq, key: key, doc: next})
		c.mu.Unlock()
		return nil
	}
}

// Delete removes the document stored under key
func (c *Collection) Delete(key string) error {
	start := time.Now()
	err := c.delete(key)
	c.metrics.RecordWrite(c.name, "delete", time.Since(start), err)
	return err
}

func (c *Collection) delete(key string) error {
	defer c.locks.lock(key)()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	r, ok := c.data.get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	c.indexes.Delete(key, r.doc)
	c.data.remove(r)
	return nil
}

// Scan returns every document in insertion order. Each iteration reads
// from a fresh snapshot, so the sequence can be ranged over repeatedly
// and never observes a write that happens mid-iteration.
func (c *Collection) Scan() iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		c.mu.Lock()
		data := c.data.clone()
		c.mu.Unlock()
		data.seqs.Ascend(func(r *record) bool {
			return yield(r.doc)
		})
	}
}

// snapshot returns a consistent view of the documents and indexes
func (c *Collection) snapshot() (*snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &snapshot{store: c.data.clone(), indexes: c.indexes.Snapshot()}, nil
}

// CreateIndex builds an index over the existing documents. spec is an
// index.Descriptor or a document in the createIndexes shape
// ({key: {...}, name, unique, ...}). It returns the index name.
func (c *Collection) CreateIndex(spec interface{}) (string, error) {
	var desc index.Descriptor
	switch s := spec.(type) {
	case index.Descriptor:
		desc = s
	case *index.Descriptor:
		desc = *s
	default:
		d, err := index.ParseDescriptor(spec)
		if err != nil {
			return "", err
		}
		desc = *d
	}
	if desc.Kind() == index.KindText && desc.DefaultLanguage == "" {
		desc.DefaultLanguage = c.db.config.TextLanguage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	start := time.Now()
	idx, err := c.indexes.Create(desc, (&snapshot{store: c.data}).entries())
	if err != nil {
		return "", err
	}
	name := idx.Descriptor().Name
	c.logger.Info("index created",
		zap.String("index", name),
		zap.String("kind", idx.Descriptor().Kind().String()),
		zap.Int("documents", c.data.len()),
		zap.Duration("took", time.Since(start)))
	return name, nil
}

// DropIndex removes a named index
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.indexes.Drop(name); err != nil {
		return err
	}
	c.logger.Info("index dropped", zap.String("index", name))
	return nil
}

// ListIndexes returns the index descriptors in creation order, _id_ first
func (c *Collection) ListIndexes() []index.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexes.List()
}

// Stats returns collection statistics
func (c *Collection) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, c.indexes.Len())
	for _, d := range c.indexes.List() {
		names = append(names, d.Name)
	}
	return map[string]interface{}{
		"name":          c.name,
		"count":         c.data.len(),
		"indexes":       names,
		"index_details": c.indexes.Stats(),
		"validator":     c.schema != nil,
	}
}

// replaceAll swaps the whole contents of the collection for docs. The
// new contents are validated and indexed off to the side with the same
// index descriptors; the collection is only touched when all of them
// succeed.
func (c *Collection) replaceAll(docs []*document.Document) error {
	c.mu.Lock()
	descs := c.indexes.List()
	s := c.schema
	limits := c.indexes.Limits()
	c.mu.Unlock()

	mgr := index.NewManager(limits)
	for _, d := range descs {
		if d.Name == index.IDIndexName {
			continue
		}
		if _, err := mgr.Create(d, nil); err != nil {
			return err
		}
	}

	data := newStore()
	var seq uint64
	for i, src := range docs {
		doc, id := withID(src)
		if err := schema.Validate(doc, s); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		key := KeyOf(id)
		if existing, ok := data.get(key); ok {
			return &index.DuplicateKeyError{Index: index.IDIndexName, Key: key, Existing: existing.key}
		}
		if err := mgr.Insert(key, doc); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		seq++
		data.put(&record{seq: seq, key: key, doc: doc})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.data, c.indexes, c.nextSeq = data, mgr, seq
	return nil
}
