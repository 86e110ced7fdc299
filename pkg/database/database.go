package database

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mnohosten/laura-core/pkg/cache"
	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/index"
	"github.com/mnohosten/laura-core/pkg/logging"
	"github.com/mnohosten/laura-core/pkg/metrics"
	"github.com/mnohosten/laura-core/pkg/query"
	"github.com/mnohosten/laura-core/pkg/schema"
)

// Database represents a database instance: a set of named in-memory
// collections sharing a worker pool, a TTL sweeper, a logger and metrics.
type Database struct {
	name        string
	config      Config
	collections map[string]*Collection
	mu          sync.RWMutex
	closed      atomic.Bool

	parallel *query.ParallelExecutor
	filters  *cache.FilterCache
	sweeper  *Sweeper
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Config holds database configuration
type Config struct {
	Name string

	// IndexLimits bounds the indexes of each collection
	IndexLimits index.Limits

	// LockStripes is the number of per-document lock stripes per collection
	LockStripes int

	// ParallelScanThreshold is the collection size from which full scans
	// filter on the worker pool; 0 disables parallel scans
	ParallelScanThreshold int
	ParallelWorkers       int // 0 means NumCPU
	ParallelBatchSize     int

	// TTLInterval is the period of the TTL sweeper
	TTLInterval time.Duration

	// FilterCacheSize is the number of compiled filters kept for reuse;
	// 0 disables the cache
	FilterCacheSize int

	// TextLanguage is the default_language of text indexes that name none
	TextLanguage string

	// Clock returns the current time for TTL expiry; defaults to time.Now
	Clock func() time.Time

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:                  "default",
		IndexLimits:           index.DefaultLimits(),
		LockStripes:           256,
		ParallelScanThreshold: 1000,
		FilterCacheSize:       256,
		TTLInterval:           60 * time.Second,
	}
}

// Open creates a database
func Open(config *Config) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.TTLInterval <= 0 {
		cfg.TTLInterval = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	db := &Database{
		name:        cfg.Name,
		config:      cfg,
		collections: make(map[string]*Collection),
		logger:      logging.OrNop(cfg.Logger).With(zap.String("database", cfg.Name)),
		metrics:     cfg.Metrics,
	}

	filters, err := cache.NewFilterCache(cfg.FilterCacheSize, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter cache: %w", err)
	}
	db.filters = filters

	if cfg.ParallelScanThreshold > 0 {
		p, err := query.NewParallelExecutor(&query.ParallelConfig{
			MinDocsForParallel: cfg.ParallelScanThreshold,
			MaxWorkers:         cfg.ParallelWorkers,
			BatchSize:          cfg.ParallelBatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create scan worker pool: %w", err)
		}
		db.parallel = p
	}
	db.sweeper = NewSweeper(db, cfg.TTLInterval, cfg.Clock)
	return db, nil
}

// Name returns the database name
func (db *Database) Name() string {
	return db.name
}

func (db *Database) isClosed() bool {
	return db.closed.Load()
}

// TTL returns the sweeper that expires documents of TTL indexes. It is
// not running until Start is called.
func (db *Database) TTL() *Sweeper {
	return db.sweeper
}

// CollectionOption configures CreateCollection and CollMod
type CollectionOption func(*collectionOptions)

type collectionOptions struct {
	schemaSpec interface{}
	setSchema  bool
}

// WithSchema attaches a validator, {"$jsonSchema": {...}} or a bare
// schema document. A nil spec removes the validator.
func WithSchema(spec interface{}) CollectionOption {
	return func(o *collectionOptions) {
		o.schemaSpec, o.setSchema = spec, true
	}
}

func (o *collectionOptions) schema() (*schema.Schema, error) {
	if o.schemaSpec == nil {
		return nil, nil
	}
	if s, ok := o.schemaSpec.(*schema.Schema); ok {
		return s, nil
	}
	return schema.Parse(o.schemaSpec)
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "$\x00") || strings.HasPrefix(name, "system.") {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Collection returns a collection, creating it if it doesn't exist
func (db *Database) Collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	if coll, exists := db.collections[name]; exists {
		return coll
	}
	coll := newCollection(name, db)
	db.collections[name] = coll
	db.metrics.SetCollections(len(db.collections))
	return coll
}

// GetCollection returns an existing collection
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.isClosed() {
		return nil, ErrDatabaseClosed
	}
	coll, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return coll, nil
}

// CreateCollection explicitly creates a collection
func (db *Database) CreateCollection(name string, opts ...CollectionOption) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	var o collectionOptions
	for _, opt := range opts {
		opt(&o)
	}
	s, err := o.schema()
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.isClosed() {
		return nil, ErrDatabaseClosed
	}
	if _, exists := db.collections[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	coll := newCollection(name, db)
	coll.schema = s
	db.collections[name] = coll
	db.metrics.SetCollections(len(db.collections))
	db.logger.Info("collection created", zap.String("collection", name), zap.Bool("validator", s != nil))
	return coll, nil
}

// CollMod changes the options of an existing collection. A new schema
// applies to later writes; stored documents are not revalidated.
func (db *Database) CollMod(name string, opts ...CollectionOption) error {
	coll, err := db.GetCollection(name)
	if err != nil {
		return err
	}
	var o collectionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.setSchema {
		return nil
	}
	s, err := o.schema()
	if err != nil {
		return err
	}
	coll.setSchema(s)
	db.logger.Info("collection modified", zap.String("collection", name), zap.Bool("validator", s != nil))
	return nil
}

// DropCollection drops a collection. Later operations on a dropped
// collection handle fail with ErrCollectionNotFound.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.isClosed() {
		return ErrDatabaseClosed
	}
	coll, exists := db.collections[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	coll.mu.Lock()
	coll.dropped = true
	coll.mu.Unlock()
	delete(db.collections, name)
	db.metrics.SetCollections(len(db.collections))
	db.logger.Info("collection dropped", zap.String("collection", name))
	return nil
}

// ListCollections returns all collection names in sorted order
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.sortedNamesLocked()
}

// collectionsSnapshot returns the live collections
func (db *Database) collectionsSnapshot() []*Collection {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]*Collection, 0, len(db.collections))
	for _, name := range db.sortedNamesLocked() {
		out = append(out, db.collections[name])
	}
	return out
}

func (db *Database) sortedNamesLocked() []string {
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReplaceCollection sets the contents of the named collection to docs,
// creating the collection when needed. The documents are checked against
// the collection schema and unique indexes first; on any failure the
// collection is left as it was. It is the $out target of pipelines.
func (db *Database) ReplaceCollection(name string, docs []*document.Document) error {
	if err := validateName(name); err != nil {
		return err
	}
	if db.isClosed() {
		return ErrDatabaseClosed
	}
	coll := db.Collection(name)
	if err := coll.replaceAll(docs); err != nil {
		return err
	}
	db.logger.Debug("collection replaced", zap.String("collection", name), zap.Int("documents", len(docs)))
	return nil
}

// Close stops the TTL sweeper and the worker pool. Operations on a closed
// database fail with ErrDatabaseClosed.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.sweeper.Stop()
	if db.parallel != nil {
		db.parallel.Release()
	}
	db.logger.Info("database closed")
	return nil
}

// Stats returns database statistics
func (db *Database) Stats() map[string]interface{} {
	collectionStats := make(map[string]interface{})
	for _, coll := range db.collectionsSnapshot() {
		collectionStats[coll.Name()] = coll.Stats()
	}
	return map[string]interface{}{
		"name":             db.name,
		"collections":      len(collectionStats),
		"collection_stats": collectionStats,
		"filter_cache":     db.filters.Stats(),
	}
}
