package query

import (
	"iter"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/mnohosten/laura-core/pkg/document"
)

// ParallelConfig holds configuration for parallel query execution
type ParallelConfig struct {
	// MinDocsForParallel is the collection size from which scans filter in parallel
	MinDocsForParallel int
	// MaxWorkers is the maximum number of parallel workers (0 = NumCPU)
	MaxWorkers int
	// BatchSize is the number of documents pulled from the source per round
	BatchSize int
	// ChunkSize is the number of documents per worker task
	ChunkSize int
}

// DefaultParallelConfig returns a sensible default configuration
func DefaultParallelConfig() *ParallelConfig {
	return &ParallelConfig{
		MinDocsForParallel: 1000,
		MaxWorkers:         0,
		BatchSize:          4096,
		ChunkSize:          256,
	}
}

// ParallelExecutor filters large scans on a bounded worker pool
type ParallelExecutor struct {
	pool   *ants.Pool
	config ParallelConfig
}

// NewParallelExecutor creates the worker pool
func NewParallelExecutor(config *ParallelConfig) (*ParallelExecutor, error) {
	if config == nil {
		config = DefaultParallelConfig()
	}
	cfg := *config
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4096
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256
	}
	pool, err := ants.NewPool(cfg.MaxWorkers)
	if err != nil {
		return nil, err
	}
	return &ParallelExecutor{pool: pool, config: cfg}, nil
}

// Config returns the effective configuration
func (e *ParallelExecutor) Config() ParallelConfig {
	return e.config
}

// Release stops the worker pool
func (e *ParallelExecutor) Release() {
	e.pool.Release()
}

// Execute behaves like the package-level Execute but filters each batch
// of candidates concurrently. Output order equals candidate order, and
// the source is only pulled one batch ahead of the consumer.
func (e *ParallelExecutor) Execute(candidates iter.Seq[*document.Document], q *Query) iter.Seq[*document.Document] {
	matched := func(yield func(*document.Document) bool) {
		batch := make([]*document.Document, 0, e.config.BatchSize)
		flush := func() bool {
			for _, doc := range e.filterBatch(batch, q) {
				if !yield(doc) {
					return false
				}
			}
			batch = batch[:0]
			return true
		}
		for doc := range candidates {
			batch = append(batch, doc)
			if len(batch) == e.config.BatchSize && !flush() {
				return
			}
		}
		if len(batch) > 0 {
			flush()
		}
	}
	return shape(matched, q)
}

// filterBatch evaluates the filter on chunks of the batch in parallel
func (e *ParallelExecutor) filterBatch(batch []*document.Document, q *Query) []*document.Document {
	keep := make([]bool, len(batch))
	var wg sync.WaitGroup
	for start := 0; start < len(batch); start += e.config.ChunkSize {
		end := min(start+e.config.ChunkSize, len(batch))
		task := func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				keep[i] = q.Matches(batch[i])
			}
		}
		wg.Add(1)
		if err := e.pool.Submit(task); err != nil {
			// pool closed or overloaded: evaluate inline
			task()
		}
	}
	wg.Wait()

	out := make([]*document.Document, 0, len(batch))
	for i, doc := range batch {
		if keep[i] {
			out = append(out, doc)
		}
	}
	return out
}
