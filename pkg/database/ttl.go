package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes documents whose TTL index says they have
// expired. It runs apart from foreground reads and writes: expiry is
// eventual, a document disappears on the first sweep after its deadline.
// A failed sweep is logged and retried on the next tick.
type Sweeper struct {
	db       *Database
	interval time.Duration
	clock    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the collections of db. clock supplies
// the current time; nil means time.Now.
func NewSweeper(db *Database, interval time.Duration, clock func() time.Time) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	return &Sweeper{db: db, interval: interval, clock: clock}
}

// Start runs sweeps every interval until ctx is done or Stop is called.
// Starting a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.db.logger.Debug("ttl sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the sweeper and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.db.logger.Debug("ttl sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(); err != nil {
				s.db.metrics.RecordTTLFailure()
				s.db.logger.Warn("ttl sweep failed, retrying next interval", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce deletes every document that has expired at the sweeper's
// current time and returns how many were removed. Errors of individual
// collections are joined; the other collections are still swept.
func (s *Sweeper) SweepOnce() (int, error) {
	if s.db.isClosed() {
		return 0, ErrDatabaseClosed
	}
	now := s.clock()
	total := 0
	var errs []error
	for _, coll := range s.db.collectionsSnapshot() {
		n, err := coll.expire(now)
		total += n
		s.db.metrics.RecordTTLDeletions(coll.name, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("collection %s: %w", coll.name, err))
		}
		if n > 0 {
			coll.logger.Debug("expired documents removed", zap.Int("count", n))
		}
	}
	return total, errors.Join(errs...)
}

// expire deletes the documents listed as expired by the TTL indexes
func (c *Collection) expire(now time.Time) (int, error) {
	c.mu.Lock()
	ttls := c.indexes.TTLIndexes()
	c.mu.Unlock()

	seen := make(map[string]bool)
	deleted := 0
	for _, idx := range ttls {
		for _, key := range idx.TTL().Expired(now) {
			if seen[key] {
				continue
			}
			seen[key] = true
			err := c.delete(key)
			if errors.Is(err, ErrDocumentNotFound) {
				continue
			}
			if err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}
