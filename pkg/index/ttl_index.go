package index

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnohosten/laura-core/pkg/document"
)

// TTLTracker tracks document expiration times for a TTL index. It only
// learns about documents through Track, which the index manager calls on
// writes after the index exists, so documents stored before the index was
// created never expire.
type TTLTracker struct {
	fieldPath  string
	ttlSeconds int64

	// Maps document ID to expiration timestamp
	expirationTimes map[string]time.Time

	mu sync.RWMutex
}

// NewTTLTracker creates a new TTL tracker
func NewTTLTracker(fieldPath string, ttlSeconds int64) *TTLTracker {
	return &TTLTracker{
		fieldPath:       fieldPath,
		ttlSeconds:      ttlSeconds,
		expirationTimes: make(map[string]time.Time),
	}
}

// Track records the expiry of doc. A date field (or the earliest date of
// an array) sets it; any other value clears it.
func (t *TTLTracker) Track(docID string, doc *document.Document) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := expiryBase(doc, t.fieldPath)
	if !ok {
		delete(t.expirationTimes, docID)
		return
	}
	t.expirationTimes[docID] = ts.Add(time.Duration(t.ttlSeconds) * time.Second)
}

func expiryBase(doc *document.Document, field string) (time.Time, bool) {
	v, ok := doc.Lookup(field)
	if !ok {
		return time.Time{}, false
	}
	if ts, ok := v.Time(); ok {
		return ts, true
	}
	arr, ok := v.Array()
	if !ok {
		return time.Time{}, false
	}
	var earliest time.Time
	found := false
	for _, elem := range arr {
		if ts, ok := elem.Time(); ok && (!found || ts.Before(earliest)) {
			earliest, found = ts, true
		}
	}
	return earliest, found
}

// Remove removes a document from the tracker
func (t *TTLTracker) Remove(docID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.expirationTimes, docID)
}

// Expired returns the sorted IDs of documents whose expiry is before now
func (t *TTLTracker) Expired(now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	expired := make([]string, 0)
	for docID, expirationTime := range t.expirationTimes {
		if now.After(expirationTime) {
			expired = append(expired, docID)
		}
	}
	sort.Strings(expired)
	return expired
}

// FieldPath returns the indexed field path
func (t *TTLTracker) FieldPath() string {
	return t.fieldPath
}

// TTLSeconds returns the TTL duration in seconds
func (t *TTLTracker) TTLSeconds() int64 {
	return t.ttlSeconds
}

// Count returns the number of documents tracked
func (t *TTLTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.expirationTimes)
}

// ExpirationTime returns the expiration time for a specific document
func (t *TTLTracker) ExpirationTime(docID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	expirationTime, exists := t.expirationTimes[docID]
	return expirationTime, exists
}

func (t *TTLTracker) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return fmt.Sprintf("TTLTracker{field: %s, ttl: %ds, docs: %d}",
		t.fieldPath, t.ttlSeconds, len(t.expirationTimes))
}
