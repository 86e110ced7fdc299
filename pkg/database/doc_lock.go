package database

import (
	"hash/fnv"
	"sync"
)

const defaultLockStripes = 256

// keyLocks serializes writers of the same document key. Keys hash onto a
// fixed set of stripes, so unrelated keys may share a stripe but the
// lock set never grows. Readers never lock: they work on snapshots.
type keyLocks struct {
	stripes []sync.Mutex
}

func newKeyLocks(stripes int) *keyLocks {
	if stripes <= 0 {
		stripes = defaultLockStripes
	}
	return &keyLocks{stripes: make([]sync.Mutex, stripes)}
}

func (l *keyLocks) stripeOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.stripes)))
}

// lock takes the stripe of key and returns its release
func (l *keyLocks) lock(key string) (unlock func()) {
	mu := &l.stripes[l.stripeOf(key)]
	mu.Lock()
	return mu.Unlock
}

func (l *keyLocks) len() int {
	return len(l.stripes)
}
