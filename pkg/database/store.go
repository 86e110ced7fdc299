package database

import (
	"iter"

	"github.com/google/btree"

	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/index"
)

const storeDegree = 32

// record is one stored document version. Records are never modified;
// an update installs a new record under the same seq.
type record struct {
	seq uint64
	key string
	doc *document.Document
}

func bySeq(a, b *record) bool { return a.seq < b.seq }
func byKey(a, b *record) bool { return a.key < b.key }

// store holds the documents of a collection twice: ordered by insertion
// sequence for scans and by key for lookups. Both trees are copy-on-write,
// so cloning them gives a reader an O(1) snapshot.
type store struct {
	seqs *btree.BTreeG[*record]
	keys *btree.BTreeG[*record]
}

func newStore() *store {
	return &store{
		seqs: btree.NewG(storeDegree, bySeq),
		keys: btree.NewG(storeDegree, byKey),
	}
}

func (s *store) get(key string) (*record, bool) {
	return s.keys.Get(&record{key: key})
}

func (s *store) put(r *record) {
	s.seqs.ReplaceOrInsert(r)
	s.keys.ReplaceOrInsert(r)
}

func (s *store) remove(r *record) {
	s.seqs.Delete(r)
	s.keys.Delete(r)
}

func (s *store) len() int {
	return s.seqs.Len()
}

// clone must not run concurrently with writes or other clones
func (s *store) clone() *store {
	return &store{seqs: s.seqs.Clone(), keys: s.keys.Clone()}
}

// snapshot is a consistent read-only view of a collection
type snapshot struct {
	store   *store
	indexes *index.Manager
}

// scan yields the documents in insertion order
func (s *snapshot) scan() iter.Seq[*document.Document] {
	return func(yield func(*document.Document) bool) {
		s.store.seqs.Ascend(func(r *record) bool {
			return yield(r.doc)
		})
	}
}

// entries yields key and document pairs in insertion order
func (s *snapshot) entries() iter.Seq2[string, *document.Document] {
	return func(yield func(string, *document.Document) bool) {
		s.store.seqs.Ascend(func(r *record) bool {
			return yield(r.key, r.doc)
		})
	}
}

// fetch resolves index candidates against the snapshot. Keys the snapshot
// does not hold are skipped; text and geo indexes are shared with live
// writers and may be ahead of it.
func (s *snapshot) fetch(keys []string) []*record {
	out := make([]*record, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if r, ok := s.store.get(k); ok {
			out = append(out, r)
		}
	}
	return out
}
