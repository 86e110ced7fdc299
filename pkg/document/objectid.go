package document

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is the 12-byte key given to documents inserted without an _id:
// a 4-byte big-endian creation second, 5 bytes unique to the process and
// a 3-byte counter. Byte order matches creation order within a process.
type ObjectID [12]byte

// objectIDSource hands out the process part and the counter of new ids
type objectIDSource struct {
	process [5]byte
	counter atomic.Uint32
}

var ids = newObjectIDSource()

func newObjectIDSource() *objectIDSource {
	s := &objectIDSource{}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err == nil {
		s.counter.Store(binary.BigEndian.Uint32(seed[:]) & 0x00ffffff)
	}
	_, _ = rand.Read(s.process[:])
	return s
}

func (s *objectIDSource) next(t time.Time) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[:4], uint32(t.Unix()))
	copy(id[4:9], s.process[:])
	n := s.counter.Add(1)
	id[9], id[10], id[11] = byte(n>>16), byte(n>>8), byte(n)
	return id
}

// NewObjectID returns an id created now
func NewObjectID() ObjectID {
	return ids.next(time.Now())
}

// NewObjectIDAt returns an id carrying t as its creation time
func NewObjectIDAt(t time.Time) ObjectID {
	return ids.next(t)
}

// ObjectIDFromHex parses the 24 hex digit form written by Hex
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 2*len(id) {
		return id, fmt.Errorf("invalid ObjectID %q: want 24 hex digits, got %d", s, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ObjectID{}, fmt.Errorf("invalid ObjectID %q: %w", s, err)
	}
	return id, nil
}

// Hex returns the lowercase hex form
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string {
	return id.Hex()
}

// Timestamp returns the creation second
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[:4])), 0)
}

// Compare orders ids bytewise, which is creation order for ids of one
// process
func (id ObjectID) Compare(other ObjectID) int {
	return bytes.Compare(id[:], other[:])
}

// IsZero reports whether id is the zero value
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}
