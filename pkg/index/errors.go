package index

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a write would break a unique index
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrIndexLimitExceeded is returned when a configured index limit is hit
	ErrIndexLimitExceeded = errors.New("index limit exceeded")

	// ErrDuplicateTextIndex is returned when a collection already has a text index
	ErrDuplicateTextIndex = errors.New("collection already has a text index")

	// ErrIndexExists is returned when an index with the same name exists
	ErrIndexExists = errors.New("index already exists")

	// ErrIndexNotFound is returned when a named index does not exist
	ErrIndexNotFound = errors.New("index not found")

	// ErrNoTextIndex is returned for $text queries without a text index
	ErrNoTextIndex = errors.New("text index required for $text query")

	// ErrNoGeoIndex is returned for $near queries without a 2dsphere index on the field
	ErrNoGeoIndex = errors.New("2dsphere index required for geo near query")

	// ErrInvalidIndex is returned for malformed index descriptors
	ErrInvalidIndex = errors.New("invalid index specification")
)

// LimitError describes which index limit was exceeded
type LimitError struct {
	Limit string
	Max   int
	Got   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s is limited to %d (got %d)", ErrIndexLimitExceeded, e.Limit, e.Max, e.Got)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrIndexLimitExceeded
}

// DuplicateKeyError names the unique index and key that collided
type DuplicateKeyError struct {
	Index    string
	Key      string
	Existing string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: index %s key %s already used by %s", ErrDuplicateKey, e.Index, e.Key, e.Existing)
}

func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}
