package database

import "errors"

var (
	// ErrDocumentNotFound is returned when a document is not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrCollectionNotFound is returned when a collection is not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when creating a collection that exists
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidCollectionName is returned for empty or reserved collection names
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDatabaseClosed is returned when operating on a closed database
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrInvalidDocument is returned when an insert is not a document
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidUpdate is returned for malformed update documents
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrCursorExhausted is returned by Next once a cursor has no more documents
	ErrCursorExhausted = errors.New("cursor exhausted")
)
