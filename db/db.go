// Package db defines the key-value database interface used by the node and
// its storage layer. Implementations live in subpackages (pebbledb for the
// persistent backend, prefixeddb for namespacing).
package db

import "errors"

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned by Commit when a transaction lost a race.
	ErrConflict = errors.New("transaction conflict")
)

// Options are the parameters to open a database.
type Options struct {
	Path string
}

// Reader is the read-only subset of a database or transaction.
type Reader interface {
	// Get retrieves the value for the given key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback with all key-value pairs under prefix, in key
	// order, until callback returns false.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx is a write batch with read-your-writes semantics. Either Commit or
// Discard must be called; Discard after Commit is a no-op.
type WriteTx interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	// Apply copies the writes of the other transaction into this one.
	Apply(other WriteTx) error
	Commit() error
	Discard()
}

// Database is a key-value database with batched writes.
type Database interface {
	Reader
	WriteTx() WriteTx
	Close() error
	// Compact triggers a storage compaction, where supported.
	Compact() error
}
