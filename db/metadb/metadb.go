// Package metadb constructs a db.Database from a backend type name. It keeps
// backend selection out of the packages that just need a database.
package metadb

import (
	"fmt"
	"testing"

	"github.com/civicledger/referendum-node/db"
	"github.com/civicledger/referendum-node/db/pebbledb"
)

// TypePebble is the persistent pebble backend.
const TypePebble = "pebble"

// New opens a database of the given type at path.
func New(typ, path string) (db.Database, error) {
	switch typ {
	case TypePebble:
		return pebbledb.New(db.Options{Path: path})
	default:
		return nil, fmt.Errorf("unknown database type: %q", typ)
	}
}

// NewTest returns a throwaway database backed by a temporary directory,
// closed when the test finishes.
func NewTest(tb testing.TB) db.Database {
	database, err := New(TypePebble, tb.TempDir())
	if err != nil {
		tb.Fatalf("cannot create test database: %v", err)
	}
	tb.Cleanup(func() { _ = database.Close() })
	return database
}
