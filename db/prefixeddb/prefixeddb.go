// Package prefixeddb wraps a db.Database or db.WriteTx so that all keys are
// transparently namespaced under a fixed prefix.
package prefixeddb

import (
	"github.com/civicledger/referendum-node/db"
)

// PrefixedDatabase namespaces a db.Database under a prefix.
type PrefixedDatabase struct {
	db     db.Database
	prefix []byte
}

var _ db.Database = (*PrefixedDatabase)(nil)

// NewPrefixedDatabase returns a view of the database where every key is
// prefixed with prefix.
func NewPrefixedDatabase(database db.Database, prefix []byte) *PrefixedDatabase {
	return &PrefixedDatabase{db: database, prefix: prefix}
}

func (d *PrefixedDatabase) prefixed(key []byte) []byte {
	out := make([]byte, 0, len(d.prefix)+len(key))
	out = append(out, d.prefix...)
	return append(out, key...)
}

func (d *PrefixedDatabase) Get(key []byte) ([]byte, error) {
	return d.db.Get(d.prefixed(key))
}

func (d *PrefixedDatabase) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return d.db.Iterate(d.prefixed(prefix), callback)
}

func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return NewPrefixedWriteTx(d.db.WriteTx(), d.prefix)
}

func (d *PrefixedDatabase) Close() error   { return d.db.Close() }
func (d *PrefixedDatabase) Compact() error { return d.db.Compact() }

// NewPrefixedReader returns a read-only view of the reader under prefix.
func NewPrefixedReader(reader db.Reader, prefix []byte) db.Reader {
	return &prefixedReader{reader: reader, prefix: prefix}
}

type prefixedReader struct {
	reader db.Reader
	prefix []byte
}

func (r *prefixedReader) prefixed(key []byte) []byte {
	out := make([]byte, 0, len(r.prefix)+len(key))
	out = append(out, r.prefix...)
	return append(out, key...)
}

func (r *prefixedReader) Get(key []byte) ([]byte, error) {
	return r.reader.Get(r.prefixed(key))
}

func (r *prefixedReader) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return r.reader.Iterate(r.prefixed(prefix), callback)
}

// PrefixedWriteTx namespaces a db.WriteTx under a prefix. Commit and Discard
// act on the underlying transaction, so several prefixed views can share one
// atomic commit.
type PrefixedWriteTx struct {
	tx     db.WriteTx
	prefix []byte
}

var _ db.WriteTx = (*PrefixedWriteTx)(nil)

// NewPrefixedWriteTx wraps tx so that all its keys live under prefix.
func NewPrefixedWriteTx(tx db.WriteTx, prefix []byte) *PrefixedWriteTx {
	return &PrefixedWriteTx{tx: tx, prefix: prefix}
}

func (t *PrefixedWriteTx) prefixed(key []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(key))
	out = append(out, t.prefix...)
	return append(out, key...)
}

func (t *PrefixedWriteTx) Get(key []byte) ([]byte, error) {
	return t.tx.Get(t.prefixed(key))
}

func (t *PrefixedWriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return t.tx.Iterate(t.prefixed(prefix), callback)
}

func (t *PrefixedWriteTx) Set(key, value []byte) error {
	return t.tx.Set(t.prefixed(key), value)
}

func (t *PrefixedWriteTx) Delete(key []byte) error {
	return t.tx.Delete(t.prefixed(key))
}

func (t *PrefixedWriteTx) Apply(other db.WriteTx) error {
	if o, ok := other.(*PrefixedWriteTx); ok {
		return t.tx.Apply(o.tx)
	}
	return t.tx.Apply(other)
}

func (t *PrefixedWriteTx) Commit() error { return t.tx.Commit() }
func (t *PrefixedWriteTx) Discard()      { t.tx.Discard() }

// Unwrap returns the underlying transaction.
func (t *PrefixedWriteTx) Unwrap() db.WriteTx { return t.tx }
