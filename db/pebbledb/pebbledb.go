// Package pebbledb implements db.Database on cockroachdb/pebble. A WriteTx
// wraps a pebble indexed batch: it is a batch of writes with read-your-writes,
// not an isolated transaction, so callers that need serialization (the vote
// append path) must hold their own lock while the batch is open.
package pebbledb

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/civicledger/referendum-node/db"
)

// PebbleDB implements db.Database with a pebble store.
type PebbleDB struct {
	pdb *pebble.DB
}

var _ db.Database = (*PebbleDB)(nil)

// New opens (or creates) a pebble database at opts.Path.
func New(opts db.Options) (*PebbleDB, error) {
	pdb, err := pebble.Open(opts.Path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", opts.Path, err)
	}
	return &PebbleDB{pdb: pdb}, nil
}

func (d *PebbleDB) Get(key []byte) ([]byte, error) {
	value, closer, err := d.pdb.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, db.ErrKeyNotFound
		}
		return nil, err
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *PebbleDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter, err := d.pdb.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return err
	}
	defer func() { _ = iter.Close() }()
	for iter.First(); iter.Valid(); iter.Next() {
		// Strip the prefix so callbacks see the same keys a prefixeddb
		// reader would.
		if !callback(iter.Key()[len(prefix):], iter.Value()) {
			break
		}
	}
	return nil
}

func (d *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{batch: d.pdb.NewIndexedBatch()}
}

func (d *PebbleDB) Close() (err error) {
	// pebble signals a second Close by panicking with ErrClosed rather than
	// returning it; treat both the same so Close is idempotent.
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, pebble.ErrClosed) {
				err = nil
				return
			}
			panic(r)
		}
	}()
	if err := d.pdb.Close(); err != nil && !errors.Is(err, pebble.ErrClosed) {
		return err
	}
	return nil
}

func (d *PebbleDB) Compact() error {
	iter, err := d.pdb.NewIter(nil)
	if err != nil {
		return err
	}
	var first, last []byte
	if iter.First() {
		first = append([]byte{}, iter.Key()...)
	}
	if iter.Last() {
		last = append([]byte{}, iter.Key()...)
	}
	if err := iter.Close(); err != nil {
		return err
	}
	if first == nil || last == nil {
		return nil
	}
	return d.pdb.Compact(first, last, true)
}

// upperBound returns the smallest key strictly greater than every key with
// the given prefix, or nil when the prefix is all 0xff.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	if len(prefix) == 0 {
		return nil
	}
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	}
}

// WriteTx implements db.WriteTx over a pebble indexed batch.
type WriteTx struct {
	batch     *pebble.Batch
	committed bool
	discarded bool
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	value, closer, err := tx.batch.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, db.ErrKeyNotFound
		}
		return nil, err
	}
	out := make([]byte, len(value))
	copy(out, value)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter, err := tx.batch.NewIter(prefixIterOptions(prefix))
	if err != nil {
		return err
	}
	defer func() { _ = iter.Close() }()
	for iter.First(); iter.Valid(); iter.Next() {
		if !callback(iter.Key()[len(prefix):], iter.Value()) {
			break
		}
	}
	return nil
}

func (tx *WriteTx) Set(key, value []byte) error {
	return tx.batch.Set(key, value, nil)
}

func (tx *WriteTx) Delete(key []byte) error {
	return tx.batch.Delete(key, nil)
}

func (tx *WriteTx) Apply(other db.WriteTx) error {
	otherTx, ok := other.(*WriteTx)
	if !ok {
		return fmt.Errorf("can only apply a pebbledb WriteTx")
	}
	return tx.batch.Apply(otherTx.batch, nil)
}

func (tx *WriteTx) Commit() error {
	if tx.committed || tx.discarded {
		return fmt.Errorf("cannot commit: already committed or discarded")
	}
	tx.committed = true
	return tx.batch.Commit(pebble.Sync)
}

func (tx *WriteTx) Discard() {
	if tx.committed || tx.discarded {
		return
	}
	tx.discarded = true
	_ = tx.batch.Close()
}
