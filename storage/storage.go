/*
Package storage provides the persistent layer of the referendum node.

# Storage Organization

The storage uses a key-value database with prefixed namespaces:

  - p/  : pollID → Poll read model (owned by the admin plane, read here)
  - nf/ : pollID + 0x00 + nullifier → 1 (the per-poll nullifier set; the
    uniqueness point for double-vote prevention)
  - v/  : pollID + 0x00 + seq (8-byte BE) → Vote (insertion order)
  - vi/ : pollID + 0x00 + voteID → seq (vote-status lookups)
  - r/  : pollID → PollRoot (current Merkle root, leaf count, frontier)
  - a/  : pollID + 0x00 + unix-nano (8-byte BE) → Anchor (append-only)
  - au/ : audit chain namespace (entries + tail cursor)
  - ql/ : pollID + 0x00 + counter → aggregation query record

Nullifier set, vote row, root advance and the vote-accepted audit entry are
written in one WriteTx under the global lock, so either all of them become
visible or none do. Nothing in these namespaces is ever updated except the
PollRoot, whose root and leaf count only advance.
*/
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/db"
	"github.com/civicledger/referendum-node/db/prefixeddb"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/merkle"
	"github.com/civicledger/referendum-node/types"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyVoted = errors.New("nullifier already present")

	// Prefixes
	pollPrefix      = []byte("p/")
	nullifierPrefix = []byte("nf/")
	votePrefix      = []byte("v/")
	voteIndexPrefix = []byte("vi/")
	rootPrefix      = []byte("r/")
	anchorPrefix    = []byte("a/")
	auditPrefix     = []byte("au/")
	queryLogPrefix  = []byte("ql/")

	// keySep separates the poll id from the rest of a composite key.
	keySep = byte(0x00)
)

// Storage manages all node artifacts. The global lock serializes the vote
// append path and every audit-chain append; background workers only touch
// the chain through AppendAudit, so they never contend with an open vote
// transaction.
type Storage struct {
	db         db.Database
	chain      *auditchain.Chain
	hasherName string
	globalLock sync.Mutex
}

// New creates a Storage instance. hasherName is the active crypto registry
// variant, stamped into every audit entry. On startup every poll's stored
// root is checked against a rebuild of its leaves; a mismatch is logged as
// tampering but does not abort, so the evidence stays inspectable.
func New(database db.Database, hasherName string) *Storage {
	s := &Storage{
		db:         database,
		chain:      auditchain.New(EncodeArtifact, DecodeArtifact),
		hasherName: hasherName,
	}
	if err := s.verifyStoredRoots(); err != nil {
		log.Errorw(err, "startup root verification failed")
	}
	return s
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Errorw(err, "failed to close storage")
	}
}

// HasherName returns the crypto registry variant this storage stamps into
// audit entries.
func (s *Storage) HasherName() string { return s.hasherName }

// verifyStoredRoots recomputes each poll's root from its vote rows and
// compares with the stored current root. Polls are independent, so the
// rebuilds run in parallel.
func (s *Storage) verifyStoredRoots() error {
	polls, err := s.ListPolls()
	if err != nil {
		return err
	}
	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, poll := range polls {
		g.Go(func() error {
			stored, rebuilt, err := s.RebuildRoot(poll.ID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil // no votes yet
				}
				return fmt.Errorf("rebuild root for poll %s: %w", poll.ID, err)
			}
			if !stored.Equal(rebuilt) {
				log.Errorf("stored root mismatch for poll %s: stored %s, rebuilt %s (possible tampering)",
					poll.ID, stored.String(), rebuilt.String())
			}
			return nil
		})
	}
	return g.Wait()
}

// compositeKey builds pollID + 0x00 + suffix.
func compositeKey(pollID string, suffix []byte) []byte {
	key := make([]byte, 0, len(pollID)+1+len(suffix))
	key = append(key, pollID...)
	key = append(key, keySep)
	return append(key, suffix...)
}

// reader returns a read view of one namespace.
func (s *Storage) reader(prefix []byte) db.Reader {
	return prefixeddb.NewPrefixedReader(s.db, prefix)
}

// setArtifact stores an encoded artifact under prefix/key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, prefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key, data); err != nil {
		return err
	}
	return wTx.Commit()
}

// getArtifact retrieves an artifact from prefix/key into out. Returns
// ErrNotFound when the key does not exist.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

// AppendAudit chains a standalone audit entry (events outside the vote
// transaction: replay attempts, anchors, suppression).
func (s *Storage) AppendAudit(kind string, payload any) (*auditchain.Entry, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	entry, err := s.chain.AppendTx(
		prefixeddb.NewPrefixedWriteTx(wTx, auditPrefix),
		kind, payload, s.hasherName, time.Now(),
	)
	if err != nil {
		return nil, err
	}
	if err := wTx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// VerifyAuditChain walks the chain from genesis. Returns the id of the
// earliest tampered entry, or -1 when intact.
func (s *Storage) VerifyAuditChain() (int64, error) {
	return s.chain.Verify(prefixeddb.NewPrefixedReader(s.db, auditPrefix))
}

// AuditEntries returns all audit entries in chain order.
func (s *Storage) AuditEntries() ([]*auditchain.Entry, error) {
	return s.chain.Entries(prefixeddb.NewPrefixedReader(s.db, auditPrefix))
}

// TamperAuditEntry overwrites a raw audit entry row. Only for tests that
// assert chain verification catches mutations.
func (s *Storage) TamperAuditEntry(id uint64, mutate func(*auditchain.Entry)) error {
	entries, err := s.AuditEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		mutate(e)
		data, err := EncodeArtifact(e)
		if err != nil {
			return err
		}
		wTx := prefixeddb.NewPrefixedDatabase(s.db, auditPrefix).WriteTx()
		defer wTx.Discard()
		key := make([]byte, 2+8)
		copy(key, "e/")
		binary.BigEndian.PutUint64(key[2:], id)
		if err := wTx.Set(key, data); err != nil {
			return err
		}
		return wTx.Commit()
	}
	return ErrNotFound
}

// RebuildRoot recomputes a poll's Merkle root from its stored vote rows in
// insertion order and returns (stored, rebuilt). ErrNotFound when the poll
// has no root yet.
func (s *Storage) RebuildRoot(pollID string) (types.HexBytes, types.HexBytes, error) {
	root, err := s.PollRoot(pollID)
	if err != nil {
		return nil, nil, err
	}
	var leaves [][]byte
	if err := s.IterateVotes(pollID, func(v *types.Vote) bool {
		leaves = append(leaves, v.Leaf)
		return true
	}); err != nil {
		return nil, nil, err
	}
	return root.Root, merkle.Build(leaves), nil
}
