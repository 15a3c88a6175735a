// Package auditchain implements the append-only, hash-chained log of
// security-relevant events. Each entry hashes in the previous entry's
// digest, so any mutation of history is detectable offline.
package auditchain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/civicledger/referendum-node/db"
	"github.com/civicledger/referendum-node/types"
	"github.com/civicledger/referendum-node/util"
)

// Event kinds recorded in the chain.
const (
	EventVoteAccepted         = "vote-accepted"
	EventVoteRejectedDup      = "vote-rejected-duplicate"
	EventVoteRejectedInelig   = "vote-rejected-ineligible"
	EventPollPublished        = "poll-published"
	EventAnchorCommitted      = "anchor-committed"
	EventAnchorFailed         = "anchor-failed"
	EventSuppressionTriggered = "suppression-triggered"
	EventNonceReplayAttempt   = "nonce-replay-attempt"
	EventNullifierMismatch    = "nullifier-mismatch"
)

// TimeLayout is the timestamp format inside the hashed content.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var tailKey = []byte("tail")

// GenesisHash is the prev_hash of the first entry.
func GenesisHash() []byte {
	sum := sha256.Sum256([]byte("AUDIT_CHAIN_GENESIS"))
	return sum[:]
}

// Entry is one chained audit row. Payload is JSON and must never contain a
// voter subject, device key, IP or personal number; entries about polls
// carry only the poll id.
type Entry struct {
	ID          uint64          `json:"id" cbor:"1,keyasint"`
	TS          time.Time       `json:"ts" cbor:"2,keyasint"`
	Kind        string          `json:"kind" cbor:"3,keyasint"`
	Payload     json.RawMessage `json:"payload" cbor:"4,keyasint"`
	Hasher      string          `json:"hasher" cbor:"5,keyasint"`
	PrevHash    types.HexBytes  `json:"prevHash" cbor:"6,keyasint"`
	ContentHash types.HexBytes  `json:"contentHash" cbor:"7,keyasint"`
}

// chainedContent is the canonical-JSON content bound into the hash chain.
type chainedContent struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	TS      string          `json:"ts"`
	Hasher  string          `json:"hasher"`
}

// ContentHash computes SHA-256(prevHash || canonicalJSON({kind, payload,
// ts, hasher})). prevHash is hashed as its raw 32 bytes.
func ContentHash(prevHash []byte, kind string, payload json.RawMessage, ts time.Time, hasher string) ([]byte, error) {
	content, err := util.CanonicalJSON(chainedContent{
		Kind:    kind,
		Payload: payload,
		TS:      ts.UTC().Format(TimeLayout),
		Hasher:  hasher,
	})
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(prevHash)
	h.Write(content)
	return h.Sum(nil), nil
}

// Chain reads and extends the audit log inside a prefixed database
// namespace. It holds no lock of its own: callers (the storage layer)
// serialize appends, and the tail cursor lives in the database so an aborted
// transaction leaves no phantom entry.
type Chain struct {
	encode func(any) ([]byte, error)
	decode func([]byte, any) error
}

// New creates a chain codec using the given artifact encode/decode pair
// (the storage layer's CBOR forms).
func New(encode func(any) ([]byte, error), decode func([]byte, any) error) *Chain {
	return &Chain{encode: encode, decode: decode}
}

type tailRecord struct {
	ID   uint64         `cbor:"1,keyasint"`
	Hash types.HexBytes `cbor:"2,keyasint"`
}

// AppendTx chains a new entry inside the caller's transaction. The entry
// becomes visible only when the transaction commits, which ties vote-path
// audit entries to the fate of the vote itself.
func (c *Chain) AppendTx(wtx db.WriteTx, kind string, payload any, hasherName string, now time.Time) (*Entry, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("audit payload: %w", err)
	}

	prev := tailRecord{Hash: GenesisHash()}
	id := uint64(0)
	if data, err := wtx.Get(tailKey); err == nil {
		if err := c.decode(data, &prev); err != nil {
			return nil, fmt.Errorf("audit tail corrupt: %w", err)
		}
		id = prev.ID + 1
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("audit tail: %w", err)
	}

	contentHash, err := ContentHash(prev.Hash, kind, rawPayload, now, hasherName)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		ID:          id,
		TS:          now.UTC(),
		Kind:        kind,
		Payload:     rawPayload,
		Hasher:      hasherName,
		PrevHash:    types.HexBytes(prev.Hash),
		ContentHash: contentHash,
	}

	data, err := c.encode(entry)
	if err != nil {
		return nil, fmt.Errorf("encode audit entry: %w", err)
	}
	if err := wtx.Set(entryKey(id), data); err != nil {
		return nil, err
	}
	tail, err := c.encode(&tailRecord{ID: id, Hash: contentHash})
	if err != nil {
		return nil, err
	}
	if err := wtx.Set(tailKey, tail); err != nil {
		return nil, err
	}
	return entry, nil
}

// Entries returns all audit entries in chain order.
func (c *Chain) Entries(reader db.Reader) ([]*Entry, error) {
	var entries []*Entry
	var iterErr error
	if err := reader.Iterate([]byte("e/"), func(_, value []byte) bool {
		e := &Entry{}
		if err := c.decode(value, e); err != nil {
			iterErr = fmt.Errorf("decode audit entry: %w", err)
			return false
		}
		entries = append(entries, e)
		return true
	}); err != nil {
		return nil, err
	}
	return entries, iterErr
}

// Verify walks the chain from genesis and recomputes every content hash.
// It returns the id of the earliest tampered entry, or -1 if the chain is
// intact.
func (c *Chain) Verify(reader db.Reader) (int64, error) {
	entries, err := c.Entries(reader)
	if err != nil {
		return -1, err
	}
	prev := GenesisHash()
	for i, e := range entries {
		if uint64(i) != e.ID || !e.PrevHash.Equal(prev) {
			return int64(e.ID), nil
		}
		want, err := ContentHash(prev, e.Kind, e.Payload, e.TS, e.Hasher)
		if err != nil {
			return -1, err
		}
		if !e.ContentHash.Equal(want) {
			return int64(e.ID), nil
		}
		prev = e.ContentHash
	}
	return -1, nil
}

func entryKey(id uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "e/")
	binary.BigEndian.PutUint64(key[2:], id)
	return key
}
