// Package noncestore mints and redeems the single-use, TTL-bound,
// purpose-scoped challenge tokens that bind a request to a server-issued
// value. Consumption is atomic: a nonce redeems exactly once, and a later
// redemption attempt is distinguishable from a nonce that never existed so
// callers can flag replays.
package noncestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/civicledger/referendum-node/db"
	"github.com/civicledger/referendum-node/db/prefixeddb"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/types"
)

// Recognized nonce purposes. Any other purpose is rejected outright.
const (
	PurposeChallenge      = "challenge"
	PurposeVote           = "vote"
	PurposeEnrollLiveness = "enroll-liveness"
	PurposeAdminMFA       = "admin-mfa"
)

// DefaultTTL is the nonce lifetime applied when the caller does not set one.
const DefaultTTL = 60 * time.Second

var (
	// ErrNonceNotFound means the nonce expired or never existed.
	ErrNonceNotFound = errors.New("nonce not found")
	// ErrNonceConsumed means the nonce was already redeemed. Callers should
	// record a replay attempt.
	ErrNonceConsumed = errors.New("nonce already consumed")
	// ErrUnknownPurpose means the purpose is not in the recognized set.
	ErrUnknownPurpose = errors.New("unknown nonce purpose")

	noncePrefix = []byte("n/")
)

var validPurposes = map[string]bool{
	PurposeChallenge:      true,
	PurposeVote:           true,
	PurposeEnrollLiveness: true,
	PurposeAdminMFA:       true,
}

type record struct {
	ExpiresAt time.Time `cbor:"1,keyasint"`
	Consumed  bool      `cbor:"2,keyasint"`
}

// expired reports whether the record is past its expiry. The exact expiry
// instant counts as expired: a remaining TTL of zero is no TTL at all.
func (r *record) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store is the nonce store. A single mutex serializes redeem operations so
// the get-and-mark is atomic against the backing database.
type Store struct {
	db     db.Database
	ttl    time.Duration
	mu     sync.Mutex
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a nonce store on top of the given database. ttl <= 0 selects
// DefaultTTL.
func New(database db.Database, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: database, ttl: ttl}
}

// Generate mints a 256-bit random nonce scoped to purpose and returns its
// 64-hex-char value.
func (s *Store) Generate(purpose string) (string, error) {
	if !validPurposes[purpose] {
		return "", fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	value := hex.EncodeToString(raw)
	data, err := cbor.Marshal(&record{ExpiresAt: time.Now().Add(s.ttl)})
	if err != nil {
		return "", err
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, noncePrefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key(purpose, value), data); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	if err := wTx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	return value, nil
}

// VerifyAndConsume atomically redeems a nonce. The consumed marker stays
// until the original expiry so a replayed nonce returns ErrNonceConsumed
// rather than ErrNonceNotFound.
func (s *Store) VerifyAndConsume(nonce, purpose string) error {
	if !validPurposes[purpose] {
		return fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(nonce, purpose)
	if err != nil {
		return err
	}
	if rec.Consumed {
		return ErrNonceConsumed
	}
	rec.Consumed = true
	data, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, noncePrefix).WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(key(purpose, nonce), data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	if err := wTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	return nil
}

// GetTTL returns the remaining lifetime of an unconsumed nonce, rounded
// down to seconds. Zero means expired.
func (s *Store) GetTTL(nonce, purpose string) (time.Duration, error) {
	if !validPurposes[purpose] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(nonce, purpose)
	if err != nil {
		return 0, err
	}
	if rec.Consumed {
		return 0, ErrNonceConsumed
	}
	remaining := time.Until(rec.ExpiresAt).Truncate(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Start launches the periodic purge of expired nonces and consumed
// tombstones. interval <= 0 selects the store TTL.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Purge(); err != nil {
					log.Errorw(err, "nonce purge failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the purge loop and waits for it to drain.
func (s *Store) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Purge deletes expired nonces, including consumed markers past their
// expiry. Runs periodically from the loop launched by Start.
func (s *Store) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired [][]byte
	if err := prefixeddb.NewPrefixedReader(s.db, noncePrefix).Iterate(nil, func(k, v []byte) bool {
		rec := &record{}
		if err := cbor.Unmarshal(v, rec); err != nil || rec.expired(now) {
			expired = append(expired, append([]byte{}, k...))
		}
		return true
	}); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	if len(expired) == 0 {
		return nil
	}
	wTx := prefixeddb.NewPrefixedDatabase(s.db, noncePrefix).WriteTx()
	defer wTx.Discard()
	for _, k := range expired {
		if err := wTx.Delete(k); err != nil {
			return err
		}
	}
	return wTx.Commit()
}

func (s *Store) get(nonce, purpose string) (*record, error) {
	data, err := prefixeddb.NewPrefixedReader(s.db, noncePrefix).Get(key(purpose, nonce))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNonceNotFound
		}
		return nil, fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	rec := &record{}
	if err := cbor.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	if rec.expired(time.Now()) {
		return nil, ErrNonceNotFound
	}
	return rec, nil
}

// key layout: nonce:{purpose}:{value}.
func key(purpose, value string) []byte {
	return []byte("nonce:" + purpose + ":" + value)
}
