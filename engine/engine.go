// Package engine is the vote submission pipeline: it takes a ballot
// request, decides atomically whether to accept it, and leaves the node in
// a consistent state. All validation happens before any write; the write
// itself is a single storage transaction covering the nullifier, the vote
// row, the Merkle root advance and the audit entry.
package engine

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/credentials"
	"github.com/civicledger/referendum-node/crypto/hashers"
	"github.com/civicledger/referendum-node/crypto/nullifier"
	"github.com/civicledger/referendum-node/crypto/receipts"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/merkle"
	"github.com/civicledger/referendum-node/noncestore"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

// DefaultBucketWindow is the timestamp coarsening window applied to every
// accepted ballot. Wider windows weaken the temporal link between the
// nullifier insert and the vote row.
const DefaultBucketWindow = 60 * time.Second

// Request is one ballot submission. Nullifier is the client's self-derived
// value for self-service verification and is optional; the server-derived
// value is always authoritative. Signature is an opaque client-side binding
// forwarded into the audit payload. Attestation is the device attestation
// token, required only when the engine is configured to demand it.
type Request struct {
	PollID      string `json:"pollId"`
	OptionID    string `json:"optionId"`
	Nonce       string `json:"nonce"`
	Credential  string `json:"credential"`
	Nullifier   string `json:"nullifier,omitempty"`
	Signature   string `json:"signature,omitempty"`
	Attestation string `json:"attestation,omitempty"`
}

// Result is returned for an accepted ballot.
type Result struct {
	VoteID  string                  `json:"voteId"`
	TxRef   string                  `json:"txRef"`
	Root    types.HexBytes          `json:"root"`
	Receipt *receipts.SignedReceipt `json:"receipt"`
}

// Engine wires the submission pipeline together.
type Engine struct {
	store              *storage.Storage
	nonces             *noncestore.Store
	hasher             hashers.Hasher
	signer             *receipts.Signer
	creds              *credentials.Verifier
	bucketWindow       time.Duration
	requireAttestation bool
}

// Config collects the engine dependencies.
type Config struct {
	Storage            *storage.Storage
	Nonces             *noncestore.Store
	Hasher             hashers.Hasher
	Signer             *receipts.Signer
	Credentials        *credentials.Verifier
	BucketWindow       time.Duration
	RequireAttestation bool
}

// New creates an engine. All dependencies are required; BucketWindow <= 0
// selects DefaultBucketWindow.
func New(cfg Config) (*Engine, error) {
	if cfg.Storage == nil || cfg.Nonces == nil || cfg.Hasher == nil ||
		cfg.Signer == nil || cfg.Credentials == nil {
		return nil, errors.New("engine: missing dependency")
	}
	window := cfg.BucketWindow
	if window <= 0 {
		window = DefaultBucketWindow
	}
	return &Engine{
		store:              cfg.Storage,
		nonces:             cfg.Nonces,
		hasher:             cfg.Hasher,
		signer:             cfg.Signer,
		creds:              cfg.Credentials,
		bucketWindow:       window,
		requireAttestation: cfg.RequireAttestation,
	}, nil
}

// SubmitVote runs the full submission pipeline. The ordering is binding:
// nonce redemption, poll and option checks, eligibility and nullifier
// derivation all precede any database write, and the nullifier insert is the
// serialization point for double-vote prevention. Operational failures come
// back as the sentinel errors of the types package; anything else is fatal
// to the request and retryable with a fresh nonce.
func (e *Engine) SubmitVote(ctx context.Context, req *Request) (*Result, error) {
	cred, err := e.creds.Verify(req.Credential)
	if err != nil {
		return nil, err
	}

	if err := e.consumeNonce(req.Nonce, req.PollID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	poll, err := e.store.Poll(req.PollID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: poll %s", types.ErrNotFound, req.PollID)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}
	if !poll.AcceptsVotesAt(now) {
		return nil, fmt.Errorf("%w: poll %s", types.ErrPollInactive, req.PollID)
	}
	if !poll.HasOption(req.OptionID) {
		return nil, fmt.Errorf("%w: option %s", types.ErrOptionInvalid, req.OptionID)
	}
	if e.requireAttestation && req.Attestation == "" {
		return nil, fmt.Errorf("%w: device attestation required", types.ErrIneligible)
	}
	if err := checkEligibility(poll, cred.Demographics); err != nil {
		e.audit(auditchain.EventVoteRejectedInelig, map[string]string{
			"pollId": req.PollID,
			"reason": err.Error(),
		})
		return nil, err
	}

	serverNullifier, err := nullifier.Compute(e.hasher, cred.Subject, req.PollID)
	if err != nil {
		return nil, err
	}
	if req.Nullifier != "" &&
		subtle.ConstantTimeCompare([]byte(serverNullifier), []byte(req.Nullifier)) != 1 {
		e.audit(auditchain.EventNullifierMismatch, map[string]string{
			"pollId": req.PollID,
		})
		return nil, types.ErrNullifierMismatch
	}

	bucketTS := now.Truncate(e.bucketWindow)
	leafHex := e.hasher.LeafHash(merkle.LeafPreimage(req.PollID, req.OptionID, serverNullifier, bucketTS))
	leaf, err := hex.DecodeString(leafHex)
	if err != nil {
		return nil, fmt.Errorf("leaf hash: %w", err)
	}

	vote := &types.Vote{
		VoteID:       uuid.NewString(),
		PollID:       req.PollID,
		OptionID:     req.OptionID,
		Demographics: cred.Demographics,
		BucketTS:     bucketTS,
	}
	root, err := e.store.CastVote(vote, []byte(serverNullifier), leaf, req.Signature)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyVoted) {
			e.audit(auditchain.EventVoteRejectedDup, map[string]string{
				"pollId": req.PollID,
			})
			return nil, types.ErrAlreadyVoted
		}
		return nil, fmt.Errorf("%w: %v", types.ErrBackingStoreUnavailable, err)
	}

	receipt, err := e.signer.Sign(receipts.Payload{
		VoteID:     vote.VoteID,
		PollID:     vote.PollID,
		LeafHash:   leafHex,
		MerkleRoot: root.Root.Hex(),
		TS:         bucketTS.Format(merkle.TimeLayout),
	})
	if err != nil {
		// The vote is committed; a receipt signing failure must not undo it.
		log.Errorw(err, "receipt signing failed after commit")
		return nil, fmt.Errorf("receipt: %w", err)
	}

	return &Result{
		VoteID:  vote.VoteID,
		TxRef:   uuid.NewString(),
		Root:    root.Root,
		Receipt: receipt,
	}, nil
}

// consumeNonce redeems the request nonce under the vote purpose. A consumed
// nonce showing up again is chained as a replay attempt.
func (e *Engine) consumeNonce(nonce, pollID string) error {
	err := e.nonces.VerifyAndConsume(nonce, noncestore.PurposeVote)
	if err == nil {
		return nil
	}
	if errors.Is(err, noncestore.ErrNonceConsumed) {
		e.audit(auditchain.EventNonceReplayAttempt, map[string]string{
			"pollId": pollID,
		})
		return fmt.Errorf("%w: already consumed", types.ErrNonceInvalid)
	}
	if errors.Is(err, noncestore.ErrNonceNotFound) || errors.Is(err, noncestore.ErrUnknownPurpose) {
		return fmt.Errorf("%w: %v", types.ErrNonceInvalid, err)
	}
	// Backing store failure: fail closed.
	return err
}

func (e *Engine) audit(kind string, payload any) {
	if _, err := e.store.AppendAudit(kind, payload); err != nil {
		log.Errorw(err, "failed to append audit entry")
	}
}
