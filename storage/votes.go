package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/db"
	"github.com/civicledger/referendum-node/db/prefixeddb"
	"github.com/civicledger/referendum-node/merkle"
	"github.com/civicledger/referendum-node/types"
)

// CastVote atomically records an accepted ballot: the nullifier joins the
// per-poll set, the vote row is appended at the next sequence number, the
// poll's Merkle root advances over the new leaf and a vote-accepted audit
// entry is chained, all inside one transaction under the global lock. If the
// nullifier is already present nothing is written and ErrAlreadyVoted is
// returned; the caller records the rejection outside the transaction.
//
// clientSig is the voter's client-side binding signature; it is forwarded
// into the audit payload, never stored on the vote row.
//
// vote.Seq and vote.Leaf are assigned here. Returns the updated poll root.
func (s *Storage) CastVote(vote *types.Vote, nullifier []byte, leaf []byte, clientSig string) (*types.PollRoot, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()

	nfKey := append(nullifierPrefix, compositeKey(vote.PollID, nullifier)...)
	if _, err := wTx.Get(nfKey); err == nil {
		return nil, ErrAlreadyVoted
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("nullifier lookup: %w", err)
	}
	if err := wTx.Set(nfKey, []byte{1}); err != nil {
		return nil, err
	}

	root, err := s.pollRootTx(wTx, vote.PollID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		root = &types.PollRoot{PollID: vote.PollID, Root: merkle.EmptyRoot()}
	}
	frontier, err := merkle.RestoreFrontier(root.LeafCount, frontierHeads(root.Frontier))
	if err != nil {
		return nil, err
	}

	vote.Seq = root.LeafCount
	vote.Leaf = leaf
	frontier.Append(leaf)

	voteData, err := EncodeArtifact(vote)
	if err != nil {
		return nil, err
	}
	if err := wTx.Set(append(votePrefix, voteKey(vote.PollID, vote.Seq)...), voteData); err != nil {
		return nil, err
	}
	seqBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBuf, vote.Seq)
	if err := wTx.Set(append(voteIndexPrefix, compositeKey(vote.PollID, []byte(vote.VoteID))...), seqBuf); err != nil {
		return nil, err
	}

	updated := &types.PollRoot{
		PollID:    vote.PollID,
		Root:      frontier.Root(),
		LeafCount: frontier.Count,
		Frontier:  frontierHexHeads(frontier.Heads),
		UpdatedAt: time.Now().UTC(),
	}
	rootData, err := EncodeArtifact(updated)
	if err != nil {
		return nil, err
	}
	if err := wTx.Set(append(rootPrefix, []byte(vote.PollID)...), rootData); err != nil {
		return nil, err
	}

	auditPayload := map[string]any{
		"pollId": vote.PollID,
		"voteId": vote.VoteID,
		"seq":    vote.Seq,
		"root":   updated.Root.String(),
	}
	if clientSig != "" {
		auditPayload["clientSig"] = clientSig
	}
	if _, err := s.chain.AppendTx(
		prefixeddb.NewPrefixedWriteTx(wTx, auditPrefix),
		auditchain.EventVoteAccepted,
		auditPayload,
		s.hasherName, time.Now(),
	); err != nil {
		return nil, err
	}

	if err := wTx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// HasNullifier reports whether the nullifier is already in the poll's set.
func (s *Storage) HasNullifier(pollID string, nullifier []byte) (bool, error) {
	_, err := s.reader(nullifierPrefix).Get(compositeKey(pollID, nullifier))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, db.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// PollRoot returns the current Merkle commitment of a poll. ErrNotFound when
// no vote has been accepted yet.
func (s *Storage) PollRoot(pollID string) (*types.PollRoot, error) {
	root := &types.PollRoot{}
	if err := s.getArtifact(rootPrefix, []byte(pollID), root); err != nil {
		return nil, err
	}
	return root, nil
}

// Vote retrieves an accepted vote by its public vote id.
func (s *Storage) Vote(pollID, voteID string) (*types.Vote, error) {
	seqBuf, err := s.reader(voteIndexPrefix).Get(compositeKey(pollID, []byte(voteID)))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	vote := &types.Vote{}
	if err := s.getArtifact(votePrefix, voteKey(pollID, binary.BigEndian.Uint64(seqBuf)), vote); err != nil {
		return nil, err
	}
	return vote, nil
}

// IterateVotes walks a poll's accepted votes in insertion order. The
// callback returns false to stop.
func (s *Storage) IterateVotes(pollID string, fn func(*types.Vote) bool) error {
	var iterErr error
	prefix := append([]byte(pollID), keySep)
	if err := s.reader(votePrefix).Iterate(prefix, func(_, value []byte) bool {
		vote := &types.Vote{}
		if err := DecodeArtifact(value, vote); err != nil {
			iterErr = err
			return false
		}
		return fn(vote)
	}); err != nil {
		return err
	}
	return iterErr
}

// VoteCount returns the number of accepted votes of a poll.
func (s *Storage) VoteCount(pollID string) (uint64, error) {
	root, err := s.PollRoot(pollID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return root.LeafCount, nil
}

// pollRootTx reads the poll root inside an open transaction.
func (s *Storage) pollRootTx(wTx db.WriteTx, pollID string) (*types.PollRoot, error) {
	data, err := wTx.Get(append(rootPrefix, []byte(pollID)...))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	root := &types.PollRoot{}
	if err := DecodeArtifact(data, root); err != nil {
		return nil, err
	}
	return root, nil
}

func voteKey(pollID string, seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return compositeKey(pollID, buf)
}

func frontierHeads(heads []types.HexBytes) [][]byte {
	out := make([][]byte, len(heads))
	for i, h := range heads {
		out[i] = h
	}
	return out
}

func frontierHexHeads(heads [][]byte) []types.HexBytes {
	out := make([]types.HexBytes, len(heads))
	for i, h := range heads {
		out[i] = h
	}
	return out
}
