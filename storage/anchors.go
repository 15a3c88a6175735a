package storage

import (
	"encoding/binary"

	"github.com/civicledger/referendum-node/types"
)

// SetAnchor records a ledger anchoring of a poll root. Anchors are
// append-only, keyed by submission time.
func (s *Storage) SetAnchor(anchor *types.Anchor) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(anchor.SubmittedAt.UnixNano()))
	return s.setArtifact(anchorPrefix, compositeKey(anchor.PollID, buf), anchor)
}

// LastAnchor returns a poll's most recent anchor, or ErrNotFound when the
// poll has never been anchored.
func (s *Storage) LastAnchor(pollID string) (*types.Anchor, error) {
	anchors, err := s.Anchors(pollID)
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, ErrNotFound
	}
	return anchors[len(anchors)-1], nil
}

// Anchors returns all anchors of a poll in submission order.
func (s *Storage) Anchors(pollID string) ([]*types.Anchor, error) {
	var anchors []*types.Anchor
	var iterErr error
	prefix := append([]byte(pollID), keySep)
	if err := s.reader(anchorPrefix).Iterate(prefix, func(_, value []byte) bool {
		anchor := &types.Anchor{}
		if err := DecodeArtifact(value, anchor); err != nil {
			iterErr = err
			return false
		}
		anchors = append(anchors, anchor)
		return true
	}); err != nil {
		return nil, err
	}
	return anchors, iterErr
}
