package storage

import (
	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/types"
)

// SetPoll stores or replaces a poll read model. Publishing an active poll
// appends a poll-published audit entry carrying only the poll id.
func (s *Storage) SetPoll(poll *types.Poll) error {
	wasActive := false
	if existing, err := s.Poll(poll.ID); err == nil {
		wasActive = existing.Status == types.PollStatusActive
	}
	if err := s.setArtifact(pollPrefix, []byte(poll.ID), poll); err != nil {
		return err
	}
	if poll.Status == types.PollStatusActive && !wasActive {
		if _, err := s.AppendAudit(auditchain.EventPollPublished, map[string]string{
			"pollId": poll.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Poll retrieves a poll by id. Returns ErrNotFound when unknown.
func (s *Storage) Poll(pollID string) (*types.Poll, error) {
	poll := &types.Poll{}
	if err := s.getArtifact(pollPrefix, []byte(pollID), poll); err != nil {
		return nil, err
	}
	return poll, nil
}

// ListPolls returns all stored polls, in key order.
func (s *Storage) ListPolls() ([]*types.Poll, error) {
	var polls []*types.Poll
	var iterErr error
	if err := s.reader(pollPrefix).Iterate(nil, func(_, value []byte) bool {
		poll := &types.Poll{}
		if err := DecodeArtifact(value, poll); err != nil {
			iterErr = err
			return false
		}
		polls = append(polls, poll)
		return true
	}); err != nil {
		return nil, err
	}
	return polls, iterErr
}
