package storage

import (
	"encoding/binary"
	"time"
)

// QueryRecord is one served aggregation query, kept for the differencing
// defense: a new query over a strict subset of a previously served query's
// dimensions that would reveal fewer cells than the earlier answer must be
// refused, or subtracting the two answers would expose suppressed cells.
type QueryRecord struct {
	PollID       string    `json:"pollId" cbor:"1,keyasint"`
	Dims         []string  `json:"dims" cbor:"2,keyasint"`
	VisibleCells int       `json:"visibleCells" cbor:"3,keyasint"`
	LeafCount    uint64    `json:"leafCount" cbor:"4,keyasint"`
	ServedAt     time.Time `json:"servedAt" cbor:"5,keyasint"`
}

// LogQuery records a served aggregation query.
func (s *Storage) LogQuery(rec *QueryRecord) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(rec.ServedAt.UnixNano()))
	return s.setArtifact(queryLogPrefix, compositeKey(rec.PollID, buf), rec)
}

// QueryLog returns the served aggregation queries of a poll in time order.
func (s *Storage) QueryLog(pollID string) ([]*QueryRecord, error) {
	var recs []*QueryRecord
	var iterErr error
	prefix := append([]byte(pollID), keySep)
	if err := s.reader(queryLogPrefix).Iterate(prefix, func(_, value []byte) bool {
		rec := &QueryRecord{}
		if err := DecodeArtifact(value, rec); err != nil {
			iterErr = err
			return false
		}
		recs = append(recs, rec)
		return true
	}); err != nil {
		return nil, err
	}
	return recs, iterErr
}
