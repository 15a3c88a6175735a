// Package nullifier derives the per-(voter, poll) opaque identifier that
// enforces one ballot per voter without storing who voted.
package nullifier

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/civicledger/referendum-node/crypto/hashers"
)

// Compute derives the nullifier for a voter subject and poll. The two inputs
// are length-prefixed (4-byte big-endian UTF-8 byte length) before keyed
// hashing, so no pair of distinct (subject, poll) strings can collide by
// concatenation ambiguity.
func Compute(h hashers.Hasher, voterSubject, pollID string) (string, error) {
	if voterSubject == "" || pollID == "" {
		return "", fmt.Errorf("empty nullifier input")
	}
	return h.KeyedHash(lengthPrefixed(voterSubject), lengthPrefixed(pollID))
}

// Verify re-derives the nullifier and compares it with the claimed value in
// constant time.
func Verify(h hashers.Hasher, voterSubject, pollID, claimed string) bool {
	computed, err := Compute(h, voterSubject, pollID)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(claimed)) == 1
}

func lengthPrefixed(s string) []byte {
	out := make([]byte, 4, 4+len(s))
	binary.BigEndian.PutUint32(out, uint32(len(s)))
	return append(out, s...)
}
