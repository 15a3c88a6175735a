// Package merkle maintains the per-poll append-only SHA-256 Merkle tree that
// commits to the ordered sequence of accepted votes.
//
// Canonical construction (frozen; external verifiers depend on it):
//   - leaf = LeafHash over "pollID|optionID|nullifierHex|bucketTs" where the
//     delimiter is '|' (0x7C) and bucketTs is RFC 3339 UTC with millisecond
//     precision;
//   - internal node = SHA-256 over the raw 32-byte concatenation of its two
//     children;
//   - a level with an odd node count duplicates its last node;
//   - the empty tree's root is SHA-256("EMPTY_TREE");
//   - a one-leaf tree's root is SHA-256 of that leaf (hashed once more, not
//     the leaf itself).
package merkle

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Delimiter is the leaf pre-image field separator.
const Delimiter = "|"

// TimeLayout is the bucket timestamp format inside leaf pre-images.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// emptyTreePreimage is the ASCII constant hashed into the zero-leaf root.
const emptyTreePreimage = "EMPTY_TREE"

// EmptyRoot returns the root of a tree with no leaves.
func EmptyRoot() []byte {
	sum := sha256.Sum256([]byte(emptyTreePreimage))
	return sum[:]
}

// LeafPreimage builds the canonical byte form hashed into a leaf.
func LeafPreimage(pollID, optionID, nullifierHex string, bucketTS time.Time) []byte {
	return []byte(pollID + Delimiter + optionID + Delimiter + nullifierHex +
		Delimiter + bucketTS.UTC().Format(TimeLayout))
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Build computes the root over the full leaf sequence. Pure; used by audits
// and by the startup root check.
func Build(leaves [][]byte) []byte {
	switch len(leaves) {
	case 0:
		return EmptyRoot()
	case 1:
		sum := sha256.Sum256(leaves[0])
		return sum[:]
	}
	level := make([][]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// Proof returns the sibling hashes from the leaf at index up to the root.
// For a one-leaf tree the proof is empty; VerifyProof accounts for the extra
// hash of that case.
func Proof(leaves [][]byte, index uint64) ([][]byte, error) {
	if index >= uint64(len(leaves)) {
		return nil, fmt.Errorf("leaf index %d out of range (%d leaves)", index, len(leaves))
	}
	if len(leaves) == 1 {
		return [][]byte{}, nil
	}
	var path [][]byte
	level := make([][]byte, len(leaves))
	copy(level, leaves)
	idx := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		sib := idx ^ 1
		path = append(path, level[sib])
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
		idx /= 2
	}
	return path, nil
}

// VerifyProof checks that leaf sits at index under expectedRoot given the
// sibling path.
func VerifyProof(leaf []byte, index uint64, path [][]byte, expectedRoot []byte) bool {
	cur := leaf
	if len(path) == 0 {
		// One-leaf tree: the root is the leaf hashed once more.
		sum := sha256.Sum256(cur)
		cur = sum[:]
		return equalHash(cur, expectedRoot)
	}
	idx := index
	for _, sib := range path {
		if idx%2 == 0 {
			cur = hashPair(cur, sib)
		} else {
			cur = hashPair(sib, cur)
		}
		idx /= 2
	}
	return equalHash(cur, expectedRoot)
}

func equalHash(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
