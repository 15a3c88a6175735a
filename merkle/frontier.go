package merkle

import (
	"fmt"
	"math/bits"
)

// Frontier is the incremental tree state: one pending subtree root per set
// bit of Count (a binary counter of complete subtrees). Appending is
// O(log n) and Root() reproduces Build over the full leaf sequence, which
// lets the vote transaction advance the poll root without reloading leaves.
type Frontier struct {
	Count uint64
	Heads [][]byte // Heads[i] is the root of a complete subtree of 2^i leaves, nil when bit i of Count is clear
}

// NewFrontier returns the frontier of an empty tree.
func NewFrontier() *Frontier {
	return &Frontier{}
}

// RestoreFrontier rebuilds a frontier from persisted state, validating that
// the heads match the set bits of count.
func RestoreFrontier(count uint64, heads [][]byte) (*Frontier, error) {
	f := &Frontier{Count: count, Heads: heads}
	for i := range f.Heads {
		bitSet := count&(1<<uint(i)) != 0
		if bitSet != (len(f.Heads[i]) > 0) {
			return nil, fmt.Errorf("frontier corrupt: head %d inconsistent with leaf count %d", i, count)
		}
	}
	return f, nil
}

// Append merges a new leaf into the frontier.
func (f *Frontier) Append(leaf []byte) {
	carry := leaf
	level := 0
	for f.Count&(1<<uint(level)) != 0 {
		carry = hashPair(f.head(level), carry)
		f.setHead(level, nil)
		level++
	}
	f.setHead(level, carry)
	f.Count++
}

// Root folds the pending subtrees into the current root, applying the
// duplicate-odd rule on every ascent where a subtree sits alone at its
// level.
func (f *Frontier) Root() []byte {
	if f.Count == 0 {
		return EmptyRoot()
	}
	if f.Count == 1 {
		return Build([][]byte{f.head(0)})
	}
	topBit := 63 - bits.LeadingZeros64(f.Count)
	var carry []byte
	for i := 0; i <= topBit; i++ {
		head := f.head(i)
		switch {
		case head != nil && carry != nil:
			carry = hashPair(head, carry)
		case head != nil && i == topBit:
			carry = head
		case head != nil:
			// Lone complete subtree below the top: odd at this level.
			carry = hashPair(head, head)
		case carry != nil:
			carry = hashPair(carry, carry)
		}
	}
	return carry
}

func (f *Frontier) head(level int) []byte {
	if level >= len(f.Heads) || len(f.Heads[level]) == 0 {
		return nil
	}
	return f.Heads[level]
}

func (f *Frontier) setHead(level int, h []byte) {
	for len(f.Heads) <= level {
		f.Heads = append(f.Heads, nil)
	}
	f.Heads[level] = h
}
