package nullifier

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/civicledger/referendum-node/crypto/hashers"
)

func testHasher(t *testing.T) hashers.Hasher {
	t.Helper()
	h, err := hashers.New(hashers.VariantHMAC, []byte("test-nullifier-secret"))
	qt.Assert(t, err, qt.IsNil)
	return h
}

func TestComputeDeterminism(t *testing.T) {
	c := qt.New(t)
	h := testHasher(t)

	first, err := Compute(h, "subject-1", "poll-1")
	c.Assert(err, qt.IsNil)
	c.Assert(first, qt.HasLen, 64)

	second, err := Compute(h, "subject-1", "poll-1")
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.Equals, first)
}

func TestComputeDistinctness(t *testing.T) {
	c := qt.New(t)
	h := testHasher(t)

	base, err := Compute(h, "subject-1", "poll-1")
	c.Assert(err, qt.IsNil)

	otherVoter, err := Compute(h, "subject-2", "poll-1")
	c.Assert(err, qt.IsNil)
	c.Assert(otherVoter, qt.Not(qt.Equals), base)

	otherPoll, err := Compute(h, "subject-1", "poll-2")
	c.Assert(err, qt.IsNil)
	c.Assert(otherPoll, qt.Not(qt.Equals), base)
}

func TestComputeNoConcatenationAmbiguity(t *testing.T) {
	c := qt.New(t)
	h := testHasher(t)

	// "ab"+"c" and "a"+"bc" concatenate identically; length prefixing must
	// keep their nullifiers apart.
	left, err := Compute(h, "ab", "c")
	c.Assert(err, qt.IsNil)
	right, err := Compute(h, "a", "bc")
	c.Assert(err, qt.IsNil)
	c.Assert(left, qt.Not(qt.Equals), right)
}

func TestComputeRejectsEmptyInputs(t *testing.T) {
	c := qt.New(t)
	h := testHasher(t)

	_, err := Compute(h, "", "poll-1")
	c.Assert(err, qt.IsNotNil)
	_, err = Compute(h, "subject-1", "")
	c.Assert(err, qt.IsNotNil)
}

func TestVerify(t *testing.T) {
	c := qt.New(t)
	h := testHasher(t)

	claimed, err := Compute(h, "subject-1", "poll-1")
	c.Assert(err, qt.IsNil)
	c.Assert(Verify(h, "subject-1", "poll-1", claimed), qt.IsTrue)
	c.Assert(Verify(h, "subject-2", "poll-1", claimed), qt.IsFalse)
	c.Assert(Verify(h, "subject-1", "poll-2", claimed), qt.IsFalse)
}
