package hashers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	qt "github.com/frankban/quicktest"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewVariants(t *testing.T) {
	c := qt.New(t)

	h, err := New(VariantHMAC, testSecret)
	c.Assert(err, qt.IsNil)
	c.Assert(h.Name(), qt.Equals, VariantHMAC)

	_, err = New(VariantHMAC, nil)
	c.Assert(err, qt.IsNotNil)

	p, err := New(VariantPoseidon, testSecret)
	c.Assert(err, qt.IsNil)
	c.Assert(p.Name(), qt.Equals, VariantPoseidon)

	_, err = New("sha3", testSecret)
	c.Assert(err, qt.IsNotNil)
}

func TestHMACKeyedHash(t *testing.T) {
	c := qt.New(t)
	h, err := New(VariantHMAC, testSecret)
	c.Assert(err, qt.IsNil)

	got, err := h.KeyedHash([]byte("a"), []byte("b"))
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 64)

	// Deterministic and equal to a direct HMAC-SHA-256 computation.
	mac := hmac.New(sha256.New, testSecret)
	mac.Write([]byte("a"))
	mac.Write([]byte("b"))
	c.Assert(got, qt.Equals, hex.EncodeToString(mac.Sum(nil)))

	again, err := h.KeyedHash([]byte("a"), []byte("b"))
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.Equals, got)

	other, err := h.KeyedHash([]byte("a"), []byte("c"))
	c.Assert(err, qt.IsNil)
	c.Assert(other, qt.Not(qt.Equals), got)
}

func TestHMACVerify(t *testing.T) {
	c := qt.New(t)
	h, err := New(VariantHMAC, testSecret)
	c.Assert(err, qt.IsNil)

	expected, err := h.KeyedHash([]byte("input"))
	c.Assert(err, qt.IsNil)
	c.Assert(h.Verify(expected, []byte("input")), qt.IsTrue)
	c.Assert(h.Verify(expected, []byte("other")), qt.IsFalse)
	c.Assert(h.Verify("not-a-hash", []byte("input")), qt.IsFalse)
}

func TestHMACLeafHash(t *testing.T) {
	c := qt.New(t)
	h, err := New(VariantHMAC, testSecret)
	c.Assert(err, qt.IsNil)

	sum := sha256.Sum256([]byte("leaf data"))
	c.Assert(h.LeafHash([]byte("leaf data")), qt.Equals, hex.EncodeToString(sum[:]))
}

func TestPoseidonDeterminism(t *testing.T) {
	c := qt.New(t)
	h, err := New(VariantPoseidon, testSecret)
	c.Assert(err, qt.IsNil)

	first, err := h.KeyedHash([]byte("subject"), []byte("poll"))
	c.Assert(err, qt.IsNil)
	c.Assert(first, qt.HasLen, 64)

	second, err := h.KeyedHash([]byte("subject"), []byte("poll"))
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.Equals, first)

	distinct, err := h.KeyedHash([]byte("subject"), []byte("poll2"))
	c.Assert(err, qt.IsNil)
	c.Assert(distinct, qt.Not(qt.Equals), first)

	c.Assert(h.Verify(first, []byte("subject"), []byte("poll")), qt.IsTrue)
	c.Assert(h.Verify(first, []byte("subject"), []byte("poll2")), qt.IsFalse)
}

func TestPoseidonSecretSeparation(t *testing.T) {
	c := qt.New(t)
	withSecret, err := New(VariantPoseidon, testSecret)
	c.Assert(err, qt.IsNil)
	withOther, err := New(VariantPoseidon, []byte("another-secret-value-entirely!!"))
	c.Assert(err, qt.IsNil)

	a, err := withSecret.KeyedHash([]byte("x"))
	c.Assert(err, qt.IsNil)
	b, err := withOther.KeyedHash([]byte("x"))
	c.Assert(err, qt.IsNil)
	c.Assert(a, qt.Not(qt.Equals), b)
}

func TestPoseidonLeafHashLength(t *testing.T) {
	c := qt.New(t)
	h, err := New(VariantPoseidon, testSecret)
	c.Assert(err, qt.IsNil)
	c.Assert(h.LeafHash([]byte("some leaf bytes")), qt.HasLen, 64)
}
