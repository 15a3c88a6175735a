package receipts

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func testPayload() Payload {
	return Payload{
		VoteID:     "3f6e1c9a-0b2d-4a7e-9f15-2b8e6d4c1a90",
		PollID:     "poll-1",
		LeafHash:   "aa11bb22cc33dd44ee55ff6600112233445566778899aabbccddeeff00112233",
		MerkleRoot: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		TS:         "2026-03-14T09:26:00.000Z",
	}
}

func TestSignVerifyRoundtrip(t *testing.T) {
	c := qt.New(t)
	signer, err := GenerateSigner()
	c.Assert(err, qt.IsNil)

	receipt, err := signer.Sign(testPayload())
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.Algorithm, qt.Equals, Algorithm)
	c.Assert(receipt.Version, qt.Equals, Version)
	c.Assert(signer.Verify(receipt), qt.IsTrue)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	c := qt.New(t)
	signer, err := GenerateSigner()
	c.Assert(err, qt.IsNil)

	receipt, err := signer.Sign(testPayload())
	c.Assert(err, qt.IsNil)

	tampered := *receipt
	tampered.Payload.MerkleRoot = "0000000000000000000000000000000000000000000000000000000000000000"
	c.Assert(signer.Verify(&tampered), qt.IsFalse)
}

func TestVerifyRejectsWrongEnvelope(t *testing.T) {
	c := qt.New(t)
	signer, err := GenerateSigner()
	c.Assert(err, qt.IsNil)

	receipt, err := signer.Sign(testPayload())
	c.Assert(err, qt.IsNil)

	wrongVersion := *receipt
	wrongVersion.Version = 2
	c.Assert(signer.Verify(&wrongVersion), qt.IsFalse)

	wrongAlg := *receipt
	wrongAlg.Algorithm = "RSA"
	c.Assert(signer.Verify(&wrongAlg), qt.IsFalse)

	badSig := *receipt
	badSig.Signature = "not base64url!!"
	c.Assert(signer.Verify(&badSig), qt.IsFalse)

	c.Assert(signer.Verify(nil), qt.IsFalse)
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	c := qt.New(t)
	signer, err := GenerateSigner()
	c.Assert(err, qt.IsNil)
	other, err := GenerateSigner()
	c.Assert(err, qt.IsNil)

	receipt, err := signer.Sign(testPayload())
	c.Assert(err, qt.IsNil)
	c.Assert(other.Verify(receipt), qt.IsFalse)
}

func TestPEMRoundtrip(t *testing.T) {
	c := qt.New(t)
	signer, err := GenerateSigner()
	c.Assert(err, qt.IsNil)

	privPEM, err := signer.KeyPEM()
	c.Assert(err, qt.IsNil)
	pubPEM, err := signer.PublicKeyPEM()
	c.Assert(err, qt.IsNil)

	loaded, err := NewSigner(privPEM, pubPEM)
	c.Assert(err, qt.IsNil)

	receipt, err := signer.Sign(testPayload())
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Verify(receipt), qt.IsTrue)
}

func TestNewSignerRejectsMismatchedPair(t *testing.T) {
	c := qt.New(t)
	a, err := GenerateSigner()
	c.Assert(err, qt.IsNil)
	b, err := GenerateSigner()
	c.Assert(err, qt.IsNil)

	privPEM, err := a.KeyPEM()
	c.Assert(err, qt.IsNil)
	pubPEM, err := b.PublicKeyPEM()
	c.Assert(err, qt.IsNil)

	_, err = NewSigner(privPEM, pubPEM)
	c.Assert(err, qt.IsNotNil)
}
