// Package receipts issues and verifies the Ed25519-signed vote receipts a
// voter can check against the node's published public key.
package receipts

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/civicledger/referendum-node/util"
)

// Algorithm and Version identify the only receipt format this node emits.
const (
	Algorithm = "Ed25519"
	Version   = 1
)

// Payload is the signed content of a receipt (format version 1). All fields
// are strings; LeafHash and MerkleRoot are bare lowercase hex without a
// "0x" prefix, TS is RFC 3339 UTC.
type Payload struct {
	VoteID     string `json:"voteId"`
	PollID     string `json:"pollId"`
	LeafHash   string `json:"leafHash"`
	MerkleRoot string `json:"merkleRoot"`
	TS         string `json:"ts"`
}

// SignedReceipt is the envelope returned to the voter. The signature is
// computed over the canonical JSON serialization of the payload and encoded
// base64url without padding.
type SignedReceipt struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
	Algorithm string  `json:"algorithm"`
	Version   int     `json:"version"`
}

// Signer holds the node's receipt keypair.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner builds a signer from PEM-encoded PKCS#8 private and PKIX public
// keys (the forms kept in the secret store).
func NewSigner(privPEM, pubPEM []byte) (*Signer, error) {
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, fmt.Errorf("receipt private key: no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("receipt private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("receipt private key: not an Ed25519 key")
	}

	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("receipt public key: no PEM block found")
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("receipt public key: %w", err)
	}
	pub, ok := pubAny.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("receipt public key: not an Ed25519 key")
	}
	if !pub.Equal(priv.Public()) {
		return nil, fmt.Errorf("receipt keypair mismatch")
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// GenerateSigner creates a fresh keypair. Used by tests and by first-run
// provisioning.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// PublicKeyPEM returns the PKIX PEM encoding of the public key, the single
// value an external verifier needs.
func (s *Signer) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(s.pub)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// KeyPEM returns the PKCS#8 PEM encoding of the private key, for persisting
// a generated keypair.
func (s *Signer) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(s.priv)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// Sign produces the signed receipt for a payload. Deterministic given the
// key: Ed25519 signatures carry no randomness.
func (s *Signer) Sign(p Payload) (*SignedReceipt, error) {
	msg, err := util.CanonicalJSON(p)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(s.priv, msg)
	return &SignedReceipt{
		Payload:   p,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
		Algorithm: Algorithm,
		Version:   Version,
	}, nil
}

// Verify checks a signed receipt against the public key. It rejects wrong
// versions, wrong algorithms, tampered payloads and corrupted signatures.
func (s *Signer) Verify(r *SignedReceipt) bool {
	return VerifyWithKey(s.pub, r)
}

// VerifySignature checks only the Ed25519 signature over the canonical
// payload, ignoring the envelope version and algorithm fields. Lets a
// verifier report a correct signature inside an unrecognized envelope.
func (s *Signer) VerifySignature(r *SignedReceipt) bool {
	return SignatureValid(s.pub, r)
}

// VerifyWithKey checks a signed receipt against an arbitrary public key, the
// operation an external verifier performs.
func VerifyWithKey(pub ed25519.PublicKey, r *SignedReceipt) bool {
	if r == nil || r.Version != Version || r.Algorithm != Algorithm {
		return false
	}
	return SignatureValid(pub, r)
}

// SignatureValid checks the detached signature over the canonical payload.
func SignatureValid(pub ed25519.PublicKey, r *SignedReceipt) bool {
	if r == nil {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(r.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg, err := util.CanonicalJSON(r.Payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
