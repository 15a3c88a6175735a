package hashers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// hmacHasher is the default hasher family: HMAC-SHA-256 for keyed hashes and
// plain SHA-256 for Merkle leaves.
type hmacHasher struct {
	secret []byte
}

func newHMACHasher(secret []byte) *hmacHasher {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &hmacHasher{secret: key}
}

func (h *hmacHasher) Name() string { return VariantHMAC }

func (h *hmacHasher) KeyedHash(inputs ...[]byte) (string, error) {
	mac := hmac.New(sha256.New, h.secret)
	for _, in := range inputs {
		// Writes to a hash never fail.
		mac.Write(in)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (h *hmacHasher) Verify(expected string, inputs ...[]byte) bool {
	computed, err := h.KeyedHash(inputs...)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}

func (h *hmacHasher) LeafHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
