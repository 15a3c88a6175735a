package hashers

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// poseidonHasher hashes over the BN254 scalar field. Arbitrary byte inputs
// are first reduced into the field through SHA-256; the registry secret is
// prepended as the first field element for domain separation.
type poseidonHasher struct {
	secretElem *big.Int
}

func newPoseidonHasher(secret []byte) *poseidonHasher {
	return &poseidonHasher{secretElem: reduceToField(secret)}
}

// reduceToField maps arbitrary bytes to a BN254 field element via SHA-256.
func reduceToField(data []byte) *big.Int {
	sum := sha256.Sum256(data)
	e := new(big.Int).SetBytes(sum[:])
	return e.Mod(e, constants.Q)
}

func (h *poseidonHasher) Name() string { return VariantPoseidon }

func (h *poseidonHasher) KeyedHash(inputs ...[]byte) (string, error) {
	elems := make([]*big.Int, 0, len(inputs)+1)
	elems = append(elems, h.secretElem)
	for _, in := range inputs {
		elems = append(elems, reduceToField(in))
	}
	out, err := poseidon.Hash(elems)
	if err != nil {
		return "", fmt.Errorf("poseidon hash: %w", err)
	}
	return fieldElemHex(out), nil
}

func (h *poseidonHasher) Verify(expected string, inputs ...[]byte) bool {
	computed, err := h.KeyedHash(inputs...)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}

func (h *poseidonHasher) LeafHash(data []byte) string {
	out, err := poseidon.Hash([]*big.Int{reduceToField(data)})
	if err != nil {
		// Single in-field element cannot exceed the permutation width.
		panic(fmt.Sprintf("poseidon leaf hash: %v", err))
	}
	return fieldElemHex(out)
}

// fieldElemHex encodes a field element as 32 big-endian bytes in hex, so all
// hasher variants produce 64-char outputs.
func fieldElemHex(e *big.Int) string {
	buf := make([]byte, HashLen)
	e.FillBytes(buf)
	return hex.EncodeToString(buf)
}
