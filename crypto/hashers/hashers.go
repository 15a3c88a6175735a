// Package hashers is the crypto registry: it selects, at startup, the keyed
// hasher used for nullifiers and the leaf hasher used for Merkle leaves, and
// exposes them process-wide. Selection is immutable after Init.
package hashers

import (
	"fmt"
	"sync"
)

// Variant names accepted by Init.
const (
	VariantHMAC     = "hmac"
	VariantPoseidon = "poseidon"
)

// HashLen is the byte length of every hasher output; hex form is 64 chars.
const HashLen = 32

// Hasher is the capability set shared by all hasher families.
type Hasher interface {
	// Name returns the active variant name, surfaced in audit entries.
	Name() string
	// KeyedHash returns the 64-hex-char keyed hash of the inputs. It is
	// unforgeable without the registry secret.
	KeyedHash(inputs ...[]byte) (string, error)
	// Verify recomputes the keyed hash of the inputs and compares it with
	// expected in constant time.
	Verify(expected string, inputs ...[]byte) bool
	// LeafHash returns the 64-hex-char unkeyed hash of data, used for
	// Merkle leaves.
	LeafHash(data []byte) string
}

var (
	registryOnce   sync.Once
	registryHasher Hasher
	registryErr    error
)

// New builds a hasher of the given variant. The secret is required for the
// hmac variant and, when present, is also bound into the poseidon variant
// for domain separation.
func New(variant string, secret []byte) (Hasher, error) {
	switch variant {
	case VariantHMAC:
		if len(secret) == 0 {
			return nil, fmt.Errorf("hasher variant %q requires a secret", variant)
		}
		return newHMACHasher(secret), nil
	case VariantPoseidon:
		return newPoseidonHasher(secret), nil
	default:
		return nil, fmt.Errorf("unknown hasher variant: %q", variant)
	}
}

// Init selects the process-wide hasher. It is idempotent: the first call
// wins and subsequent calls return the first result. A missing secret under
// the hmac variant fails startup.
func Init(variant string, secret []byte) (Hasher, error) {
	registryOnce.Do(func() {
		registryHasher, registryErr = New(variant, secret)
	})
	return registryHasher, registryErr
}

// Active returns the process-wide hasher, or an error if Init has not been
// called or failed.
func Active() (Hasher, error) {
	if registryErr != nil {
		return nil, registryErr
	}
	if registryHasher == nil {
		return nil, fmt.Errorf("crypto registry not initialized")
	}
	return registryHasher, nil
}
