// Package util holds small helpers shared across the node.
package util

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes v as canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace. This is the byte form
// hashed by the audit chain and signed by the receipt signer, so it must be
// stable across deployments.
//
// The value is round-tripped through a generic decode so that struct field
// order does not leak into the output; number literals are preserved
// verbatim via json.Number.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	// encoding/json sorts map keys and emits compact output.
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}
