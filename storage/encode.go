package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Artifacts are stored CBOR-encoded with deterministic options, so that
// identical artifacts always produce identical bytes. Timestamps keep
// nanosecond precision (RFC 3339) because the audit chain re-hashes them on
// verification.

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode mode: %v", err))
	}
}

// EncodeArtifact encodes an artifact into deterministic CBOR.
func EncodeArtifact(a any) ([]byte, error) {
	data, err := encMode.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return data, nil
}

// DecodeArtifact decodes a CBOR-encoded artifact into out.
func DecodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}
