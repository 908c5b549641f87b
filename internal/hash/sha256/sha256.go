// Package sha256 fingerprints raw upstream payloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Prefix tags every digest with its algorithm, as in "sha256:<hex>".
const Prefix = "sha256:"

// Hasher implements solves.Hasher.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns Prefix followed by the lowercase hex SHA-256 of payload.
func (*Hasher) Hash(payload []byte) (string, error) {
	h := sha256.New()
	if _, err := h.Write(payload); err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}
