// Package sha256 adapts crypto/sha256 to the engine.Hasher contract.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher produces hex-encoded SHA-256 digests for dedup keys.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests the key material and returns it as lowercase hex.
func (Hasher) Hash(data []byte) (string, error) {
	h := sha256.New()
	if _, err := h.Write(data); err != nil {
		return "", fmt.Errorf("hash write: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
