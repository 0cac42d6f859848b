// Package sha256 content-addresses archived documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher implements crawler.Hasher with a hex-encoded SHA-256 digest.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the digest of body.
func (h *Hasher) Hash(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// HashReader digests r without buffering it whole.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	d := sha256.New()
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("digest stream: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}
