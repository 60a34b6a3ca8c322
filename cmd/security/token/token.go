package token

import (
	"crypto/rand"
	"encoding/base64"
)

// DefaultBytes is the default entropy size for opaque tokens.
// 32 bytes -> 43 base64url chars, far beyond practical collision range.
const DefaultBytes = 32

// NewOpaque returns a cryptographically random token string.
// It is URL-safe (base64url, no padding) and is stored server-side as-is;
// there is no derived or hashed form.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultBytes
	}

	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
