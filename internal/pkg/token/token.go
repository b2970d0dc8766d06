// Package token generates opaque bearer tokens for agent authentication.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Size is the number of random bytes in a generated token.
const Size = 32

// New returns a fresh API key: 32 uniformly random bytes encoded as
// URL-safe base64 without padding. The token is stored and compared
// verbatim; it is the client's sole credential.
func New() (string, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
