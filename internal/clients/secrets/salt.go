package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SaltBytes is the raw salt size (256 bits).
const SaltBytes = 32

// GenerateSalt creates a cryptographically secure IP hashing salt.
// Returns a base64url string so it can be embedded in JSON verbatim.
func GenerateSalt() (string, error) {
	buf := make([]byte, SaltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
