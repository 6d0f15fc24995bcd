package account

import (
	"crypto/rand"
	"encoding/base64"
)

const sessionTokenBytes = 32

// NewSessionToken returns a URL-safe bearer token with 32 bytes of entropy
// from the platform CSPRNG.
func NewSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
