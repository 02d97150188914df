package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// SecureCrypto supplies the randomness and hashing needed for PKCE. It is
// injected so constrained builds and tests can substitute their own;
// passing nil anywhere selects the standard library implementation.
//
// SHA256 may return nil to signal that no secure hash is available, in
// which case the flow falls back to the plain-text challenge method.
type SecureCrypto interface {
	RandomBytes(n int) ([]byte, error)
	SHA256(data []byte) []byte
}

type stdCrypto struct{}

func (stdCrypto) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (stdCrypto) SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DefaultCrypto is the crypto/rand + crypto/sha256 implementation.
var DefaultCrypto SecureCrypto = stdCrypto{}

// Challenge is a generated PKCE verifier/challenge pair.
type Challenge struct {
	Verifier  string
	Challenge string

	// Method is "S256", or "plain" when the crypto capability has no
	// secure hash.
	Method string
}

// NewChallenge generates a fresh PKCE pair: a random base64url verifier
// and its SHA-256 challenge (base64url, no padding).
func NewChallenge(c SecureCrypto) (*Challenge, error) {
	if c == nil {
		c = DefaultCrypto
	}
	buf, err := c.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generating PKCE verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(buf)

	if sum := c.SHA256([]byte(verifier)); sum != nil {
		return &Challenge{
			Verifier:  verifier,
			Challenge: base64.RawURLEncoding.EncodeToString(sum),
			Method:    "S256",
		}, nil
	}
	return &Challenge{Verifier: verifier, Challenge: verifier, Method: "plain"}, nil
}

func randomState(c SecureCrypto) (string, error) {
	if c == nil {
		c = DefaultCrypto
	}
	buf, err := c.RandomBytes(16)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
