package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedCrypto returns predictable bytes, optionally with no secure hash.
type fixedCrypto struct {
	noHash bool
}

func (f fixedCrypto) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf, nil
}

func (f fixedCrypto) SHA256(data []byte) []byte {
	if f.noHash {
		return nil
	}
	sum := sha256.Sum256(data)
	return sum[:]
}

func TestNewChallengeS256(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	chal, err := NewChallenge(nil)
	require.NoError(err)
	assert.Equal("S256", chal.Method)

	raw, err := base64.RawURLEncoding.DecodeString(chal.Verifier)
	require.NoError(err)
	assert.Len(raw, 32)

	sum := sha256.Sum256([]byte(chal.Verifier))
	assert.Equal(base64.RawURLEncoding.EncodeToString(sum[:]), chal.Challenge)
	assert.NotEqual(chal.Verifier, chal.Challenge)
}

func TestNewChallengeUnique(t *testing.T) {
	require := require.New(t)

	a, err := NewChallenge(nil)
	require.NoError(err)
	b, err := NewChallenge(nil)
	require.NoError(err)
	require.NotEqual(a.Verifier, b.Verifier)
}

func TestNewChallengePlainFallback(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	chal, err := NewChallenge(fixedCrypto{noHash: true})
	require.NoError(err)
	assert.Equal("plain", chal.Method)
	assert.Equal(chal.Verifier, chal.Challenge)
}
