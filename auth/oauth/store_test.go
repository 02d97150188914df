package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	store := NewMemStore()

	req := AuthRequest{
		State:           "state1",
		Verifier:        "verifier1",
		ChallengeMethod: "S256",
		Created:         time.Now(),
	}
	require.NoError(store.SaveAuthRequest(ctx, req))

	got, err := store.GetAuthRequest(ctx, "state1")
	require.NoError(err)
	assert.Equal("verifier1", got.Verifier)

	_, err = store.GetAuthRequest(ctx, "missing")
	assert.Error(err)

	require.NoError(store.DeleteAuthRequest(ctx, "state1"))
	_, err = store.GetAuthRequest(ctx, "state1")
	assert.Error(err)
}
