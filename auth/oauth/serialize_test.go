package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSerializeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	sess := &Session{
		ClientID:    "client1",
		RedirectURI: "https://app.example.com/callback",
		PortalURL:   "https://myorg.maps.arcgis.com",
		Username:    "jsmith",
	}
	sess.token = "access1"
	sess.tokenExpires = time.Now().Add(30 * time.Minute)
	sess.refreshToken = "refresh1"
	sess.refreshTokenExpires = time.Now().Add(24 * time.Hour)

	data, err := sess.Serialize()
	require.NoError(err)

	restored, err := Deserialize(data)
	require.NoError(err)
	assert.Equal("client1", restored.ClientID)
	assert.Equal("jsmith", restored.Username)
	assert.True(restored.CanRefresh())
}

func TestSessionSerializePublicStripsRefreshToken(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	sess := &Session{ClientID: "client1", PortalURL: "https://myorg.maps.arcgis.com"}
	sess.token = "access1"
	sess.tokenExpires = time.Now().Add(30 * time.Minute)
	sess.refreshToken = "refresh1"

	data, err := sess.SerializePublic()
	require.NoError(err)
	assert.NotContains(string(data), "refresh1")

	restored, err := Deserialize(data)
	require.NoError(err)
	// usable until the access token expires, but cannot silently renew
	assert.False(restored.CanRefresh())
}

func TestDeserializeRejectsOtherTypes(t *testing.T) {
	require := require.New(t)

	_, err := Deserialize([]byte(`{"type":"APIKey","key":"AAPK-x"}`))
	require.Error(err)
}
