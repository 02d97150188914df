package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gis-tools/arcrest/request"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expiredSession returns a session whose access token is stale but whose
// refresh token is still good, pointed at the given portal.
func expiredSession(portalURL string, client request.Doer) *Session {
	s := &Session{
		ClientID:   "client1",
		PortalURL:  portalURL,
		Username:   "jsmith",
		HTTPClient: client,
	}
	s.token = "stale"
	s.tokenExpires = time.Now().Add(-time.Minute)
	s.refreshToken = "refresh1"
	s.refreshTokenExpires = time.Now().Add(24 * time.Hour)
	return s
}

func TestSessionSilentRefresh(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var refreshes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/sharing/rest/oauth2/token", r.URL.Path)
		require.NoError(r.ParseForm())
		require.Equal("refresh_token", r.PostForm.Get("grant_type"))
		require.Equal("refresh1", r.PostForm.Get("refresh_token"))

		atomic.AddInt32(&refreshes, 1)
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh1",
			"expires_in":    1800,
			"refresh_token": "refresh2",
		})
	}))
	defer srv.Close()

	sess := expiredSession(srv.URL, srv.Client())

	const workers = 8
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = sess.Token(ctx, srv.URL+"/sharing/rest/search")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(errs[i])
		assert.Equal("fresh1", tokens[i])
	}
	// all callers shared one refresh exchange
	assert.Equal(int32(1), atomic.LoadInt32(&refreshes))

	// the rotated refresh token was recorded
	sess.mu.Lock()
	assert.Equal("refresh2", sess.refreshToken)
	sess.mu.Unlock()
}

func TestSessionAuthRequiredWhenRefreshImpossible(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	s := &Session{ClientID: "client1", PortalURL: "https://myorg.maps.arcgis.com"}
	s.token = "stale"
	s.tokenExpires = time.Now().Add(-time.Minute)

	_, err := s.Token(ctx, "https://myorg.maps.arcgis.com/sharing/rest/search")
	require.ErrorIs(err, request.ErrAuthRequired)
}

func TestSessionFederatedServerToken(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var generates int32
	var portalURL string
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/sharing/rest/generateToken", r.URL.Path)
		require.NoError(r.ParseForm())
		require.Equal("portaltok", r.PostForm.Get("token"))
		require.NotEmpty(r.PostForm.Get("serverUrl"))

		atomic.AddInt32(&generates, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token":"servertok","expires":%d}`, time.Now().Add(time.Hour).UnixMilli())
	}))
	defer portal.Close()
	portalURL = portal.URL

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/server/rest/info", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"owningSystemUrl":%q,"authInfo":{"isTokenBasedSecurity":true}}`, portalURL)
	}))
	defer server.Close()

	sess := &Session{
		ClientID:   "client1",
		PortalURL:  portal.URL,
		HTTPClient: portal.Client(),
	}
	sess.token = "portaltok"
	sess.tokenExpires = time.Now().Add(time.Hour)

	layerURL := server.URL + "/server/rest/services/Roads/FeatureServer/0/query"
	tok, err := sess.Token(ctx, layerURL)
	require.NoError(err)
	assert.Equal("servertok", tok)

	// cached per server root, no second exchange
	tok, err = sess.Token(ctx, server.URL+"/server/rest/services/Parcels/MapServer")
	require.NoError(err)
	assert.Equal("servertok", tok)
	assert.Equal(int32(1), atomic.LoadInt32(&generates))
}

func TestSessionUnsecuredServerGetsNoToken(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"authInfo":{"isTokenBasedSecurity":false}}`)
	}))
	defer server.Close()

	sess := &Session{ClientID: "client1", PortalURL: "https://myorg.maps.arcgis.com"}
	sess.token = "portaltok"
	sess.tokenExpires = time.Now().Add(time.Hour)

	tok, err := sess.Token(ctx, server.URL+"/public/rest/services/Basemap/MapServer")
	require.NoError(err)
	assert.Empty(tok)
}

func TestSessionForeignTokenDomain(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"owningSystemUrl":"https://other.example.com/portal","authInfo":{"isTokenBasedSecurity":true}}`)
	}))
	defer server.Close()

	sess := &Session{ClientID: "client1", PortalURL: "https://myorg.maps.arcgis.com"}
	sess.token = "portaltok"
	sess.tokenExpires = time.Now().Add(time.Hour)

	_, err := sess.Token(ctx, server.URL+"/secure/rest/services/Private/FeatureServer")
	require.Error(err)
	require.True(errors.Is(err, request.ErrAuthRequired))
}

func TestSessionRefreshDropsServerTokens(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh1",
			"expires_in":   1800,
		})
	}))
	defer srv.Close()

	sess := expiredSession(srv.URL, srv.Client())
	sess.serverTokens = map[string]serverToken{
		"https://gis.example.com/server": {token: "old", expires: time.Now().Add(time.Hour)},
	}

	require.NoError(sess.Refresh(ctx))

	sess.mu.Lock()
	assert.Empty(sess.serverTokens)
	assert.Equal("fresh1", sess.token)
	sess.mu.Unlock()
}

func TestSessionSignOut(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var revoked int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/sharing/rest/oauth2/revokeToken", r.URL.Path)
		require.NoError(r.ParseForm())
		require.Equal("refresh1", r.PostForm.Get("auth_token"))
		atomic.AddInt32(&revoked, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"success":true}`)
	}))
	defer srv.Close()

	sess := expiredSession(srv.URL, srv.Client())
	sess.SignOut(ctx)

	assert.Equal(int32(1), atomic.LoadInt32(&revoked))
	assert.False(sess.CanRefresh())
	_, err := sess.Token(ctx, srv.URL+"/sharing/rest/search")
	assert.ErrorIs(err, request.ErrAuthRequired)
}
