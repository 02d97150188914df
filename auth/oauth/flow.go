package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/gis-tools/arcrest/auth"
	"github.com/gis-tools/arcrest/request"
)

// ErrAccessDenied is returned when the user explicitly declined the
// consent screen, as opposed to the flow breaking. UIs branch on this to
// tell "user said no" apart from an actual failure.
var ErrAccessDenied = errors.New("user denied authorization")

// Config describes one registered OAuth2 client application. A single
// Config is shared across all sign-in flows and sessions.
type Config struct {
	ClientID    string
	RedirectURI string
	PortalURL   string

	// Expiration is the requested refresh-token lifetime. Zero accepts
	// the server default.
	Expiration time.Duration

	HTTPClient request.Doer
	Crypto     SecureCrypto
}

func (c *Config) Portal() string {
	return auth.NormalizePortalURL(c.PortalURL)
}

// BeginAuth starts an authorization-code flow: generates the state and
// PKCE pair, persists them in the store, and returns the authorization
// URL to send the user to (via popup or full-page redirect, the caller's
// choice).
func (c *Config) BeginAuth(ctx context.Context, store AuthRequestStore) (string, error) {
	state, err := randomState(c.Crypto)
	if err != nil {
		return "", err
	}
	chal, err := NewChallenge(c.Crypto)
	if err != nil {
		return "", err
	}

	if err := store.SaveAuthRequest(ctx, AuthRequest{
		State:           state,
		Verifier:        chal.Verifier,
		ChallengeMethod: chal.Method,
		Created:         time.Now(),
	}); err != nil {
		return "", fmt.Errorf("saving auth request: %w", err)
	}

	vals := url.Values{}
	vals.Set("client_id", c.ClientID)
	vals.Set("response_type", "code")
	vals.Set("redirect_uri", c.RedirectURI)
	vals.Set("state", state)
	vals.Set("code_challenge", chal.Challenge)
	vals.Set("code_challenge_method", chal.Method)
	if c.Expiration > 0 {
		vals.Set("expiration", fmt.Sprint(int64(c.Expiration/time.Minute)))
	}

	return c.Portal() + "/oauth2/authorize?" + vals.Encode(), nil
}

// HandleCallback interprets the query parameters delivered to the
// redirect URI and completes the flow. A consent denial surfaces as
// ErrAccessDenied.
func (c *Config) HandleCallback(ctx context.Context, store AuthRequestStore, params url.Values) (*Session, error) {
	if errName := params.Get("error"); errName != "" {
		if errName == "access_denied" {
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("authorization failed: %s (%s)", errName, params.Get("error_description"))
	}
	return c.CompleteAuth(ctx, store, params.Get("code"), params.Get("state"))
}

type codeGrant struct {
	ClientID     string `url:"client_id"`
	GrantType    string `url:"grant_type"`
	Code         string `url:"code"`
	CodeVerifier string `url:"code_verifier"`
	RedirectURI  string `url:"redirect_uri"`
	Format       string `url:"f"`
}

// CompleteAuth exchanges an authorization code (plus the stored PKCE
// verifier) for tokens and returns the signed-in Session. The auth
// request is deleted from the store whether or not the exchange succeeds;
// codes are single-use.
func (c *Config) CompleteAuth(ctx context.Context, store AuthRequestStore, code, state string) (*Session, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization callback missing code")
	}
	info, err := store.GetAuthRequest(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("unknown or expired auth request state: %w", err)
	}
	_ = store.DeleteAuthRequest(ctx, state)

	grant := codeGrant{
		ClientID:     c.ClientID,
		GrantType:    "authorization_code",
		Code:         code,
		CodeVerifier: info.Verifier,
		RedirectURI:  c.RedirectURI,
		Format:       "json",
	}
	vals, err := query.Values(grant)
	if err != nil {
		return nil, err
	}

	raw, err := request.PostForm(ctx, c.HTTPClient, c.Portal()+"/oauth2/token", vals)
	if err != nil {
		auth.TokenExchangeCounter().WithLabelValues("identity", "error").Inc()
		return nil, err
	}
	tr, err := parseTokenJSON(raw)
	if err != nil {
		auth.TokenExchangeCounter().WithLabelValues("identity", "error").Inc()
		return nil, err
	}
	auth.TokenExchangeCounter().WithLabelValues("identity", "ok").Inc()

	sess := &Session{
		ClientID:    c.ClientID,
		RedirectURI: c.RedirectURI,
		PortalURL:   c.PortalURL,
		Username:    tr.Username,
		HTTPClient:  c.HTTPClient,
		Crypto:      c.Crypto,
	}
	sess.token = tr.AccessToken
	sess.tokenExpires = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	sess.refreshToken = tr.RefreshToken
	if tr.RefreshTokenExpiresIn > 0 {
		sess.refreshTokenExpires = time.Now().Add(time.Duration(tr.RefreshTokenExpiresIn) * time.Second)
	}
	return sess, nil
}

// SignInWithPassword performs the legacy direct username/password token
// exchange, for server contexts where the interactive flow is
// unavailable. The resulting session has no refresh token; when its token
// expires the credentials must be presented again.
func SignInWithPassword(ctx context.Context, client request.Doer, portalURL, username, password string) (*Session, error) {
	portal := auth.NormalizePortalURL(portalURL)

	vals := url.Values{}
	vals.Set("username", username)
	vals.Set("password", password)
	vals.Set("client", "referer")
	vals.Set("referer", portal)
	vals.Set("f", "json")

	raw, err := request.PostForm(ctx, client, portal+"/generateToken", vals)
	if err != nil {
		auth.TokenExchangeCounter().WithLabelValues("identity-password", "error").Inc()
		return nil, err
	}

	var out struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Token == "" {
		auth.TokenExchangeCounter().WithLabelValues("identity-password", "error").Inc()
		return nil, fmt.Errorf("parsing generateToken response")
	}
	auth.TokenExchangeCounter().WithLabelValues("identity-password", "ok").Inc()

	sess := &Session{
		PortalURL:  portalURL,
		Username:   username,
		HTTPClient: client,
	}
	sess.token = out.Token
	sess.tokenExpires = time.UnixMilli(out.Expires)
	return sess, nil
}

// ExchangeToken trades a platform token for one scoped to the given
// client application, via the portal's exchange endpoint.
func ExchangeToken(ctx context.Context, client request.Doer, portalURL, clientID, token string) (string, error) {
	vals := url.Values{}
	vals.Set("client_id", clientID)
	vals.Set("token", token)
	vals.Set("f", "json")

	raw, err := request.PostForm(ctx, client, auth.NormalizePortalURL(portalURL)+"/oauth2/exchangeToken", vals)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Token == "" {
		return "", fmt.Errorf("parsing exchangeToken response")
	}
	return out.Token, nil
}

// PlatformSelf asks the portal who the caller's ambient platform session
// belongs to, returning a username and a token scoped to this client.
// Useful when a sibling application on the same platform already signed
// the user in.
func PlatformSelf(ctx context.Context, client request.Doer, portalURL, clientID, redirectURI string) (username, token string, err error) {
	vals := url.Values{}
	vals.Set("client_id", clientID)
	vals.Set("redirect_uri", redirectURI)
	vals.Set("f", "json")

	portal := auth.NormalizePortalURL(portalURL)
	raw, err := request.PostForm(ctx, client, portal+"/oauth2/platformSelf", vals)
	if err != nil {
		return "", "", err
	}
	var out struct {
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("parsing platformSelf response: %w", err)
	}
	return out.Username, out.Token, nil
}

type tokenJSON struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	Username              string `json:"username"`
}

func parseTokenJSON(raw json.RawMessage) (*tokenJSON, error) {
	var tr tokenJSON
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &tr, nil
}
