package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/gis-tools/arcrest/auth"
	"github.com/gis-tools/arcrest/federation"
	"github.com/gis-tools/arcrest/request"
)

// Session is the credential manager for an interactive user identity.
// It holds the user's access token and, when granted, a refresh token,
// and produces tokens for arbitrary destination URLs: the home portal
// token for the portal and same-environment hosted servers, exchanged
// per-server tokens for federated servers, and no token at all for
// public resources.
//
// Sessions are created by CompleteAuth (OAuth2 code + PKCE),
// SignInWithPassword, or Deserialize. All methods are safe for concurrent
// use; concurrent token demands share one in-flight refresh.
type Session struct {
	ClientID    string
	RedirectURI string
	PortalURL   string
	Username    string

	HTTPClient request.Doer
	Crypto     SecureCrypto

	// Directory resolves federated server security info. Lazily created
	// with process-lifetime caching when nil.
	Directory *federation.Directory

	mu                  sync.Mutex
	token               string
	tokenExpires        time.Time
	refreshToken        string
	refreshTokenExpires time.Time
	pending             *pendingRefresh

	serverTokens  map[string]serverToken
	serverPending map[string]*pendingRefresh
	dirOnce       sync.Once
	dir           *federation.Directory
}

var _ request.TokenProvider = (*Session)(nil)

type serverToken struct {
	token   string
	expires time.Time
}

type pendingRefresh struct {
	done  chan struct{}
	token string
	err   error
}

func (s *Session) Portal() string {
	return auth.NormalizePortalURL(s.PortalURL)
}

func (s *Session) directory() *federation.Directory {
	s.dirOnce.Do(func() {
		if s.Directory != nil {
			s.dir = s.Directory
			return
		}
		s.dir = federation.NewDirectory(s.HTTPClient, 0, 0)
	})
	return s.dir
}

// Token resolves a bearer token for the destination URL.
//
// For the home portal and hosted servers in the same environment the
// portal token is used directly: returned if unexpired, silently renewed
// via the refresh token if not, and failing that ErrAuthRequired is
// returned for the caller to restart interactive sign-in.
//
// For any other host the server's security info decides: unsecured
// servers get no token, servers federated with the home portal get a
// per-server exchanged token, and foreign token domains are refused.
func (s *Session) Token(ctx context.Context, requestURL string) (string, error) {
	portal := s.Portal()
	if sameHost(requestURL, portal) || federation.CanUseOnlineToken(portal, requestURL) {
		return s.portalToken(ctx)
	}

	info, err := s.directory().ServerInfo(ctx, requestURL)
	if err != nil {
		return "", err
	}
	if !info.Secured {
		return "", nil
	}
	if info.OwningSystemURL != "" && federation.IsFederated(info.OwningSystemURL, portal) {
		return s.serverToken(ctx, info.Server)
	}
	return "", fmt.Errorf("%s belongs to a different token domain than %s: %w",
		info.Server, portal, request.ErrAuthRequired)
}

// CanRefresh reports whether a silent refresh is possible: an unexpired
// refresh token must be held.
func (s *Session) CanRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshTokenValidLocked()
}

func (s *Session) refreshTokenValidLocked() bool {
	if s.refreshToken == "" {
		return false
	}
	if s.refreshTokenExpires.IsZero() {
		return true
	}
	return time.Now().Before(s.refreshTokenExpires.Add(-auth.SafetyMargin))
}

func (s *Session) tokenValidLocked() bool {
	return s.token != "" && time.Now().Before(s.tokenExpires.Add(-auth.SafetyMargin))
}

// Refresh exchanges the refresh token for a new access token, discarding
// the cached one. Federated server tokens are dropped too; they are
// re-exchanged lazily from the new portal token.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.serverTokens = nil
	s.mu.Unlock()
	_, err := s.portalToken(ctx)
	return err
}

// portalToken applies the resolution order: cached token, silent refresh,
// ErrAuthRequired. Concurrent callers that miss the cache share a single
// refresh exchange.
func (s *Session) portalToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.tokenValidLocked() {
		tok := s.token
		s.mu.Unlock()
		return tok, nil
	}
	if !s.refreshTokenValidLocked() {
		s.mu.Unlock()
		return "", request.ErrAuthRequired
	}
	if p := s.pending; p != nil {
		s.mu.Unlock()
		select {
		case <-p.done:
			return p.token, p.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p := &pendingRefresh{done: make(chan struct{})}
	s.pending = p
	refreshToken := s.refreshToken
	s.mu.Unlock()

	tok, err := s.refreshExchange(ctx, refreshToken)

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	p.token, p.err = tok, err
	close(p.done)
	return tok, err
}

type refreshGrant struct {
	ClientID     string `url:"client_id"`
	GrantType    string `url:"grant_type"`
	RefreshToken string `url:"refresh_token"`
	RedirectURI  string `url:"redirect_uri,omitempty"`
	Format       string `url:"f"`
}

func (s *Session) refreshExchange(ctx context.Context, refreshToken string) (string, error) {
	grant := refreshGrant{
		ClientID:     s.ClientID,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		RedirectURI:  s.RedirectURI,
		Format:       "json",
	}
	vals, err := query.Values(grant)
	if err != nil {
		return "", err
	}

	raw, err := request.PostForm(ctx, s.HTTPClient, s.Portal()+"/oauth2/token", vals)
	if err != nil {
		auth.TokenExchangeCounter().WithLabelValues("identity", "error").Inc()
		return "", err
	}
	tr, err := parseTokenJSON(raw)
	if err != nil {
		auth.TokenExchangeCounter().WithLabelValues("identity", "error").Inc()
		return "", err
	}
	auth.TokenExchangeCounter().WithLabelValues("identity", "ok").Inc()

	s.mu.Lock()
	s.token = tr.AccessToken
	s.tokenExpires = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.RefreshToken != "" {
		// server rotated the refresh token
		s.refreshToken = tr.RefreshToken
		if tr.RefreshTokenExpiresIn > 0 {
			s.refreshTokenExpires = time.Now().Add(time.Duration(tr.RefreshTokenExpiresIn) * time.Second)
		}
	}
	if tr.Username != "" {
		s.Username = tr.Username
	}
	s.mu.Unlock()
	return tr.AccessToken, nil
}

// serverToken returns a token for one federated server, exchanging the
// portal token at the portal's generateToken endpoint on first use and
// caching per server root.
func (s *Session) serverToken(ctx context.Context, serverRoot string) (string, error) {
	s.mu.Lock()
	if st, ok := s.serverTokens[serverRoot]; ok && time.Now().Before(st.expires.Add(-auth.SafetyMargin)) {
		s.mu.Unlock()
		return st.token, nil
	}
	if p := s.serverPending[serverRoot]; p != nil {
		s.mu.Unlock()
		select {
		case <-p.done:
			return p.token, p.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.serverPending == nil {
		s.serverPending = make(map[string]*pendingRefresh)
	}
	p := &pendingRefresh{done: make(chan struct{})}
	s.serverPending[serverRoot] = p
	s.mu.Unlock()

	tok, expires, err := s.serverExchange(ctx, serverRoot)

	s.mu.Lock()
	if err == nil {
		if s.serverTokens == nil {
			s.serverTokens = make(map[string]serverToken)
		}
		s.serverTokens[serverRoot] = serverToken{token: tok, expires: expires}
	}
	delete(s.serverPending, serverRoot)
	s.mu.Unlock()

	p.token, p.err = tok, err
	close(p.done)
	return tok, err
}

func (s *Session) serverExchange(ctx context.Context, serverRoot string) (string, time.Time, error) {
	portalTok, err := s.portalToken(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	vals := url.Values{}
	vals.Set("token", portalTok)
	vals.Set("serverUrl", serverRoot)
	vals.Set("expiration", "60")
	vals.Set("f", "json")

	raw, err := request.PostForm(ctx, s.HTTPClient, s.Portal()+"/generateToken", vals)
	if err != nil {
		auth.TokenExchangeCounter().WithLabelValues("identity-server", "error").Inc()
		return "", time.Time{}, err
	}

	var out struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Token == "" {
		auth.TokenExchangeCounter().WithLabelValues("identity-server", "error").Inc()
		return "", time.Time{}, fmt.Errorf("parsing server token response from %s", serverRoot)
	}
	auth.TokenExchangeCounter().WithLabelValues("identity-server", "ok").Inc()
	return out.Token, time.UnixMilli(out.Expires), nil
}

// SignOut revokes the refresh token server-side (best effort; revocation
// failures are ignored) and clears all local credential state. The
// session is unusable afterwards.
func (s *Session) SignOut(ctx context.Context) {
	s.mu.Lock()
	refreshToken := s.refreshToken
	token := s.token
	s.token = ""
	s.tokenExpires = time.Time{}
	s.refreshToken = ""
	s.refreshTokenExpires = time.Time{}
	s.serverTokens = nil
	s.mu.Unlock()

	revoke := refreshToken
	if revoke == "" {
		revoke = token
	}
	if revoke == "" {
		return
	}

	vals := url.Values{}
	vals.Set("client_id", s.ClientID)
	vals.Set("auth_token", revoke)
	vals.Set("f", "json")

	// the server may be unreachable; local sign-out already happened
	_, _ = request.PostForm(ctx, s.HTTPClient, s.Portal()+"/oauth2/revokeToken", vals)
}

// ValidateAppAccess checks whether the signed-in user may run the given
// client application, via the portal's app-access endpoint.
func (s *Session) ValidateAppAccess(ctx context.Context, clientID string) (bool, error) {
	tok, err := s.portalToken(ctx)
	if err != nil {
		return false, err
	}

	resp, err := request.Do(ctx, s.Portal()+"/oauth2/validateAppAccess", &request.Options{
		Params:     request.Params{"client_id": clientID, "token": tok},
		HTTPClient: s.HTTPClient,
	})
	if err != nil {
		return false, err
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := resp.Decode(&out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(strings.ToLower(a))
	if err != nil {
		return false
	}
	ub, err := url.Parse(strings.ToLower(b))
	if err != nil {
		return false
	}
	// host and port both matter: one machine can host distinct
	// deployments on different ports
	return ua.Host != "" && ua.Host == ub.Host
}
