package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/gis-tools/arcrest/request"
)

// ApplicationCredentials authenticates as an application via the OAuth2
// client-credentials grant. Tokens are cached until SafetyMargin before
// expiry, then exchanged transparently on the next use.
type ApplicationCredentials struct {
	ClientID     string
	ClientSecret string
	PortalURL    string

	// Duration is the requested token lifetime. Zero lets the server pick.
	Duration time.Duration

	HTTPClient request.Doer

	mu      sync.Mutex
	token   string
	expires time.Time
	pending *pendingExchange
}

var _ request.TokenProvider = (*ApplicationCredentials)(nil)

func NewApplicationCredentials(clientID, clientSecret string) *ApplicationCredentials {
	return &ApplicationCredentials{ClientID: clientID, ClientSecret: clientSecret}
}

func (a *ApplicationCredentials) Portal() string {
	return NormalizePortalURL(a.PortalURL)
}

func (a *ApplicationCredentials) Token(ctx context.Context, requestURL string) (string, error) {
	a.mu.Lock()
	if a.token != "" && time.Now().Before(a.expires.Add(-SafetyMargin)) {
		tok := a.token
		a.mu.Unlock()
		return tok, nil
	}
	a.mu.Unlock()
	return a.fetchToken(ctx)
}

func (a *ApplicationCredentials) CanRefresh() bool {
	return true
}

// Refresh discards the cached token and performs a fresh exchange. A
// concurrent exchange already in flight is joined instead of duplicated.
func (a *ApplicationCredentials) Refresh(ctx context.Context) error {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
	_, err := a.fetchToken(ctx)
	return err
}

// Expiration returns when the cached token expires, zero if no token is
// held.
func (a *ApplicationCredentials) Expiration() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expires
}

// fetchToken performs the client-credentials exchange, coalescing
// concurrent callers onto one network call.
func (a *ApplicationCredentials) fetchToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.token != "" && time.Now().Before(a.expires.Add(-SafetyMargin)) {
		tok := a.token
		a.mu.Unlock()
		return tok, nil
	}
	if p := a.pending; p != nil {
		a.mu.Unlock()
		select {
		case <-p.done:
			return p.token, p.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p := &pendingExchange{done: make(chan struct{})}
	a.pending = p
	a.mu.Unlock()

	tok, expires, err := a.exchange(ctx)

	a.mu.Lock()
	if err == nil {
		a.token = tok
		a.expires = expires
	}
	a.pending = nil
	a.mu.Unlock()

	p.token, p.err = tok, err
	close(p.done)
	return tok, err
}

type clientCredentialsGrant struct {
	ClientID     string `url:"client_id"`
	ClientSecret string `url:"client_secret"`
	GrantType    string `url:"grant_type"`
	Expiration   int64  `url:"expiration,omitempty"`
	Format       string `url:"f"`
}

func (a *ApplicationCredentials) exchange(ctx context.Context) (string, time.Time, error) {
	grant := clientCredentialsGrant{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		GrantType:    "client_credentials",
		Format:       "json",
	}
	if a.Duration > 0 {
		grant.Expiration = int64(a.Duration / time.Minute)
	}
	vals, err := query.Values(grant)
	if err != nil {
		return "", time.Time{}, err
	}

	raw, err := request.PostForm(ctx, a.HTTPClient, a.Portal()+"/oauth2/token", vals)
	if err != nil {
		tokenExchanges.WithLabelValues("application", "error").Inc()
		return "", time.Time{}, err
	}
	tr, err := parseTokenResponse(raw)
	if err != nil {
		tokenExchanges.WithLabelValues("application", "error").Inc()
		return "", time.Time{}, err
	}
	tokenExchanges.WithLabelValues("application", "ok").Inc()
	return tr.AccessToken, time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second), nil
}

type applicationState struct {
	Type         string    `json:"type"`
	ClientID     string    `json:"clientId"`
	ClientSecret string    `json:"clientSecret,omitempty"`
	PortalURL    string    `json:"portalUrl,omitempty"`
	Token        string    `json:"token,omitempty"`
	Expires      time.Time `json:"expires,omitempty"`
}

// Serialize captures the manager, including the cached token, as JSON.
// The client secret is included; callers serializing for an untrusted
// destination should use SerializePublic.
func (a *ApplicationCredentials) Serialize() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(applicationState{
		Type:         "ApplicationCredentials",
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		PortalURL:    a.PortalURL,
		Token:        a.token,
		Expires:      a.expires,
	})
}

// SerializePublic is Serialize with the client secret stripped, safe to
// hand to a browser client. The restored manager can use the cached token
// until expiry but cannot exchange for a new one.
func (a *ApplicationCredentials) SerializePublic() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(applicationState{
		Type:      "ApplicationCredentials",
		ClientID:  a.ClientID,
		PortalURL: a.PortalURL,
		Token:     a.token,
		Expires:   a.expires,
	})
}

// DeserializeApplicationCredentials restores a manager from Serialize or
// SerializePublic output.
func DeserializeApplicationCredentials(data []byte) (*ApplicationCredentials, error) {
	var st applicationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing application session: %w", err)
	}
	if st.Type != "ApplicationCredentials" || st.ClientID == "" {
		return nil, fmt.Errorf("not a serialized application session")
	}
	a := &ApplicationCredentials{
		ClientID:     st.ClientID,
		ClientSecret: st.ClientSecret,
		PortalURL:    st.PortalURL,
	}
	a.token = st.Token
	a.expires = st.Expires
	return a, nil
}
