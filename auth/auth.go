// Package auth implements the credential managers that produce bearer
// tokens for request.Do: static API keys and application (client
// credentials) sessions. Interactive user identity lives in the oauth
// subpackage.
//
// Managers are long-lived and safe for concurrent use. When many requests
// discover an expired token at once, a single token exchange is issued and
// shared; see the pending-exchange fields on each manager.
package auth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SafetyMargin is subtracted from every token expiry before deciding
// whether the token is still usable. One constant for all managers and
// grant types, so a token is refreshed at most once per lifetime window.
const SafetyMargin = 5 * time.Minute

// DefaultPortal is the hosted platform's production sharing API root.
const DefaultPortal = "https://www.arcgis.com/sharing/rest"

// NormalizePortalURL canonicalizes a portal base URL: ensures an https
// scheme, strips trailing slashes, and appends the sharing API path when
// the caller supplied a bare organization URL.
func NormalizePortalURL(raw string) string {
	if raw == "" {
		return DefaultPortal
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(strings.ToLower(u.Path), "/sharing/rest") {
		u.Path += "/sharing/rest"
	}
	return u.String()
}

// tokenResponse is the common shape returned by the platform's token
// endpoints across grant types.
type tokenResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	Username              string `json:"username"`
}

func parseTokenResponse(raw json.RawMessage) (*tokenResponse, error) {
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &tr, nil
}

// pendingExchange is the single-slot in-flight token exchange shared by
// all concurrent callers of a manager. Exactly one exchange is ever
// outstanding per manager.
type pendingExchange struct {
	done  chan struct{}
	token string
	err   error
}
