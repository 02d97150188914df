package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gis-tools/arcrest/request"
)

// APIKey authenticates with a static developer API key. No network call
// is ever made to obtain the token and there is nothing to refresh.
type APIKey struct {
	Key       string
	PortalURL string
}

var _ request.TokenProvider = (*APIKey)(nil)

func NewAPIKey(key string) *APIKey {
	return &APIKey{Key: key}
}

func (k *APIKey) Portal() string {
	return NormalizePortalURL(k.PortalURL)
}

func (k *APIKey) Token(ctx context.Context, requestURL string) (string, error) {
	return k.Key, nil
}

func (k *APIKey) CanRefresh() bool {
	return false
}

func (k *APIKey) Refresh(ctx context.Context) error {
	return fmt.Errorf("API keys cannot be refreshed")
}

// Expiration returns the key's expiry when the key is a JWT carrying an
// `exp` claim (the platform's current key format). Legacy opaque keys
// return a zero time. The claim is read without signature verification;
// only the server can truly validate the key.
func (k *APIKey) Expiration() time.Time {
	parser := jwt.NewParser()
	var claims jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(k.Key, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

type apiKeyState struct {
	Type      string `json:"type"`
	Key       string `json:"key"`
	PortalURL string `json:"portalUrl,omitempty"`
}

// Serialize returns the manager as a JSON document suitable for a session
// store. An API key is itself the secret; embedders decide where it is
// safe to persist.
func (k *APIKey) Serialize() ([]byte, error) {
	return json.Marshal(apiKeyState{Type: "APIKey", Key: k.Key, PortalURL: k.PortalURL})
}

// DeserializeAPIKey restores a manager from Serialize output.
func DeserializeAPIKey(data []byte) (*APIKey, error) {
	var st apiKeyState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing API key session: %w", err)
	}
	if st.Type != "APIKey" || st.Key == "" {
		return nil, fmt.Errorf("not a serialized API key session")
	}
	return &APIKey{Key: st.Key, PortalURL: st.PortalURL}, nil
}
