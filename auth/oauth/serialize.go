package oauth

import (
	"encoding/json"
	"fmt"
	"time"
)

type sessionState struct {
	Type                string    `json:"type"`
	ClientID            string    `json:"clientId"`
	RedirectURI         string    `json:"redirectUri,omitempty"`
	PortalURL           string    `json:"portalUrl,omitempty"`
	Username            string    `json:"username,omitempty"`
	Token               string    `json:"token,omitempty"`
	TokenExpires        time.Time `json:"tokenExpires,omitempty"`
	RefreshToken        string    `json:"refreshToken,omitempty"`
	RefreshTokenExpires time.Time `json:"refreshTokenExpires,omitempty"`
}

// Serialize captures the session as JSON for a server-side session store.
// The refresh token is included: treat the output as a secret.
func (s *Session) Serialize() ([]byte, error) {
	return s.serialize(true)
}

// SerializePublic strips the refresh token, producing a document safe to
// send to a browser client. The restored session works until the access
// token expires and cannot silently renew.
func (s *Session) SerializePublic() ([]byte, error) {
	return s.serialize(false)
}

func (s *Session) serialize(withRefresh bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := sessionState{
		Type:         "IdentitySession",
		ClientID:     s.ClientID,
		RedirectURI:  s.RedirectURI,
		PortalURL:    s.PortalURL,
		Username:     s.Username,
		Token:        s.token,
		TokenExpires: s.tokenExpires,
	}
	if withRefresh {
		st.RefreshToken = s.refreshToken
		st.RefreshTokenExpires = s.refreshTokenExpires
	}
	return json.Marshal(st)
}

// Deserialize restores a Session from Serialize or SerializePublic
// output.
func Deserialize(data []byte) (*Session, error) {
	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing identity session: %w", err)
	}
	if st.Type != "IdentitySession" {
		return nil, fmt.Errorf("not a serialized identity session")
	}
	sess := &Session{
		ClientID:    st.ClientID,
		RedirectURI: st.RedirectURI,
		PortalURL:   st.PortalURL,
		Username:    st.Username,
	}
	sess.token = st.Token
	sess.tokenExpires = st.TokenExpires
	sess.refreshToken = st.RefreshToken
	sess.refreshTokenExpires = st.RefreshTokenExpires
	return sess, nil
}
