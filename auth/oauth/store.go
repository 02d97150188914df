package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AuthRequest is the state persisted between starting an authorization
// flow and completing it at the redirect URI. The verifier is the PKCE
// secret binding the eventual code exchange to this request.
type AuthRequest struct {
	State           string    `json:"state"`
	Verifier        string    `json:"verifier"`
	ChallengeMethod string    `json:"challengeMethod"`
	Created         time.Time `json:"created"`
}

// AuthRequestStore persists in-progress authorization requests, keyed by
// the opaque state parameter. Web applications typically back this with a
// session store or database; MemStore suffices for CLIs and tests.
//
// Implementations must allow concurrent access.
type AuthRequestStore interface {
	GetAuthRequest(ctx context.Context, state string) (*AuthRequest, error)
	SaveAuthRequest(ctx context.Context, req AuthRequest) error
	DeleteAuthRequest(ctx context.Context, state string) error
}

// MemStore is an in-memory AuthRequestStore. Pending sign-ins are lost on
// process restart, which is fine for its intended single-process uses.
type MemStore struct {
	requests map[string]AuthRequest

	lk sync.Mutex
}

var _ AuthRequestStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{requests: make(map[string]AuthRequest)}
}

func (m *MemStore) GetAuthRequest(ctx context.Context, state string) (*AuthRequest, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	req, ok := m.requests[state]
	if !ok {
		return nil, fmt.Errorf("auth request not found: %s", state)
	}
	return &req, nil
}

func (m *MemStore) SaveAuthRequest(ctx context.Context, req AuthRequest) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	m.requests[req.State] = req
	return nil
}

func (m *MemStore) DeleteAuthRequest(ctx context.Context, state string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	delete(m.requests, state)
	return nil
}
