package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"authflowd/flow"
)

// UserRecord is a backend user, either locally registered or provisioned
// from a federated profile.
type UserRecord struct {
	ID         string
	Username   string
	ClientIDs  []string
	Attributes map[string]any
}

// Store keeps client registrations, users, and short-lived flow artifacts.
// Pending auth requests and issued authorization codes expire on their own
// through the TTL cache; users and links live for the process lifetime.
type Store struct {
	mu      sync.RWMutex
	clients map[string]*flow.Client
	users   map[string]*UserRecord

	authRequests *cache.Cache
	authCodes    *cache.Cache
}

// NewStore builds the store from the configured client registrations.
func NewStore(clients []ClientConfig, codeTTL time.Duration) *Store {
	s := &Store{
		clients:      make(map[string]*flow.Client, len(clients)),
		users:        make(map[string]*UserRecord),
		authRequests: cache.New(flow.AuthRequestTTL, flow.AuthRequestTTL),
		authCodes:    cache.New(codeTTL, codeTTL),
	}
	for _, c := range clients {
		s.clients[c.ClientID] = &flow.Client{
			ID:           c.ClientID,
			Scopes:       c.Scopes,
			Audiences:    c.Audiences,
			RedirectURIs: c.RedirectURIs,
		}
	}
	return s
}

// Client returns the registration for clientID, or nil when unknown.
func (s *Store) Client(clientID string) *flow.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[clientID]
}

// AddUser registers a local user.
func (s *Store) AddUser(username string, attributes map[string]any) *UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := &UserRecord{
		ID:         uuid.NewString(),
		Username:   username,
		Attributes: attributes,
	}
	s.users[user.ID] = user
	return user
}

// UserByUsername finds a user by username, or nil.
func (s *Store) UserByUsername(username string) *UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

// UpsertFederatedUser finds or provisions the backend user for a federated
// profile. The username is namespaced by strategy so subjects from different
// providers never collide.
func (s *Store) UpsertFederatedUser(strategy string, profile flow.FIPUser) *UserRecord {
	username := strategy + ":" + profile.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	user := &UserRecord{
		ID:         uuid.NewString(),
		Username:   username,
		Attributes: profile.Attributes,
	}
	s.users[user.ID] = user
	return user
}

// LinkClientToUser records that userID granted clientID access.
func (s *Store) LinkClientToUser(userID, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return false
	}
	for _, id := range user.ClientIDs {
		if id == clientID {
			return true
		}
	}
	user.ClientIDs = append(user.ClientIDs, clientID)
	return true
}

// SaveAuthRequest stores pending auth request claims under a fresh code.
func (s *Store) SaveAuthRequest(claims flow.AuthRequestClaims) string {
	code := uuid.NewString()
	s.authRequests.Set(code, claims, cache.DefaultExpiration)
	return code
}

// ConsumeAuthRequest retrieves and removes pending claims. Codes are
// single-use; a second read misses. The store lock makes the get-then-delete
// a single take so concurrent redeems cannot both win.
func (s *Store) ConsumeAuthRequest(code string) (*flow.AuthRequestClaims, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.authRequests.Get(code)
	if !ok {
		return nil, false
	}
	s.authRequests.Delete(code)
	claims := v.(flow.AuthRequestClaims)
	return &claims, true
}

// SaveAuthCode stores the token request behind a fresh authorization code.
func (s *Store) SaveAuthCode(req flow.TokenRequest) string {
	code := uuid.NewString()
	s.authCodes.Set(code, req, cache.DefaultExpiration)
	return code
}

// ConsumeAuthCode retrieves and removes an authorization code grant. Codes
// are single-use, enforced under the store lock like ConsumeAuthRequest.
func (s *Store) ConsumeAuthCode(code string) (*flow.TokenRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.authCodes.Get(code)
	if !ok {
		return nil, false
	}
	s.authCodes.Delete(code)
	req := v.(flow.TokenRequest)
	return &req, true
}
