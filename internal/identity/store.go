// Package identity maps transport connections to the authenticated principal
// behind them. The transport binds an identity at negotiation time and the
// hub looks it up whenever an operation needs to know who is calling.
package identity

import (
	"net/http"
	"strings"
	"sync"
)

// Identity is the stable, authenticated player identifier (enterprise id).
// It survives reconnects while the connection id changes.
type Identity string

// Store tracks which identity owns which connection.
// Thread-safe for concurrent access.
type Store struct {
	mu     sync.RWMutex
	byConn map[string]Identity
}

// NewStore creates an empty identity store.
func NewStore() *Store {
	return &Store{
		byConn: make(map[string]Identity),
	}
}

// Bind attaches an identity to a connection id.
// Binding an empty identity is a no-op so anonymous connections stay unbound.
func (s *Store) Bind(connectionID string, id Identity) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConn[connectionID] = id
}

// Lookup returns the identity bound to a connection, if any.
func (s *Store) Lookup(connectionID string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byConn[connectionID]
	return id, ok
}

// Remove forgets a connection.
func (s *Store) Remove(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byConn, connectionID)
}

// Count returns the number of bound connections.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConn)
}

// Authenticator resolves the caller of a negotiation request.
// Returning false means "anonymous", not "rejected": the connection is still
// accepted and mutating operations fail individually.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, bool)
}

// TokenAuthenticator accepts static bearer tokens configured per identity.
type TokenAuthenticator struct {
	tokens map[string]Identity
}

// NewTokenAuthenticator creates an authenticator from a token -> identity table.
func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	t := &TokenAuthenticator{tokens: make(map[string]Identity, len(tokens))}
	for token, id := range tokens {
		t.tokens[token] = Identity(id)
	}
	return t
}

// Authenticate reads the token from the Authorization header, falling back to
// the access_token query parameter browsers use for websocket negotiation.
func (t *TokenAuthenticator) Authenticate(r *http.Request) (Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		return "", false
	}
	id, ok := t.tokens[token]
	return id, ok
}

// HeaderAuthenticator trusts an identity header set by an upstream proxy.
type HeaderAuthenticator struct {
	Header string
}

// Authenticate returns the header value when present.
func (h HeaderAuthenticator) Authenticate(r *http.Request) (Identity, bool) {
	v := strings.TrimSpace(r.Header.Get(h.Header))
	if v == "" {
		return "", false
	}
	return Identity(v), true
}

// Anonymous never resolves an identity.
type Anonymous struct{}

// Authenticate always reports an anonymous caller.
func (Anonymous) Authenticate(*http.Request) (Identity, bool) {
	return "", false
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	return r.URL.Query().Get("access_token")
}
