package gateway

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialStore holds the process-wide id token. Single slot,
// last-writer-wins: a later login overwrites an earlier one. Readers fetch
// the value immediately before each authorized call so a refreshed
// credential is observed without restart.
type CredentialStore struct {
	mu      sync.RWMutex
	idToken string
}

// NewCredentialStore returns an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Set unconditionally replaces the current id token.
func (s *CredentialStore) Set(idToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idToken = idToken
}

// Get returns the current id token, or ErrUnauthenticated before the first
// successful login.
func (s *CredentialStore) Get() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.idToken == "" {
		return "", ErrUnauthenticated
	}
	return s.idToken, nil
}

// Subject decodes the current id token's claims without verifying the
// signature and returns an identifier for the user, preferring email over
// sub. This is a convenience read for things like broker client ids; trust
// in the token is delegated to the issuing authorization server and the
// result must never gate access.
func (s *CredentialStore) Subject() (string, error) {
	raw, err := s.Get()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("decode id token claims: %w", err)
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		return email, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("id token carries neither email nor sub claim")
}
