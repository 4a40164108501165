package api

import (
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v4"
)

// TokenStore holds the current session credential. It is shared between
// the REST client and whoever refreshes the token.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore creates a store seeded with token.
func NewTokenStore(token string) *TokenStore {
	return &TokenStore{token: token}
}

// Token returns the current credential.
func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the credential and reports whether it changed.
func (s *TokenStore) Set(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		return false
	}
	s.token = token
	return true
}

// SubjectFromToken extracts the "sub" claim of a session JWT without
// verifying its signature. The client trusts its own credential; the
// server is the one that verifies it.
func SubjectFromToken(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("api: parse session token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("api: session token has no subject")
	}
	return claims.Subject, nil
}
