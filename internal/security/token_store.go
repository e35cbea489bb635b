// Package security implements the CSRF token store, input sanitization,
// security response headers and client IP resolution for the BOSTARTER core.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// csrfTokenBytes is the entropy of a generated CSRF token before encoding.
const csrfTokenBytes = 32

// boundToken is one CSRF token bound to a session.
type boundToken struct {
	value     string
	expiresAt time.Time
}

// TokenStore issues and validates per-session CSRF tokens. Generating a
// token for a session overwrites any prior one; validation uses a
// constant-time comparison and treats a missing binding as a plain mismatch,
// never an error.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]boundToken
	ttl    time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewTokenStore creates a TokenStore whose tokens expire after ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenStore{
		tokens: make(map[string]boundToken),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate produces a cryptographically random token, binds it to the
// session and returns it. Any previously bound token for the session is
// replaced.
func (s *TokenStore) Generate(sessionID string) (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	s.tokens[sessionID] = boundToken{
		value:     token,
		expiresAt: s.now().Add(s.ttl),
	}
	s.sweepLocked()
	s.mu.Unlock()

	return token, nil
}

// Validate reports whether candidate matches the token currently bound to
// the session. Empty candidates, unknown sessions and expired tokens all
// return false.
func (s *TokenStore) Validate(sessionID, candidate string) bool {
	if sessionID == "" || candidate == "" {
		return false
	}

	s.mu.RLock()
	bound, ok := s.tokens[sessionID]
	s.mu.RUnlock()

	if !ok || s.now().After(bound.expiresAt) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(bound.value), []byte(candidate)) == 1
}

// Bound reports whether a non-expired token is currently bound to the
// session.
func (s *TokenStore) Bound(sessionID string) bool {
	s.mu.RLock()
	bound, ok := s.tokens[sessionID]
	s.mu.RUnlock()

	return ok && !s.now().After(bound.expiresAt)
}

// Revoke clears the token bound to the session. Revoking an unknown session
// is a no-op.
func (s *TokenStore) Revoke(sessionID string) {
	s.mu.Lock()
	delete(s.tokens, sessionID)
	s.mu.Unlock()
}

// sweepLocked drops expired bindings. Called opportunistically under the
// write lock so no background goroutine is needed.
func (s *TokenStore) sweepLocked() {
	now := s.now()
	for id, bound := range s.tokens {
		if now.After(bound.expiresAt) {
			delete(s.tokens, id)
		}
	}
}
