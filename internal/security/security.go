package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxFieldLength bounds a single sanitized string field.
const DefaultMaxFieldLength = 1000

// Sanitizer recursively cleans untrusted request values. Strings are
// trimmed, stripped of markup, truncated and HTML-escaped; maps and slices
// keep their shape. Sanitization is pure: the input is never modified in
// place.
type Sanitizer struct {
	policy         *bluemonday.Policy
	maxFieldLength int
}

// NewSanitizer creates a Sanitizer with the strict (strip-everything)
// policy, which matches how form input on the platform is handled: markup
// carries no meaning in any auth field.
func NewSanitizer(maxFieldLength int) *Sanitizer {
	if maxFieldLength <= 0 {
		maxFieldLength = DefaultMaxFieldLength
	}
	return &Sanitizer{
		policy:         bluemonday.StrictPolicy(),
		maxFieldLength: maxFieldLength,
	}
}

// SanitizeString cleans a single scalar value.
func (s *Sanitizer) SanitizeString(value string) string {
	cleaned := strings.TrimSpace(value)
	cleaned = s.policy.Sanitize(cleaned)
	// bluemonday entity-encodes on output; decode before re-escaping so we
	// do not double-escape plain text.
	cleaned = html.UnescapeString(cleaned)
	if len(cleaned) > s.maxFieldLength {
		// Back up to a rune boundary so the cut never leaves a partial
		// UTF-8 sequence behind.
		cut := s.maxFieldLength
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
	}
	return html.EscapeString(cleaned)
}

// Sanitize cleans an arbitrary decoded-JSON value, preserving its shape.
// Non-string scalars pass through untouched.
func (s *Sanitizer) Sanitize(value any) any {
	switch v := value.(type) {
	case string:
		return s.SanitizeString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = s.Sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.Sanitize(item)
		}
		return out
	default:
		return v
	}
}

// SanitizeMap cleans every value of a string map, returning a new map.
func (s *Sanitizer) SanitizeMap(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = s.SanitizeString(value)
	}
	return out
}

// GenerateSecureToken returns n bytes of cryptographically secure
// randomness, hex encoded.
func GenerateSecureToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
