package security

import "net/http"

// responseHeaders is the fixed set of security headers attached to every
// response. CSP is restrictive: the API serves JSON only.
var responseHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "1; mode=block",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Permissions-Policy":        "geolocation=(), microphone=(), camera=()",
}

// Headers returns middleware that sets the security headers before the
// handler writes. Headers are set once per response; handlers further down
// cannot unset them by writing first.
func Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for key, value := range responseHeaders {
			if h.Get(key) == "" {
				h.Set(key, value)
			}
		}
		next.ServeHTTP(w, r)
	})
}
