package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bostarter/backend/internal/auth"
	appctx "github.com/bostarter/backend/internal/context"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMiddleware authenticates protected routes. A request may carry a
// bearer access token or a session cookie; either one establishes identity,
// with the bearer token checked first.
type AuthMiddleware struct {
	tokenService *auth.TokenService
	authService  *auth.AuthService
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(tokenService *auth.TokenService, authService *auth.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		authService:  authService,
	}
}

// Authenticate validates the caller's credentials and injects user ID,
// email, role and session ID into the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			m.authenticateBearer(w, r, next, authHeader)
			return
		}

		cookie, err := r.Cookie(auth.SessionCookieName)
		if err != nil || cookie.Value == "" {
			writeMiddlewareError(w, http.StatusUnauthorized, auth.CodeAuthTokenMissing, "Authentication required")
			return
		}
		m.authenticateSession(w, r, next, cookie.Value)
	})
}

// RequireRole gates a route to callers whose role matches one of the given
// roles. It must run after Authenticate.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := appctx.ExtractRole(r.Context())
			if !ok || !allowed[role] {
				writeMiddlewareError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) authenticateBearer(w http.ResponseWriter, r *http.Request, next http.Handler, authHeader string) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		writeMiddlewareError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid authorization header format")
		return
	}

	tokenString := parts[1]
	if tokenString == "" {
		writeMiddlewareError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Token is empty")
		return
	}

	claims, err := m.tokenService.ValidateAccessToken(tokenString)
	if err != nil {
		writeMiddlewareError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token")
		return
	}

	ctx := context.WithValue(r.Context(), appctx.UserIDKey, claims.UserID())
	ctx = context.WithValue(ctx, appctx.EmailKey, claims.Email)
	ctx = context.WithValue(ctx, appctx.RoleKey, claims.Role)
	ctx = context.WithValue(ctx, appctx.SessionIDKey, claims.SessionID)

	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *AuthMiddleware) authenticateSession(w http.ResponseWriter, r *http.Request, next http.Handler, sessionID string) {
	user, err := m.authService.SessionInfo(r.Context(), sessionID)
	if err != nil {
		writeMiddlewareError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Session expired or invalid")
		return
	}

	ctx := context.WithValue(r.Context(), appctx.UserIDKey, user.ID)
	ctx = context.WithValue(ctx, appctx.EmailKey, user.Email)
	ctx = context.WithValue(ctx, appctx.RoleKey, user.Role)
	ctx = context.WithValue(ctx, appctx.SessionIDKey, sessionID)

	next.ServeHTTP(w, r.WithContext(ctx))
}

// writeMiddlewareError writes a JSON error response
func writeMiddlewareError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	return appctx.ExtractUserID(ctx)
}

// ExtractRole extracts the role from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	return appctx.ExtractRole(ctx)
}
