package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bostarter/backend/internal/security"
)

// Cookie names shared with the middleware layer.
const (
	SessionCookieName = "session_id"
	CSRFCookieName    = "csrf_token"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService   *AuthService
	secureCookies bool
	cookieMaxAge  time.Duration
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, secureCookies bool, cookieMaxAge time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		secureCookies: secureCookies,
		cookieMaxAge:  cookieMaxAge,
	}
}

// Register handles user registration
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	response, validationErrors, err := h.authService.Register(r.Context(), req, security.RealClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailExists):
			WriteError(w, http.StatusConflict, CodeEmailExists, "An account with this email already exists", nil)
		case errors.Is(err, ErrNicknameExists):
			WriteError(w, http.StatusConflict, CodeNicknameExists, "This nickname is already taken", nil)
		default:
			WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	if len(validationErrors) > 0 {
		details := make(map[string][]string)
		for _, ve := range validationErrors {
			details[ve.Field] = append(details[ve.Field], ve.Message)
		}
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	WriteSuccess(w, http.StatusCreated, map[string]interface{}{
		"user": response,
	})
}

// Login handles user authentication
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if req.Email == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "email and password are required", nil)
		return
	}

	ipAddress := security.RealClientIP(r)
	userAgent := r.UserAgent()

	response, err := h.authService.Login(r.Context(), req, ipAddress, userAgent)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			WriteError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
		case errors.Is(err, ErrInvalidAdminCode):
			WriteError(w, http.StatusForbidden, CodeInvalidAdminCode, "Admin security code rejected", nil)
		case errors.Is(err, ErrTooManyAttempts):
			details := map[string][]string{
				"retry_after": {strconv.Itoa(int(h.authService.LoginRetryAfter().Seconds()))},
			}
			WriteError(w, http.StatusTooManyRequests, CodeTooManyAttempts, "Too many failed login attempts. Please try again later.", details)
		default:
			WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	h.setSessionCookies(w, response.SessionID, response.CSRFToken)
	WriteSuccess(w, http.StatusOK, response)
}

// Logout handles user logout
// POST /api/v1/auth/logout
//
// Logout never fails from the client's point of view: a missing or stale
// session still clears the cookies and answers success.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	if err := h.authService.Logout(r.Context(), sessionID, security.RealClientIP(r)); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.clearSessionCookies(w)
	WriteSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// Refresh handles token refresh and session rotation
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if req.RefreshToken == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "refresh_token is required", nil)
		return
	}

	response, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			WriteError(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "Invalid or expired refresh token", nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.setSessionCookies(w, response.SessionID, response.CSRFToken)
	WriteSuccess(w, http.StatusOK, response)
}

// Session reports the current session state
// GET /api/v1/auth/session
//
// An anonymous caller gets a successful response with authenticated=false,
// not an error; the endpoint exists so the frontend can probe state.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		WriteSuccess(w, http.StatusOK, map[string]interface{}{
			"authenticated": false,
		})
		return
	}

	user, err := h.authService.SessionInfo(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.clearSessionCookies(w)
			WriteSuccess(w, http.StatusOK, map[string]interface{}{
				"authenticated": false,
			})
			return
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user":          user,
	})
}

// setSessionCookies binds the session to the browser. The session cookie is
// HttpOnly; the CSRF cookie is readable by scripts so the frontend can echo
// it back in the X-CSRF-Token header.
func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, sessionID, csrfToken string) {
	maxAge := int(h.cookieMaxAge.Seconds())

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{SessionCookieName, CSRFCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name == SessionCookieName,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

// WriteSuccess writes a successful JSON response in the standard envelope
func WriteSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// WriteError writes an error JSON response in the standard envelope.
// Failures never answer with a success status.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
