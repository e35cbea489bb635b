package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bostarter/backend/internal/events"
	"github.com/bostarter/backend/internal/metrics"
	"github.com/bostarter/backend/internal/ratelimit"
	"github.com/bostarter/backend/internal/repository"
	"github.com/bostarter/backend/internal/security"
)

// Auth service errors
var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrTooManyAttempts     = errors.New("too many failed attempts")
	ErrInvalidAdminCode    = errors.New("invalid admin security code")
	ErrEmailExists         = errors.New("email already exists")
	ErrNicknameExists      = errors.New("nickname already exists")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUserNotFound        = errors.New("user not found")
)

// Error codes for API responses
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeEmailExists         = "EMAIL_EXISTS"
	CodeNicknameExists      = "NICKNAME_EXISTS"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeInvalidAdminCode    = "INVALID_ADMIN_CODE"
	CodeTooManyAttempts     = "TOO_MANY_ATTEMPTS"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeCSRFInvalid         = "CSRF_INVALID"
	CodeAuthTokenMissing    = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid    = "AUTH_TOKEN_INVALID"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Nickname  string `json:"nickname" validate:"required,min=3,max=32,alphanum"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	AdminSecurityCode string `json:"admin_security_code,omitempty"`
}

// RefreshRequest represents the token refresh request payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse represents the token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UserResponse represents the user data in responses
type UserResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Nickname  string     `json:"nickname"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// AuthResponse represents the authentication response. SessionID and
// CSRFToken travel via cookies, never in the JSON body.
type AuthResponse struct {
	User   UserResponse  `json:"user"`
	Tokens TokenResponse `json:"tokens"`

	SessionID string `json:"-"`
	CSRFToken string `json:"-"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Config holds the tunables of the auth orchestration.
type Config struct {
	LoginMaxAttempts   int
	LoginWindow        time.Duration
	AdminCodeWindow    time.Duration
	SessionIdleTimeout time.Duration
}

// AuthService orchestrates login, registration, logout and session
// checks over the credential store, rate limiter, CSRF token store and
// event log. All collaborators are injected; the service holds no global
// state.
type AuthService struct {
	userRepo          repository.UserRepository
	sessionRepo       repository.SessionRepository
	tokenService      *TokenService
	passwordValidator *PasswordValidator
	csrfTokens        *security.TokenStore
	sanitizer         *security.Sanitizer
	limiter           ratelimit.Limiter
	eventLog          *events.Logger
	validate          *validator.Validate
	logger            *slog.Logger
	cfg               Config
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokenService *TokenService,
	passwordValidator *PasswordValidator,
	csrfTokens *security.TokenStore,
	sanitizer *security.Sanitizer,
	limiter ratelimit.Limiter,
	eventLog *events.Logger,
	logger *slog.Logger,
	cfg Config,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginMaxAttempts <= 0 {
		cfg.LoginMaxAttempts = 5
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = 5 * time.Minute
	}
	if cfg.AdminCodeWindow <= 0 {
		cfg.AdminCodeWindow = 15 * time.Minute
	}
	if cfg.SessionIdleTimeout <= 0 {
		cfg.SessionIdleTimeout = 30 * time.Minute
	}
	return &AuthService{
		userRepo:          userRepo,
		sessionRepo:       sessionRepo,
		tokenService:      tokenService,
		passwordValidator: passwordValidator,
		csrfTokens:        csrfTokens,
		sanitizer:         sanitizer,
		limiter:           limiter,
		eventLog:          eventLog,
		validate:          validator.New(),
		logger:            logger,
		cfg:               cfg,
	}
}

// LoginRetryAfter reports how long a locked-out caller should wait before
// trying again. It mirrors the failed-attempt window.
func (s *AuthService) LoginRetryAfter() time.Duration {
	return s.cfg.LoginWindow
}

// Register validates every field before ANY database mutation, then
// creates the account in a single transaction so partial records never
// persist. The outcome is logged without the raw password.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, ipAddress string) (*UserResponse, []ValidationError, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Nickname = s.sanitizer.SanitizeString(req.Nickname)
	req.FirstName = s.sanitizer.SanitizeString(req.FirstName)
	req.LastName = s.sanitizer.SanitizeString(req.LastName)

	var validationErrors []ValidationError

	if err := s.validate.Struct(req); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				validationErrors = append(validationErrors, ValidationError{
					Field:   strings.ToLower(fe.Field()),
					Message: registerFieldMessage(fe),
				})
			}
		} else {
			return nil, nil, err
		}
	}

	if !isValidEmail(req.Email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	for _, pe := range s.passwordValidator.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   pe.Field,
			Message: pe.Message,
		})
	}

	if len(validationErrors) > 0 {
		metrics.Registrations.WithLabelValues("validation_failed").Inc()
		return nil, validationErrors, nil
	}

	passwordHash, err := s.passwordValidator.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &repository.User{
		Email:        req.Email,
		Nickname:     req.Nickname,
		PasswordHash: passwordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         repository.RoleUser,
		IsActive:     true,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailAlreadyExists):
			metrics.Registrations.WithLabelValues("duplicate").Inc()
			s.logAuthEvent(ctx, events.TypeUserRegistered, events.LevelWarning, "", events.AuthPayload{
				Email:     req.Email,
				IPAddress: ipAddress,
				Success:   false,
				Reason:    "duplicate email",
			})
			return nil, nil, ErrEmailExists
		case errors.Is(err, repository.ErrNicknameAlreadyExists):
			metrics.Registrations.WithLabelValues("duplicate").Inc()
			s.logAuthEvent(ctx, events.TypeUserRegistered, events.LevelWarning, "", events.AuthPayload{
				Email:     req.Email,
				IPAddress: ipAddress,
				Success:   false,
				Reason:    "duplicate nickname",
			})
			return nil, nil, ErrNicknameExists
		}
		return nil, nil, err
	}

	metrics.Registrations.WithLabelValues("success").Inc()
	s.logAuthEvent(ctx, events.TypeUserRegistered, events.LevelInfo, user.ID.String(), events.AuthPayload{
		Email:     user.Email,
		IPAddress: ipAddress,
		Success:   true,
	})

	return userToResponse(user), nil, nil
}

// Login runs the attempt through rate limiting, credential verification,
// optional admin-code verification, session establishment and audit
// logging. Every failure before session establishment is answered with the
// same generic error so account existence cannot be probed; only the
// rate-limit outcome is distinct.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, ipAddress, userAgent string) (*AuthResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	allowed, err := s.limiter.Allow(ctx, "login:"+ipAddress, s.cfg.LoginMaxAttempts, s.cfg.LoginWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, continuing open", "error", err)
		allowed = true
	}
	if !allowed {
		metrics.AuthAttempts.WithLabelValues("rate_limited").Inc()
		metrics.RateLimitRejections.WithLabelValues("login").Inc()
		s.logSecurityEvent(ctx, events.TypeRateLimited, events.SecurityPayload{
			Action:    "login",
			IPAddress: ipAddress,
			Detail:    "login attempts exceeded for client",
		})
		return nil, ErrTooManyAttempts
	}

	// The email-keyed window survives IP rotation.
	since := time.Now().UTC().Add(-s.cfg.LoginWindow)
	failedAttempts, err := s.sessionRepo.CountFailedAttempts(ctx, email, since)
	if err != nil {
		return nil, err
	}
	if failedAttempts >= s.cfg.LoginMaxAttempts {
		metrics.AuthAttempts.WithLabelValues("rate_limited").Inc()
		s.logSecurityEvent(ctx, events.TypeRateLimited, events.SecurityPayload{
			Action:    "login",
			IPAddress: ipAddress,
			Detail:    "login attempts exceeded for account",
		})
		return nil, ErrTooManyAttempts
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, s.failLogin(ctx, email, ipAddress, userAgent, "unknown account")
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, s.failLogin(ctx, email, ipAddress, userAgent, "inactive account")
	}

	if err := s.passwordValidator.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		return nil, s.failLogin(ctx, email, ipAddress, userAgent, "wrong password")
	}

	if user.Role == repository.RoleAdmin {
		if err := s.verifyAdminCode(ctx, user, req.AdminSecurityCode, ipAddress); err != nil {
			return nil, err
		}
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, err
	}

	// Success forgives prior failures.
	if err := s.sessionRepo.ClearFailedAttempts(ctx, email); err != nil {
		s.logger.Warn("failed to clear login attempts", "error", err)
	}
	if err := s.limiter.Reset(ctx, "login:"+ipAddress); err != nil {
		s.logger.Warn("failed to reset login limiter", "error", err)
	}

	response, err := s.establishSession(ctx, user, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.logAuthEvent(ctx, events.TypeUserLogin, events.LevelInfo, user.ID.String(), events.AuthPayload{
		Email:     user.Email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	return response, nil
}

// failLogin records a failed attempt, logs the security event and returns
// the uniform credentials error. The real reason stays server side.
func (s *AuthService) failLogin(ctx context.Context, email, ipAddress, userAgent, reason string) error {
	if err := s.sessionRepo.RecordFailedAttempt(ctx, email, ipAddress); err != nil {
		s.logger.Warn("failed to record login attempt", "error", err)
	}

	metrics.AuthAttempts.WithLabelValues("invalid_credentials").Inc()
	s.logAuthEvent(ctx, events.TypeLoginFailed, events.LevelWarning, "", events.AuthPayload{
		Email:     email,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   false,
		Reason:    reason,
	})

	return ErrInvalidCredentials
}

// verifyAdminCode checks the admin shared secret under its own rate-limit
// key so probing it does not ride on the general login budget.
func (s *AuthService) verifyAdminCode(ctx context.Context, user *repository.User, code, ipAddress string) error {
	allowed, err := s.limiter.Allow(ctx, "admincode:"+user.Email, s.cfg.LoginMaxAttempts, s.cfg.AdminCodeWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, continuing open", "error", err)
		allowed = true
	}
	if !allowed {
		metrics.RateLimitRejections.WithLabelValues("admin_code").Inc()
		return ErrTooManyAttempts
	}

	if user.AdminCodeHash == nil || code == "" ||
		s.passwordValidator.VerifyAdminCode(code, *user.AdminCodeHash) != nil {
		metrics.AuthAttempts.WithLabelValues("bad_admin_code").Inc()
		s.logSecurityEvent(ctx, events.TypeAdminCodeFailed, events.SecurityPayload{
			Action:    "admin_login",
			IPAddress: ipAddress,
			Detail:    "admin security code rejected",
		})
		return ErrInvalidAdminCode
	}

	if err := s.limiter.Reset(ctx, "admincode:"+user.Email); err != nil {
		s.logger.Warn("failed to reset admin code limiter", "error", err)
	}
	return nil
}

// establishSession creates a fresh session row, a CSRF token bound to it
// and a token pair. The session identifier is always newly generated, never
// reused from a prior unauthenticated context.
func (s *AuthService) establishSession(ctx context.Context, user *repository.User, ipAddress, userAgent string) (*AuthResponse, error) {
	session := &repository.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: time.Now().UTC().Add(s.tokenService.GetRefreshTokenExpiry()),
		IPAddress: &ipAddress,
		UserAgent: &userAgent,
	}

	tokenPair, err := s.tokenService.GenerateTokenPair(user.ID.String(), user.Email, user.Role, session.ID.String())
	if err != nil {
		return nil, err
	}
	session.TokenHash = s.tokenService.HashRefreshToken(tokenPair.RefreshToken)

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	csrfToken, err := s.csrfTokens.Generate(session.ID.String())
	if err != nil {
		return nil, err
	}

	metrics.SessionsActive.Inc()

	return &AuthResponse{
		User: *userToResponse(user),
		Tokens: TokenResponse{
			AccessToken:  tokenPair.AccessToken,
			RefreshToken: tokenPair.RefreshToken,
			ExpiresIn:    tokenPair.ExpiresIn,
			TokenType:    "Bearer",
		},
		SessionID: session.ID.String(),
		CSRFToken: csrfToken,
	}, nil
}

// Refresh validates a refresh token and rotates the session: the old
// session row is replaced and a fresh CSRF token is bound to the new one.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if _, err := s.tokenService.ValidateRefreshToken(refreshToken); err != nil {
		return nil, ErrInvalidRefreshToken
	}

	tokenHash := s.tokenService.HashRefreshToken(refreshToken)
	session, err := s.sessionRepo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if time.Now().UTC().After(session.ExpiresAt) {
		_ = s.sessionRepo.Delete(ctx, session.ID)
		s.csrfTokens.Revoke(session.ID.String())
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidRefreshToken
	}

	if err := s.sessionRepo.Delete(ctx, session.ID); err != nil {
		return nil, err
	}
	s.csrfTokens.Revoke(session.ID.String())
	metrics.SessionsActive.Dec()

	newSession := &repository.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: time.Now().UTC().Add(s.tokenService.GetRefreshTokenExpiry()),
		IPAddress: session.IPAddress,
		UserAgent: session.UserAgent,
	}

	pair, err := s.tokenService.GenerateTokenPair(user.ID.String(), user.Email, user.Role, newSession.ID.String())
	if err != nil {
		return nil, err
	}
	newSession.TokenHash = s.tokenService.HashRefreshToken(pair.RefreshToken)
	if err := s.sessionRepo.Create(ctx, newSession); err != nil {
		return nil, err
	}

	csrfToken, err := s.csrfTokens.Generate(newSession.ID.String())
	if err != nil {
		return nil, err
	}
	metrics.SessionsActive.Inc()

	return &AuthResponse{
		User: *userToResponse(user),
		Tokens: TokenResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresIn:    pair.ExpiresIn,
			TokenType:    "Bearer",
		},
		SessionID: newSession.ID.String(),
		CSRFToken: csrfToken,
	}, nil
}

// Logout destroys the session if one exists. It is idempotent: an unknown
// or already-destroyed session is still a successful logout, and the event
// is logged only when a session actually existed.
func (s *AuthService) Logout(ctx context.Context, sessionID, ipAddress string) error {
	if sessionID == "" {
		return nil
	}

	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil
	}

	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.sessionRepo.Delete(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return err
	}
	s.csrfTokens.Revoke(sessionID)
	metrics.SessionsActive.Dec()

	s.logAuthEvent(ctx, events.TypeUserLogout, events.LevelInfo, session.UserID.String(), events.AuthPayload{
		IPAddress: ipAddress,
		Success:   true,
	})

	return nil
}

// SessionInfo reports whether the session is alive and, if so, the owning
// user. Idle sessions past the timeout are destroyed on sight.
func (s *AuthService) SessionInfo(ctx context.Context, sessionID string) (*UserResponse, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	if now.After(session.ExpiresAt) || now.Sub(session.LastSeenAt) > s.cfg.SessionIdleTimeout {
		_ = s.sessionRepo.Delete(ctx, session.ID)
		s.csrfTokens.Revoke(sessionID)
		return nil, ErrSessionNotFound
	}

	if err := s.sessionRepo.Touch(ctx, session.ID); err != nil {
		s.logger.Warn("failed to touch session", "error", err)
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return userToResponse(user), nil
}

// logAuthEvent writes an auth-category event, best effort.
func (s *AuthService) logAuthEvent(ctx context.Context, eventType string, level events.Level, userID string, payload events.AuthPayload) {
	if s.eventLog == nil {
		return
	}
	if err := s.eventLog.Log(ctx, eventType, level, userID, payload); err != nil {
		s.logger.Error("audit event not recorded", "type", eventType, "error", err)
	}
}

// logSecurityEvent writes a security-category event. Security events are
// critical on the logger side; a persistence failure is surfaced here in
// the log but never to the client.
func (s *AuthService) logSecurityEvent(ctx context.Context, eventType string, payload events.SecurityPayload) {
	if s.eventLog == nil {
		return
	}
	if err := s.eventLog.Log(ctx, eventType, events.LevelWarning, "", payload); err != nil {
		s.logger.Error("security event not recorded", "type", eventType, "error", err)
	}
}

func userToResponse(user *repository.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Nickname:  user.Nickname,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLoginAt,
	}
}

// registerFieldMessage maps a validator field error to a human message.
func registerFieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "alphanum":
		return "Only letters and digits are allowed"
	default:
		return "Invalid value"
	}
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
