package repository

import (
	"time"

	"github.com/google/uuid"
)

// Role values stored on a user record
const (
	RoleUser    = "user"
	RoleCreator = "creator"
	RoleAdmin   = "admin"
)

// User represents a registered account in the database.
// Email and nickname carry unique indexes; accounts are deactivated via
// IsActive rather than deleted.
type User struct {
	ID            uuid.UUID  `db:"id"`
	Email         string     `db:"email"`
	Nickname      string     `db:"nickname"`
	PasswordHash  string     `db:"password_hash"`
	FirstName     string     `db:"first_name"`
	LastName      string     `db:"last_name"`
	Role          string     `db:"role"`
	AdminCodeHash *string    `db:"admin_code_hash"`
	IsActive      bool       `db:"is_active"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	LastLoginAt   *time.Time `db:"last_login_at"`
}

// Session represents an authenticated browser context in the database.
// TokenHash is the SHA-256 of the refresh token; the raw token is never
// stored.
type Session struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	TokenHash  string     `db:"token_hash"`
	Role       string     `db:"role"`
	ExpiresAt  time.Time  `db:"expires_at"`
	CreatedAt  time.Time  `db:"created_at"`
	LastSeenAt time.Time  `db:"last_seen_at"`
	IPAddress  *string    `db:"ip_address"`
	UserAgent  *string    `db:"user_agent"`
}

// FailedLoginAttempt represents one failed login attempt for brute force
// protection. Rows are pruned once outside the lockout window.
type FailedLoginAttempt struct {
	ID          uuid.UUID `db:"id"`
	Email       string    `db:"email"`
	IPAddress   string    `db:"ip_address"`
	AttemptedAt time.Time `db:"attempted_at"`
}
