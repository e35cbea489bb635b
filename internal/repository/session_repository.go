package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bostarter/backend/internal/metrics"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	CountFailedAttempts(ctx context.Context, email string, since time.Time) (int, error)
	RecordFailedAttempt(ctx context.Context, email string, ip string) error
	ClearFailedAttempts(ctx context.Context, email string) error
	CleanupExpiredSessions(ctx context.Context) (int64, error)
	CleanupOldFailedAttempts(ctx context.Context, before time.Time) (int64, error)
}

// sessionRepository implements SessionRepository against MySQL
type sessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create inserts a new session row
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	defer metrics.TimeQuery("session_create")()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastSeenAt = now

	query := `
		INSERT INTO sessions
			(id, user_id, token_hash, role, expires_at, created_at, last_seen_at, ip_address, user_agent)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID.String(),
		session.UserID.String(),
		session.TokenHash,
		session.Role,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastSeenAt,
		session.IPAddress,
		session.UserAgent,
	)
	return err
}

// GetByID retrieves a session by its identifier
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	defer metrics.TimeQuery("session_get_by_id")()

	query := `
		SELECT id, user_id, token_hash, role, expires_at, created_at, last_seen_at, ip_address, user_agent
		FROM sessions
		WHERE id = ?
	`

	session := &Session{}
	if err := r.db.GetContext(ctx, session, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// GetByTokenHash retrieves a session by its refresh-token hash
func (r *sessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	defer metrics.TimeQuery("session_get_by_token_hash")()

	query := `
		SELECT id, user_id, token_hash, role, expires_at, created_at, last_seen_at, ip_address, user_agent
		FROM sessions
		WHERE token_hash = ?
	`

	session := &Session{}
	if err := r.db.GetContext(ctx, session, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// Touch updates last_seen_at, keeping the idle-timeout window open
func (r *sessionRepository) Touch(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET last_seen_at = ? WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id.String())
	return err
}

// Delete removes a session by its ID
func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteByTokenHash removes a session by its refresh-token hash
func (r *sessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteByUserID removes every session owned by a user
func (r *sessionRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID.String())
	return err
}

// CountFailedAttempts counts failed login attempts for an email since a given time
func (r *sessionRepository) CountFailedAttempts(ctx context.Context, email string, since time.Time) (int, error) {
	defer metrics.TimeQuery("count_failed_attempts")()

	query := `
		SELECT COUNT(*)
		FROM failed_login_attempts
		WHERE email = LOWER(?) AND attempted_at >= ?
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, email, since); err != nil {
		return 0, err
	}

	return count, nil
}

// RecordFailedAttempt stores a failed login attempt
func (r *sessionRepository) RecordFailedAttempt(ctx context.Context, email string, ip string) error {
	query := `
		INSERT INTO failed_login_attempts (id, email, ip_address, attempted_at)
		VALUES (?, LOWER(?), ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, uuid.New().String(), email, ip, time.Now().UTC())
	return err
}

// ClearFailedAttempts forgives prior failures after a successful login
func (r *sessionRepository) ClearFailedAttempts(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM failed_login_attempts WHERE email = LOWER(?)`, email)
	return err
}

// CleanupExpiredSessions removes sessions past their expiry
func (r *sessionRepository) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CleanupOldFailedAttempts removes attempts older than the lockout window
func (r *sessionRepository) CleanupOldFailedAttempts(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM failed_login_attempts WHERE attempted_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
