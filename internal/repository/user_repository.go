package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bostarter/backend/internal/metrics"
)

// Common errors
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailAlreadyExists    = errors.New("email already exists")
	ErrNicknameAlreadyExists = errors.New("nickname already exists")
)

// mysqlDuplicateEntry is the MySQL error number for unique-key violations.
const mysqlDuplicateEntry = 1062

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
	EmailExists(ctx context.Context, email string) (bool, error)
	NicknameExists(ctx context.Context, nickname string) (bool, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Count(ctx context.Context) (int, error)
}

// userRepository implements UserRepository against MySQL
type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new user inside a single transaction so a partial record
// never persists. Duplicate unique keys are mapped to the field-specific
// sentinel errors.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	defer metrics.TimeQuery("user_create")()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	now := time.Now().UTC()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO users
			(id, email, nickname, password_hash, first_name, last_name, role, admin_code_hash, is_active, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		user.ID.String(),
		user.Email,
		user.Nickname,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role,
		user.AdminCodeHash,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return mapDuplicateKey(err)
	}

	return tx.Commit()
}

// mapDuplicateKey translates a MySQL duplicate-entry error into the sentinel
// for the conflicting unique index.
func mapDuplicateKey(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		switch {
		case strings.Contains(me.Message, "uq_users_nickname"):
			return ErrNicknameAlreadyExists
		case strings.Contains(me.Message, "uq_users_email"):
			return ErrEmailAlreadyExists
		default:
			return ErrEmailAlreadyExists
		}
	}
	return err
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	defer metrics.TimeQuery("user_get_by_id")()

	query := `
		SELECT id, email, nickname, password_hash, first_name, last_name, role,
		       admin_code_hash, is_active, created_at, updated_at, last_login_at
		FROM users
		WHERE id = ?
	`

	user := &User{}
	if err := r.db.GetContext(ctx, user, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

// GetByEmail retrieves a user by their email address (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer metrics.TimeQuery("user_get_by_email")()

	query := `
		SELECT id, email, nickname, password_hash, first_name, last_name, role,
		       admin_code_hash, is_active, created_at, updated_at, last_login_at
		FROM users
		WHERE email = LOWER(?)
	`

	user := &User{}
	if err := r.db.GetContext(ctx, user, query, strings.TrimSpace(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

// UpdateLastLogin updates the last_login_at timestamp for a user
func (r *userRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	defer metrics.TimeQuery("user_update_last_login")()

	query := `UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, now, now, id.String())
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// EmailExists checks if an email address is already registered (case-insensitive)
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = LOWER(?))`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, strings.TrimSpace(email)); err != nil {
		return false, err
	}

	return exists, nil
}

// NicknameExists checks if a nickname is already taken
func (r *userRepository) NicknameExists(ctx context.Context, nickname string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE nickname = ?)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, strings.TrimSpace(nickname)); err != nil {
		return false, err
	}

	return exists, nil
}

// SetActive flips the soft active/locked status of an account. Accounts are
// never hard-deleted by this service.
func (r *userRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id.String())
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Count returns the total number of registered users
func (r *userRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, err
	}
	return count, nil
}
