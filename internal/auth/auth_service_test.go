package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bostarter/backend/internal/events"
	"github.com/bostarter/backend/internal/ratelimit"
	"github.com/bostarter/backend/internal/repository"
	"github.com/bostarter/backend/internal/security"
)

// fakeUserRepo is an in-memory UserRepository.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*repository.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*repository.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *repository.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrEmailAlreadyExists
		}
		if existing.Nickname == user.Nickname {
			return repository.ErrNicknameAlreadyExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	now := time.Now().UTC()
	user.LastLoginAt = &now
	return nil
}

func (r *fakeUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	return err == nil, nil
}

func (r *fakeUserRepo) NicknameExists(_ context.Context, nickname string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Nickname == nickname {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.IsActive = active
	return nil
}

func (r *fakeUserRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users), nil
}

// fakeSessionRepo is an in-memory SessionRepository.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*repository.Session
	attempts []repository.FailedLoginAttempt
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*repository.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, session *repository.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.LastSeenAt = now
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *fakeSessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.TokenHash == tokenHash {
			clone := *session
			return &clone, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *fakeSessionRepo) Touch(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session, ok := r.sessions[id]; ok {
		session.LastSeenAt = time.Now().UTC()
	}
	return nil
}

func (r *fakeSessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *fakeSessionRepo) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		if session.TokenHash == tokenHash {
			delete(r.sessions, id)
			return nil
		}
	}
	return repository.ErrSessionNotFound
}

func (r *fakeSessionRepo) DeleteByUserID(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		if session.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *fakeSessionRepo) CountFailedAttempts(_ context.Context, email string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, attempt := range r.attempts {
		if attempt.Email == email && !attempt.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *fakeSessionRepo) RecordFailedAttempt(_ context.Context, email, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, repository.FailedLoginAttempt{
		ID:          uuid.New(),
		Email:       email,
		IPAddress:   ip,
		AttemptedAt: time.Now().UTC(),
	})
	return nil
}

func (r *fakeSessionRepo) ClearFailedAttempts(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.attempts[:0]
	for _, attempt := range r.attempts {
		if attempt.Email != email {
			kept = append(kept, attempt)
		}
	}
	r.attempts = kept
	return nil
}

func (r *fakeSessionRepo) CleanupExpiredSessions(_ context.Context) (int64, error) {
	return 0, nil
}

func (r *fakeSessionRepo) CleanupOldFailedAttempts(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeSessionRepo) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// memoryEventStore collects events in memory for assertions.
type memoryEventStore struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *memoryEventStore) Insert(_ context.Context, event events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryEventStore) Query(_ context.Context, _ events.Filter) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *memoryEventStore) EnsureIndexes(_ context.Context) error { return nil }

func (s *memoryEventStore) byType(eventType string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	service    *AuthService
	users      *fakeUserRepo
	sessions   *fakeSessionRepo
	eventStore *memoryEventStore
	csrfTokens *security.TokenStore
	limiter    *ratelimit.WindowLimiter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserRepo()
	sessions := newFakeSessionRepo()
	eventStore := &memoryEventStore{}

	eventCfg := events.DefaultConfig()
	eventCfg.DedupWindow = 0
	eventCfg.RetryBaseWait = time.Microsecond
	eventLog := events.NewLogger(eventStore, nil, eventCfg)

	csrfTokens := security.NewTokenStore(time.Hour)
	limiter := ratelimit.NewWindowLimiter()

	service := NewAuthService(
		users,
		sessions,
		newTestTokenService(),
		NewPasswordValidator(DefaultPasswordPolicy()),
		csrfTokens,
		security.NewSanitizer(0),
		limiter,
		eventLog,
		nil,
		Config{
			LoginMaxAttempts:   5,
			LoginWindow:        5 * time.Minute,
			AdminCodeWindow:    15 * time.Minute,
			SessionIdleTimeout: 30 * time.Minute,
		},
	)

	return &testEnv{
		service:    service,
		users:      users,
		sessions:   sessions,
		eventStore: eventStore,
		csrfTokens: csrfTokens,
		limiter:    limiter,
	}
}

// seedUser inserts an account directly, bypassing registration. The hash
// uses the minimum bcrypt cost to keep tests fast.
func (env *testEnv) seedUser(t *testing.T, email, nickname, password, role string) *repository.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := &repository.User{
		Email:        email,
		Nickname:     nickname,
		PasswordHash: string(hash),
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		IsActive:     true,
	}
	if err := env.users.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func (env *testEnv) seedAdmin(t *testing.T, email, password, adminCode string) *repository.User {
	t.Helper()
	user := env.seedUser(t, email, "admin"+uuid.New().String()[:8], password, repository.RoleAdmin)
	codeHash, err := bcrypt.GenerateFromPassword([]byte(adminCode), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash admin code: %v", err)
	}
	env.users.mu.Lock()
	hashStr := string(codeHash)
	env.users.users[user.ID].AdminCodeHash = &hashStr
	env.users.mu.Unlock()
	return user
}

const (
	testIP = "198.51.100.7"
	testUA = "test-agent/1.0"
)

func TestRegisterCreatesUserWithHashedPassword(t *testing.T) {
	env := newTestEnv(t)

	resp, validationErrs, err := env.service.Register(context.Background(), RegisterRequest{
		Email:     "Alice@Example.COM",
		Nickname:  "alice42",
		Password:  "S3cure!pass",
		FirstName: "Alice",
		LastName:  "Smith",
	}, testIP)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(validationErrs) != 0 {
		t.Fatalf("unexpected validation errors: %v", validationErrs)
	}

	if resp.Email != "alice@example.com" {
		t.Errorf("email not normalized: %s", resp.Email)
	}
	if resp.Role != repository.RoleUser {
		t.Errorf("new account should have the user role, got %s", resp.Role)
	}

	stored, err := env.users.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if stored.PasswordHash == "S3cure!pass" || !strings.HasPrefix(stored.PasswordHash, "$2") {
		t.Error("password not stored as bcrypt hash")
	}

	registered := env.eventStore.byType(events.TypeUserRegistered)
	if len(registered) != 1 {
		t.Fatalf("expected 1 registration event, got %d", len(registered))
	}
	for key := range registered[0].Data {
		if strings.Contains(strings.ToLower(key), "password") {
			if registered[0].Data[key] != "[REDACTED]" {
				t.Error("password leaked into event log")
			}
		}
	}
}

func TestRegisterCollectsAllValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	_, validationErrs, err := env.service.Register(context.Background(), RegisterRequest{
		Email:     "not-an-email",
		Nickname:  "x",
		Password:  "weak",
		FirstName: "A",
		LastName:  "B",
	}, testIP)
	if err != nil {
		t.Fatalf("Register returned hard error for validation input: %v", err)
	}
	if len(validationErrs) == 0 {
		t.Fatal("expected validation errors")
	}

	fields := make(map[string]bool)
	for _, ve := range validationErrs {
		fields[ve.Field] = true
	}
	if !fields["email"] || !fields["nickname"] || !fields["password"] {
		t.Errorf("expected errors for email, nickname and password, got %v", fields)
	}

	if count, _ := env.users.Count(context.Background()); count != 0 {
		t.Error("user persisted despite validation failure")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "taken@example.com", "taken", "S3cure!pass", repository.RoleUser)

	_, _, err := env.service.Register(context.Background(), RegisterRequest{
		Email:     "taken@example.com",
		Nickname:  "somebody",
		Password:  "S3cure!pass",
		FirstName: "A",
		LastName:  "B",
	}, testIP)
	if err != ErrEmailExists {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}

	_, _, err = env.service.Register(context.Background(), RegisterRequest{
		Email:     "fresh@example.com",
		Nickname:  "taken",
		Password:  "S3cure!pass",
		FirstName: "A",
		LastName:  "B",
	}, testIP)
	if err != ErrNicknameExists {
		t.Errorf("expected ErrNicknameExists, got %v", err)
	}
}

func TestRegisterSanitizesNameFields(t *testing.T) {
	env := newTestEnv(t)

	resp, validationErrs, err := env.service.Register(context.Background(), RegisterRequest{
		Email:     "bob@example.com",
		Nickname:  "bob42",
		Password:  "S3cure!pass",
		FirstName: "<script>alert(1)</script>Bob",
		LastName:  "  Builder  ",
	}, testIP)
	if err != nil || len(validationErrs) != 0 {
		t.Fatalf("Register failed: %v %v", err, validationErrs)
	}

	if strings.Contains(resp.FirstName, "<script>") {
		t.Errorf("markup survived sanitization: %q", resp.FirstName)
	}
	if resp.LastName != "Builder" {
		t.Errorf("whitespace not trimmed: %q", resp.LastName)
	}
}

func TestLoginSuccessEstablishesSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	resp, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "Alice@Example.com",
		Password: "S3cure!pass",
	}, testIP, testUA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Error("token pair missing")
	}
	if resp.SessionID == "" {
		t.Fatal("session ID missing")
	}
	if resp.CSRFToken == "" {
		t.Fatal("CSRF token missing")
	}
	if !env.csrfTokens.Validate(resp.SessionID, resp.CSRFToken) {
		t.Error("CSRF token not bound to the session")
	}
	if env.sessions.sessionCount() != 1 {
		t.Errorf("expected 1 session, got %d", env.sessions.sessionCount())
	}

	user, _ := env.users.GetByEmail(context.Background(), "alice@example.com")
	if user.LastLoginAt == nil {
		t.Error("last login not updated")
	}

	logins := env.eventStore.byType(events.TypeUserLogin)
	if len(logins) != 1 {
		t.Errorf("expected 1 login event, got %d", len(logins))
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	inactive := env.seedUser(t, "gone@example.com", "gone", "S3cure!pass", repository.RoleUser)
	env.users.SetActive(context.Background(), inactive.ID, false)

	cases := []LoginRequest{
		{Email: "nobody@example.com", Password: "whatever"},
		{Email: "alice@example.com", Password: "wrong-password"},
		{Email: "gone@example.com", Password: "S3cure!pass"},
	}
	for _, req := range cases {
		if _, err := env.service.Login(context.Background(), req, testIP, testUA); err != ErrInvalidCredentials {
			t.Errorf("Login(%s): expected ErrInvalidCredentials, got %v", req.Email, err)
		}
	}

	failed := env.eventStore.byType(events.TypeLoginFailed)
	if len(failed) != len(cases) {
		t.Errorf("expected %d failure events, got %d", len(cases), len(failed))
	}
	// The real reason stays server side only.
	for _, event := range failed {
		if event.Level != events.LevelWarning {
			t.Errorf("failure event level = %s", event.Level)
		}
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	for i := 0; i < 5; i++ {
		_, err := env.service.Login(context.Background(), LoginRequest{
			Email:    "alice@example.com",
			Password: "wrong",
		}, testIP, testUA)
		if err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The sixth attempt is refused before credentials are checked, even
	// with the correct password.
	_, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "S3cure!pass",
	}, testIP, testUA)
	if err != ErrTooManyAttempts {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}

	rateLimited := env.eventStore.byType(events.TypeRateLimited)
	if len(rateLimited) == 0 {
		t.Error("lockout produced no security event")
	}
}

func TestLoginLockoutFollowsAccountAcrossIPs(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	// Five failures from five different addresses.
	for i := 0; i < 5; i++ {
		ip := "198.51.100." + string(rune('1'+i))
		env.service.Login(context.Background(), LoginRequest{
			Email:    "alice@example.com",
			Password: "wrong",
		}, ip, testUA)
	}

	_, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "S3cure!pass",
	}, "203.0.113.9", testUA)
	if err != ErrTooManyAttempts {
		t.Errorf("expected account-level lockout, got %v", err)
	}
}

func TestLoginSuccessForgivesPriorFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	for i := 0; i < 3; i++ {
		env.service.Login(context.Background(), LoginRequest{
			Email:    "alice@example.com",
			Password: "wrong",
		}, testIP, testUA)
	}

	if _, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "S3cure!pass",
	}, testIP, testUA); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	count, _ := env.sessions.CountFailedAttempts(context.Background(), "alice@example.com", time.Now().Add(-time.Hour))
	if count != 0 {
		t.Errorf("failed attempts not cleared after success: %d", count)
	}
}

func TestAdminLoginRequiresSecurityCode(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t, "root@example.com", "S3cure!pass", "shared-admin-code")

	// Correct password, missing code.
	_, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "root@example.com",
		Password: "S3cure!pass",
	}, testIP, testUA)
	if err != ErrInvalidAdminCode {
		t.Errorf("expected ErrInvalidAdminCode without code, got %v", err)
	}

	// Correct password, wrong code.
	_, err = env.service.Login(context.Background(), LoginRequest{
		Email:             "root@example.com",
		Password:          "S3cure!pass",
		AdminSecurityCode: "guess",
	}, testIP, testUA)
	if err != ErrInvalidAdminCode {
		t.Errorf("expected ErrInvalidAdminCode with wrong code, got %v", err)
	}

	adminFailed := env.eventStore.byType(events.TypeAdminCodeFailed)
	if len(adminFailed) != 2 {
		t.Errorf("expected 2 admin-code events, got %d", len(adminFailed))
	}

	// Everything correct.
	resp, err := env.service.Login(context.Background(), LoginRequest{
		Email:             "root@example.com",
		Password:          "S3cure!pass",
		AdminSecurityCode: "shared-admin-code",
	}, testIP, testUA)
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if resp.User.Role != repository.RoleAdmin {
		t.Errorf("expected admin role, got %s", resp.User.Role)
	}
}

func TestNonAdminLoginIgnoresSecurityCode(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	if _, err := env.service.Login(context.Background(), LoginRequest{
		Email:             "alice@example.com",
		Password:          "S3cure!pass",
		AdminSecurityCode: "irrelevant",
	}, testIP, testUA); err != nil {
		t.Errorf("regular login should ignore the code field: %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	resp, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "S3cure!pass",
	}, testIP, testUA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.service.Logout(context.Background(), resp.SessionID, testIP); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if env.sessions.sessionCount() != 0 {
		t.Error("session survived logout")
	}
	if env.csrfTokens.Validate(resp.SessionID, resp.CSRFToken) {
		t.Error("CSRF token survived logout")
	}

	// Second logout of the same session, an unknown session and garbage
	// input all succeed quietly.
	if err := env.service.Logout(context.Background(), resp.SessionID, testIP); err != nil {
		t.Errorf("repeated logout errored: %v", err)
	}
	if err := env.service.Logout(context.Background(), uuid.New().String(), testIP); err != nil {
		t.Errorf("unknown session logout errored: %v", err)
	}
	if err := env.service.Logout(context.Background(), "not-a-uuid", testIP); err != nil {
		t.Errorf("malformed session logout errored: %v", err)
	}

	// Only the real logout is logged.
	logouts := env.eventStore.byType(events.TypeUserLogout)
	if len(logouts) != 1 {
		t.Errorf("expected 1 logout event, got %d", len(logouts))
	}
}

func TestSessionInfoReturnsUserWhileAlive(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	resp, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "S3cure!pass",
	}, testIP, testUA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	user, err := env.service.SessionInfo(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("SessionInfo failed: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("wrong user returned: %s", user.Email)
	}

	if _, err := env.service.SessionInfo(context.Background(), uuid.New().String()); err != ErrSessionNotFound {
		t.Errorf("unknown session: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := env.service.SessionInfo(context.Background(), "garbage"); err != ErrSessionNotFound {
		t.Errorf("malformed session: expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionInfoDestroysIdleSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	resp, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "S3cure!pass",
	}, testIP, testUA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Age the session past the idle timeout.
	id := uuid.MustParse(resp.SessionID)
	env.sessions.mu.Lock()
	env.sessions.sessions[id].LastSeenAt = time.Now().UTC().Add(-31 * time.Minute)
	env.sessions.mu.Unlock()

	if _, err := env.service.SessionInfo(context.Background(), resp.SessionID); err != ErrSessionNotFound {
		t.Fatalf("expected idle session destroyed, got %v", err)
	}
	if env.sessions.sessionCount() != 0 {
		t.Error("idle session still stored")
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "alice", "S3cure!pass", repository.RoleUser)

	login, err := env.service.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "S3cure!pass",
	}, testIP, testUA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	refreshed, err := env.service.Refresh(context.Background(), login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if refreshed.SessionID == login.SessionID {
		t.Error("session not rotated on refresh")
	}
	if refreshed.Tokens.RefreshToken == login.Tokens.RefreshToken {
		t.Error("refresh token not rotated")
	}
	if env.csrfTokens.Validate(login.SessionID, login.CSRFToken) {
		t.Error("old CSRF binding survived rotation")
	}
	if !env.csrfTokens.Validate(refreshed.SessionID, refreshed.CSRFToken) {
		t.Error("new CSRF binding missing")
	}

	// The old refresh token is now unknown.
	if _, err := env.service.Refresh(context.Background(), login.Tokens.RefreshToken); err != ErrInvalidRefreshToken {
		t.Errorf("old refresh token reuse: expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefreshRejectsGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.Refresh(context.Background(), "not-a-jwt"); err != ErrInvalidRefreshToken {
		t.Errorf("expected ErrInvalidRefreshToken, got %v", err)
	}
}
