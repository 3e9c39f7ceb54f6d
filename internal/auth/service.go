package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

// DefaultSessionTTL is how long a login stays valid.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Service handles registration, credentials and sessions.
type Service struct {
	store      *db.Store
	logger     *zap.SugaredLogger
	now        func() time.Time
	sessionTTL time.Duration
	cost       int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSessionTTL sets how long new sessions stay valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) { s.sessionTTL = ttl }
}

// WithBcryptCost sets the hashing cost of new passwords.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService creates the auth service. Sessions last DefaultSessionTTL and
// passwords use bcrypt.DefaultCost unless overridden.
func NewService(store *db.Store, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     logger,
		now:        time.Now,
		sessionTTL: DefaultSessionTTL,
		cost:       bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User      *entities.User `json:"user"`
	SessionID string         `json:"sessionId"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

const userColumns = `id, name, email, phone, avatar, role, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*entities.User, error) {
	var (
		u             entities.User
		phone, avatar sql.NullString
		role          string
		createdAt     string
	)
	dest := append([]any{&u.ID, &u.Name, &u.Email, &phone, &avatar, &role, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	ts, err := db.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	u.Phone = phone.String
	u.Avatar = avatar.String
	u.Role = entities.Role(role)
	u.CreatedAt = ts
	return &u, nil
}

// Register creates a farmer account together with its default settings row.
// The email must not be registered yet; the comparison is exact.
func (s *Service) Register(ctx context.Context, name, email, password, phone string) (*entities.User, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	var existing string
	err = conn.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&existing)
	switch {
	case err == nil:
		s.logger.Debugw("Registration rejected", "email", email, "reason", "duplicate")
		return nil, ErrDuplicateEmail
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &entities.User{
		ID:        "user-" + uuid.NewString(),
		Name:      name,
		Email:     email,
		Phone:     phone,
		Role:      entities.RoleFarmer,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}

	err = s.store.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name, email, password, phone, role, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Name, user.Email, string(hash), user.Phone, string(user.Role), db.FormatTime(user.CreatedAt),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO user_settings (user_id) VALUES (?)`, user.ID)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	s.logger.Infow("User registered", "user_id", user.ID)
	return user, nil
}

// Login verifies the credentials and opens a new session. Unknown email and
// wrong password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	var hash string
	row := conn.QueryRowContext(ctx, `SELECT `+userColumns+`, password FROM users WHERE email = ?`, email)
	user, err := scanUser(row, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debugw("Login rejected", "reason", "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		s.logger.Debugw("Login rejected", "user_id", user.ID, "reason", "password mismatch")
		return nil, ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("User logged in", "user_id", user.ID)
	return &LoginResult{User: user, SessionID: session.ID, ExpiresAt: session.ExpiresAt}, nil
}

// VerifySession returns the session's user. Unknown and expired sessions
// fail with ErrInvalidSession; an expired one is deleted on the way.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*entities.User, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	var expiresAt string
	row := conn.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.email, u.phone, u.avatar, u.role, u.created_at, s.expires_at
		 FROM sessions s
		 JOIN users u ON s.user_id = u.id
		 WHERE s.id = ?`,
		sessionID,
	)
	user, err := scanUser(row, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	expiry, err := db.ParseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !expiry.After(s.now()) {
		if _, err := s.store.Exec(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
			s.logger.Warnw("Failed to purge expired session", "user_id", user.ID, "error", err)
		}
		return nil, ErrInvalidSession
	}
	return user, nil
}

// Logout deletes the session. Unknown ids are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if _, err := s.store.Exec(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetUserByID returns nil when no user has the id.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*entities.User, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	row := conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// UpdateProfile changes only the supplied fields.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update entities.ProfileUpdate) error {
	if update.IsEmpty() {
		return db.ErrNoFieldsProvided
	}

	var (
		fields []string
		args   []any
	)
	if update.Name != nil {
		fields = append(fields, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Email != nil {
		fields = append(fields, "email = ?")
		args = append(args, *update.Email)
	}
	if update.Phone != nil {
		fields = append(fields, "phone = ?")
		args = append(args, *update.Phone)
	}
	if update.Avatar != nil {
		fields = append(fields, "avatar = ?")
		args = append(args, *update.Avatar)
	}
	args = append(args, userID)

	res, err := s.store.Exec(ctx, `UPDATE users SET `+strings.Join(fields, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if err := db.RowsAffected(res); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.logger.Infow("Profile updated", "user_id", userID, "fields", len(fields))
	return nil
}

// SetRoleByEmail grants role to the account registered under email. Sessions
// stay valid; the new role applies from the next request.
func (s *Service) SetRoleByEmail(ctx context.Context, email string, role entities.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", db.ErrInvalidInput, role)
	}

	res, err := s.store.Exec(ctx, `UPDATE users SET role = ? WHERE email = ?`, string(role), email)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if err := db.RowsAffected(res); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.logger.Infow("User role changed", "email", email, "role", role)
	return nil
}

// ChangePassword replaces the password and revokes every session of the
// user, forcing a fresh login everywhere.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	conn, err := s.store.Handle()
	if err != nil {
		return err
	}

	var hash string
	err = conn.QueryRowContext(ctx, `SELECT password FROM users WHERE id = ?`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)) != nil {
		s.logger.Debugw("Password change rejected", "user_id", userID)
		return ErrIncorrectPassword
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.store.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET password = ? WHERE id = ?`, string(newHash), userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	s.logger.Infow("Password changed, sessions revoked", "user_id", userID)
	return nil
}
