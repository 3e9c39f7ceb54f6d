package auth_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/farmsight/farmsight-backend/internal/auth"
	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/dbtest"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*auth.Service, *db.Store, *clock) {
	t.Helper()
	store := dbtest.NewStore(t)
	clk := &clock{now: time.Date(2024, 11, 1, 9, 0, 0, 0, time.UTC)}
	svc := auth.NewService(store, zap.NewNop().Sugar(),
		auth.WithClock(clk.Now),
		auth.WithBcryptCost(bcrypt.MinCost),
	)
	return svc, store, clk
}

func countRows(t *testing.T, store *db.Store, query string, args ...any) int {
	t.Helper()
	conn, err := store.Handle()
	require.NoError(t, err)
	var n int
	require.NoError(t, conn.QueryRow(query, args...).Scan(&n))
	return n
}

func strPtr(s string) *string { return &s }

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	user, err := svc.Register(ctx, "Li Ming", "liming@farmsight.cn", "demo123", "+86 138")
	require.NoError(t, err)
	assert.Contains(t, user.ID, "user-")
	assert.Equal(t, "Li Ming", user.Name)
	assert.Equal(t, "+86 138", user.Phone)
	assert.Equal(t, entities.RoleFarmer, user.Role)

	// password is stored hashed
	conn, err := store.Handle()
	require.NoError(t, err)
	var hash string
	require.NoError(t, conn.QueryRow(`SELECT password FROM users WHERE id = ?`, user.ID).Scan(&hash))
	assert.NotEqual(t, "demo123", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("demo123")))

	// default settings row is created with the user
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM user_settings WHERE user_id = ?`, user.ID))

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, "Other", "liming@farmsight.cn", "x", "")
		assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
		assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM users`))
	})

	t.Run("email match is case sensitive", func(t *testing.T) {
		_, err := svc.Register(ctx, "Other", "LiMing@farmsight.cn", "x", "")
		assert.NoError(t, err)
	})

	t.Run("phone defaults to empty", func(t *testing.T) {
		u, err := svc.Register(ctx, "No Phone", "nophone@example.com", "x", "")
		require.NoError(t, err)
		loaded, err := svc.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "", loaded.Phone)
	})
}

func TestLoginAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newService(t)

	user, err := svc.Register(ctx, "Li Ming", "liming@farmsight.cn", "demo123", "")
	require.NoError(t, err)

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		_, err := svc.Login(ctx, "liming@farmsight.cn", "nope")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		_, err = svc.Login(ctx, "ghost@farmsight.cn", "demo123")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	res, err := svc.Login(ctx, "liming@farmsight.cn", "demo123")
	require.NoError(t, err)
	assert.Len(t, res.SessionID, 64)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, clk.Now().Add(auth.DefaultSessionTTL), res.ExpiresAt)

	verified, err := svc.VerifySession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)
	assert.Equal(t, user.CreatedAt, verified.CreatedAt)

	clk.Advance(auth.DefaultSessionTTL - time.Second)
	_, err = svc.VerifySession(ctx, res.SessionID)
	require.NoError(t, err, "still valid just before expiry")

	_, err = svc.VerifySession(ctx, "")
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
	_, err = svc.VerifySession(ctx, "unknown")
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
}

func TestVerifySessionExpiry(t *testing.T) {
	ctx := context.Background()
	svc, store, clk := newService(t)

	_, err := svc.Register(ctx, "A", "a@example.com", "pw", "")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	// expiry is strict: at the expiry instant the session is already invalid
	clk.Advance(auth.DefaultSessionTTL)
	_, err = svc.VerifySession(ctx, res.SessionID)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
	assert.Equal(t, 0, countRows(t, store, `SELECT COUNT(*) FROM sessions WHERE id = ?`, res.SessionID))
}

func TestSessionTTLOption(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewStore(t)
	clk := &clock{now: time.Now()}
	svc := auth.NewService(store, zap.NewNop().Sugar(),
		auth.WithClock(clk.Now),
		auth.WithBcryptCost(bcrypt.MinCost),
		auth.WithSessionTTL(time.Hour),
	)

	_, err := svc.Register(ctx, "A", "a@example.com", "pw", "")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	clk.Advance(61 * time.Minute)
	_, err = svc.VerifySession(ctx, res.SessionID)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.Register(ctx, "A", "a@example.com", "pw", "")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, res.SessionID))
	_, err = svc.VerifySession(ctx, res.SessionID)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	// idempotent
	assert.NoError(t, svc.Logout(ctx, res.SessionID))
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	user, err := svc.Register(ctx, "A", "a@example.com", "pw", "123")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "B", "b@example.com", "pw", "")
	require.NoError(t, err)

	err = svc.UpdateProfile(ctx, user.ID, entities.ProfileUpdate{})
	assert.ErrorIs(t, err, db.ErrNoFieldsProvided)

	err = svc.UpdateProfile(ctx, user.ID, entities.ProfileUpdate{
		Name:   strPtr("Alice"),
		Avatar: strPtr("https://example.com/a.png"),
	})
	require.NoError(t, err)

	loaded, err := svc.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", loaded.Name)
	assert.Equal(t, "https://example.com/a.png", loaded.Avatar)
	assert.Equal(t, "a@example.com", loaded.Email, "unsupplied fields are untouched")
	assert.Equal(t, "123", loaded.Phone)

	err = svc.UpdateProfile(ctx, user.ID, entities.ProfileUpdate{Email: strPtr("b@example.com")})
	assert.ErrorIs(t, err, auth.ErrDuplicateEmail)

	err = svc.UpdateProfile(ctx, "user-missing", entities.ProfileUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	missing, err := svc.GetUserByID(ctx, "user-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)

	user, err := svc.Register(ctx, "A", "a@example.com", "old", "")
	require.NoError(t, err)
	first, err := svc.Login(ctx, "a@example.com", "old")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "a@example.com", "old")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, "user-missing", "old", "new"), auth.ErrUserNotFound)
	assert.ErrorIs(t, svc.ChangePassword(ctx, user.ID, "wrong", "new"), auth.ErrIncorrectPassword)

	// a rejected change leaves sessions alone
	_, err = svc.VerifySession(ctx, first.SessionID)
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "old", "new"))

	for _, id := range []string{first.SessionID, second.SessionID} {
		_, err := svc.VerifySession(ctx, id)
		assert.ErrorIs(t, err, auth.ErrInvalidSession)
	}
	assert.Equal(t, 0, countRows(t, store, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, user.ID))

	_, err = svc.Login(ctx, "a@example.com", "old")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "a@example.com", "new")
	assert.NoError(t, err)
}

func TestSetRoleByEmail(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.Register(ctx, "Admin", "admin@example.com", "pw", "")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "admin@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, svc.SetRoleByEmail(ctx, "admin@example.com", entities.RoleAdmin))

	// open sessions pick up the new role
	user, err := svc.VerifySession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, entities.RoleAdmin, user.Role)

	// granting the same role again is fine
	assert.NoError(t, svc.SetRoleByEmail(ctx, "admin@example.com", entities.RoleAdmin))

	err = svc.SetRoleByEmail(ctx, "nobody@example.com", entities.RoleAdmin)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	err = svc.SetRoleByEmail(ctx, "admin@example.com", entities.Role("root"))
	assert.ErrorIs(t, err, db.ErrInvalidInput)
}

func TestCleanupExpiredSessions(t *testing.T) {
	ctx := context.Background()
	svc, store, clk := newService(t)

	_, err := svc.Register(ctx, "A", "a@example.com", "pw", "")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	clk.Advance(auth.DefaultSessionTTL / 2)
	fresh, err := svc.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	clk.Advance(auth.DefaultSessionTTL/2 + time.Minute)
	n, err := svc.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.VerifySession(ctx, fresh.SessionID)
	assert.NoError(t, err)
	assert.Equal(t, 1, countRows(t, store, `SELECT COUNT(*) FROM sessions`))
}

func TestMutationsPersist(t *testing.T) {
	ctx := context.Background()
	store, backing := dbtest.NewStoreWithKV(t)
	svc := auth.NewService(store, zap.NewNop().Sugar(), auth.WithBcryptCost(bcrypt.MinCost))

	_, err := svc.Register(ctx, "A", "a@example.com", "pw", "")
	require.NoError(t, err)

	reloaded := db.New(backing, zap.NewNop().Sugar())
	t.Cleanup(func() { reloaded.Close() })
	_, err = reloaded.Initialize(ctx)
	require.NoError(t, err)

	other := auth.NewService(reloaded, zap.NewNop().Sugar())
	_, err = other.Login(ctx, "a@example.com", "pw")
	assert.NoError(t, err)
}

func TestSessionIDFromRequest(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		headers   map[string]string
		want      string
		handshake string
	}{
		{"none", "/", nil, "", ""},
		{"bearer", "/", map[string]string{"Authorization": "Bearer abc "}, "abc", "abc"},
		{"session header", "/", map[string]string{auth.SessionHeader: " abc"}, "abc", "abc"},
		{"bearer wins", "/", map[string]string{"Authorization": "Bearer one", auth.SessionHeader: "two"}, "one", "one"},
		{"empty bearer falls back", "/", map[string]string{"Authorization": "Bearer  ", auth.SessionHeader: "two"}, "two", "two"},
		{"other scheme ignored", "/", map[string]string{"Authorization": "Basic Zm9v"}, "", ""},
		{"query only on handshake", "/v1/ws?session=q1", nil, "", "q1"},
		{"query wins on handshake", "/v1/ws?session=q1", map[string]string{"Authorization": "Bearer one"}, "one", "q1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, auth.SessionIDFromRequest(r))
			assert.Equal(t, tt.handshake, auth.SessionIDFromHandshake(r))
		})
	}
}
