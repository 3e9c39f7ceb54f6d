package db_test

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/dbtest"
	"github.com/farmsight/farmsight-backend/pkg/kv"
	"github.com/farmsight/farmsight-backend/pkg/kv/memory"
)

type recorder struct {
	mu    sync.Mutex
	calls int
	sizes []int
	errs  []error
}

func (r *recorder) RecordPersist(_ context.Context, size int, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.sizes = append(r.sizes, size)
	r.errs = append(r.errs, err)
}

func newStore(t *testing.T, backing kv.Store, opts ...db.Option) *db.Store {
	t.Helper()
	s := db.New(backing, zap.NewNop().Sugar(), opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, conn *sql.DB, id, email string) {
	t.Helper()
	_, err := conn.Exec(
		`INSERT INTO users (id, name, email, password, role, created_at) VALUES (?, ?, ?, ?, 'farmer', ?)`,
		id, "Test "+id, email, "hash", db.FormatTime(time.Now()),
	)
	require.NoError(t, err)
}

func seedFarm(t *testing.T, conn *sql.DB, id, userID string) {
	t.Helper()
	now := db.FormatTime(time.Now())
	_, err := conn.Exec(
		`INSERT INTO farms (id, user_id, name, location_lat, location_lng, location_address, area, crop_type, boundary, created_at, last_updated)
		 VALUES (?, ?, 'Farm', 1, 2, 'addr', 10, 'Rice', '[]', ?, ?)`,
		id, userID, now, now,
	)
	require.NoError(t, err)
}

func count(t *testing.T, conn *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestStore_NotInitialized(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.NewStore())

	_, err := s.Handle()
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrNotInitialized)
	var storeErr *db.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "handle", storeErr.Op)

	// persist before initialize is a no-op
	assert.NoError(t, s.Persist(ctx))

	assert.ErrorIs(t, s.Reset(ctx), db.ErrNotInitialized)
	_, err = s.ExportBytes(ctx)
	assert.ErrorIs(t, err, db.ErrNotInitialized)
	assert.False(t, s.IsOpen())
}

func TestStore_InitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.NewStore())

	first, err := s.Initialize(ctx)
	require.NoError(t, err)
	second, err := s.Initialize(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	handle, err := s.Handle()
	require.NoError(t, err)
	assert.Same(t, first, handle)

	for _, table := range []string{"users", "farms", "alerts", "ndvi_data", "videos", "user_settings", "sessions"} {
		assert.Equal(t, 0, count(t, first, table), table)
	}
}

func TestStore_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	rec := &recorder{}

	s := newStore(t, backing, db.WithMetrics(rec))
	conn, err := s.Initialize(ctx)
	require.NoError(t, err)
	seedUser(t, conn, "user-1", "a@example.com")
	require.NoError(t, s.Persist(ctx))

	assert.Equal(t, 1, rec.calls)
	assert.Greater(t, rec.sizes[0], 0)
	assert.NoError(t, rec.errs[0])

	raw, err := backing.Get(ctx, db.DefaultKey)
	require.NoError(t, err)
	image, err := base64.StdEncoding.DecodeString(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(image[:16]))

	require.NoError(t, s.Close())

	reloaded := newStore(t, backing)
	conn, err = reloaded.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, conn, "users"))
}

func TestStore_CustomKey(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()

	s := newStore(t, backing, db.WithKey("other"))
	_, err := s.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx))

	n, err := backing.Exists(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = backing.Exists(ctx, db.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStore_InitializeRejectsCorruptImage(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	require.NoError(t, backing.Set(ctx, db.DefaultKey, []byte("%%% not base64")))

	s := newStore(t, backing)
	_, err := s.Initialize(ctx)
	require.Error(t, err)
	var storeErr *db.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "initialize", storeErr.Op)
	assert.False(t, s.IsOpen())

	require.NoError(t, backing.Set(ctx, db.DefaultKey, []byte(base64.StdEncoding.EncodeToString([]byte("hello")))))
	_, err = s.Initialize(ctx)
	assert.ErrorIs(t, err, db.ErrInvalidImage)
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := dbtest.NewStore(t)
	conn, err := src.Handle()
	require.NoError(t, err)

	seedUser(t, conn, "user-1", "a@example.com")
	seedUser(t, conn, "user-2", "b@example.com")
	seedFarm(t, conn, "farm-1", "user-1")
	_, err = conn.Exec(`INSERT INTO ndvi_data (farm_id, date, value, confidence, is_forecast) VALUES ('farm-1', '2024-01-01T00:00:00.000Z', 0.5, 90, 0)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO user_settings (user_id) VALUES ('user-2')`)
	require.NoError(t, err)

	image, err := src.ExportBytes(ctx)
	require.NoError(t, err)

	backing := memory.NewStore()
	dst := newStore(t, backing)
	require.NoError(t, dst.ImportBytes(ctx, image))

	dstConn, err := dst.Handle()
	require.NoError(t, err)
	for _, table := range []string{"users", "farms", "alerts", "ndvi_data", "videos", "user_settings", "sessions"} {
		assert.Equal(t, dump(t, conn, table), dump(t, dstConn, table), table)
	}

	// import persists immediately
	n, err := backing.Exists(ctx, db.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func dump(t *testing.T, conn *sql.DB, table string) []string {
	t.Helper()
	rows, err := conn.Query("SELECT * FROM " + table)
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)

	var out []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		var line string
		for _, v := range values {
			line += "|" + toString(v)
		}
		out = append(out, line)
	}
	require.NoError(t, rows.Err())
	sort.Strings(out)
	return out
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func TestStore_ImportRejectsInvalidImage(t *testing.T) {
	s := dbtest.NewStore(t)

	err := s.ImportBytes(context.Background(), []byte("definitely not sqlite"))
	assert.ErrorIs(t, err, db.ErrInvalidImage)

	// the open database is untouched
	_, err = s.Handle()
	assert.NoError(t, err)
}

func TestStore_ImportCorruptBodyKeepsDatabase(t *testing.T) {
	ctx := context.Background()
	s, backing := dbtest.NewStoreWithKV(t)
	conn, err := s.Handle()
	require.NoError(t, err)
	seedUser(t, conn, "user-1", "a@example.com")
	require.NoError(t, s.Persist(ctx))
	before, err := backing.Get(ctx, db.DefaultKey)
	require.NoError(t, err)

	image := append([]byte("SQLite format 3\x00"), make([]byte, 4096)...)
	for i := 16; i < len(image); i++ {
		image[i] = 0xAB
	}

	err = s.ImportBytes(ctx, image)
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrInvalidImage)

	assert.True(t, s.IsOpen())
	conn, err = s.Handle()
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, conn, "users"))

	after, err := backing.Get(ctx, db.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// the store keeps working
	seedUser(t, conn, "user-2", "b@example.com")
	require.NoError(t, s.Persist(ctx))
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s, backing := dbtest.NewStoreWithKV(t)
	conn, err := s.Handle()
	require.NoError(t, err)

	seedUser(t, conn, "user-1", "a@example.com")
	seedFarm(t, conn, "farm-1", "user-1")
	_, err = conn.Exec(`INSERT INTO videos (id, title, description, thumbnail, duration, category, upload_date, url) VALUES ('v', 't', 'd', 'th', '1:00', 'c', '2024-01-01T00:00:00.000Z', '#')`)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	for _, table := range []string{"users", "farms", "videos"} {
		assert.Equal(t, 0, count(t, conn, table), table)
	}

	// schema and migration history survive
	var version int
	require.NoError(t, conn.QueryRow(`SELECT MAX(version_id) FROM goose_db_version`).Scan(&version))
	assert.Equal(t, 2, version)

	reloaded := newStore(t, backing)
	reconn, err := reloaded.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count(t, reconn, "users"))
}

func TestStore_ForeignKeysCascade(t *testing.T) {
	s := dbtest.NewStore(t)
	conn, err := s.Handle()
	require.NoError(t, err)

	seedUser(t, conn, "user-1", "a@example.com")
	seedFarm(t, conn, "farm-1", "user-1")
	_, err = conn.Exec(`INSERT INTO alerts (id, farm_id, type, severity, confidence, detected_at, message, recommendation) VALUES ('alert-1', 'farm-1', 'pest', 'low', 50, '2024-01-01T00:00:00.000Z', 'm', 'r')`)
	require.NoError(t, err)

	_, err = conn.Exec(`DELETE FROM users WHERE id = 'user-1'`)
	require.NoError(t, err)
	assert.Equal(t, 0, count(t, conn, "farms"))
	assert.Equal(t, 0, count(t, conn, "alerts"))

	_, err = conn.Exec(`INSERT INTO farms (id, user_id, name, location_lat, location_lng, location_address, area, crop_type, boundary, created_at, last_updated)
		VALUES ('farm-2', 'nobody', 'F', 0, 0, '', 1, 'x', '[]', 'a', 'b')`)
	require.Error(t, err)
	assert.True(t, db.IsForeignKeyViolation(err))
}

func TestStore_UniqueEmail(t *testing.T) {
	s := dbtest.NewStore(t)
	conn, err := s.Handle()
	require.NoError(t, err)

	seedUser(t, conn, "user-1", "a@example.com")
	_, err = conn.Exec(
		`INSERT INTO users (id, name, email, password, role, created_at) VALUES ('user-2', 'n', 'a@example.com', 'h', 'farmer', 'x')`,
	)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err))
	assert.False(t, db.IsUniqueViolation(errors.New("plain")))
}

func TestStore_CloseRemovesHandle(t *testing.T) {
	s := newStore(t, memory.NewStore())
	_, err := s.Initialize(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = s.Handle()
	assert.ErrorIs(t, err, db.ErrNotInitialized)
	assert.NoError(t, s.Close())
}

func TestTimeCodec(t *testing.T) {
	ts := time.Date(2024, 10, 15, 8, 30, 0, 123_000_000, time.FixedZone("CST", 8*3600))
	encoded := db.FormatTime(ts)
	assert.Equal(t, "2024-10-15T00:30:00.123Z", encoded)

	decoded, err := db.ParseTime(encoded)
	require.NoError(t, err)
	assert.True(t, ts.Equal(decoded))

	decoded, err = db.ParseTime("2024-10-15T08:30:00+08:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-10-15T00:30:00.000Z", db.FormatTime(decoded))

	_, err = db.ParseTime("yesterday")
	assert.Error(t, err)
}
