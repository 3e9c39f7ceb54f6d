package initializer_test

import (
	"context"
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
	"github.com/farmsight/farmsight-backend/internal/farms"
	"github.com/farmsight/farmsight-backend/internal/initializer"
	"github.com/farmsight/farmsight-backend/internal/videos"
	"github.com/farmsight/farmsight-backend/pkg/kv/memory"
)

var fixedNow = time.Date(2024, 11, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	store *db.Store
	auth  *auth.Service
	farms *farms.Service
	init  *initializer.Initializer
}

func newHarness(t *testing.T, store *db.Store) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	clock := func() time.Time { return fixedNow }

	h := &harness{store: store}
	h.auth = auth.NewService(store, logger, auth.WithClock(clock), auth.WithBcryptCost(bcrypt.MinCost))
	h.farms = farms.NewService(store, logger, farms.WithClock(clock))
	h.init = initializer.New(store, h.auth, h.farms, videos.NewService(store, logger), logger, initializer.WithClock(clock))
	return h
}

func TestMigrateMockData(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, dbtest.NewStore(t))

	assert.False(t, h.init.IsDatabaseInitialized(ctx))

	result, err := h.init.MigrateMockData(ctx, "demo123")
	require.NoError(t, err)
	assert.True(t, h.init.IsDatabaseInitialized(ctx))

	assert.Equal(t, db.DemoEmail, result.Email)
	assert.Len(t, result.FarmIDs, 3)
	assert.Equal(t, 3*(31+7), result.NDVIPoints)
	assert.Equal(t, 4, result.Alerts)
	assert.Equal(t, 6, result.Videos)

	login, err := h.auth.Login(ctx, db.DemoEmail, "demo123")
	require.NoError(t, err)
	assert.Equal(t, result.UserID, login.User.ID)
	assert.Equal(t, db.DemoAvatar, login.User.Avatar)
	assert.Equal(t, db.DemoPhone, login.User.Phone)

	farmList, err := h.farms.GetFarms(ctx, result.UserID)
	require.NoError(t, err)
	require.Len(t, farmList, 3)

	alerts, err := h.farms.GetAlerts(ctx, result.UserID)
	require.NoError(t, err)
	require.Len(t, alerts, 4)
	// newest first: 2h, 6h, 12h, 24h
	assert.Equal(t, entities.StressDrought, alerts[0].Type)
	assert.False(t, alerts[0].IsRead)
	assert.Equal(t, entities.StressPest, alerts[1].Type)
	assert.True(t, alerts[1].IsRead)
	assert.Equal(t, entities.StressHealthy, alerts[2].Type)
	assert.True(t, alerts[2].IsRead)
	assert.Equal(t, entities.StressNutrient, alerts[3].Type)
	assert.Equal(t, fixedNow.Add(-24*time.Hour), alerts[3].DetectedAt)

	rice := result.FarmIDs["farm-1"]
	health, err := h.farms.GetFarmHealth(ctx, rice)
	require.NoError(t, err)
	require.NotNil(t, health)
	assert.Len(t, health.NDVIHistory, 31)
	assert.Len(t, health.Forecast, 7)
	assert.Len(t, health.Alerts, 2)
	// about 0.65 - 30*0.008 after a month of decline
	assert.Equal(t, entities.StressNutrient, health.StressLevel)

	cotton, err := h.farms.GetFarmHealth(ctx, result.FarmIDs["farm-3"])
	require.NoError(t, err)
	assert.Equal(t, entities.StressHealthy, cotton.StressLevel)
}

func TestMigrateMockDataTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, dbtest.NewStore(t))

	_, err := h.init.MigrateMockData(ctx, "demo123")
	require.NoError(t, err)

	_, err = h.init.MigrateMockData(ctx, "demo123")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrDuplicateEmail)

	conn, err := h.store.Handle()
	require.NoError(t, err)
	for table, want := range map[string]int{"users": 1, "farms": 3, "alerts": 4, "videos": 6, "ndvi_data": 114} {
		var n int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Equal(t, want, n, table)
	}
}

func TestMigrateMockDataDeterministic(t *testing.T) {
	ctx := context.Background()

	values := func() []float64 {
		h := newHarness(t, dbtest.NewStore(t))
		result, err := h.init.MigrateMockData(ctx, "demo123")
		require.NoError(t, err)

		var out []float64
		for _, fixture := range db.FarmFixtures {
			series, err := h.farms.GetNDVIData(ctx, result.FarmIDs[fixture.FixtureID], false)
			require.NoError(t, err)
			for _, obs := range series {
				out = append(out, obs.Value, obs.Confidence)
			}
		}
		return out
	}

	assert.Equal(t, values(), values())
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	t.Cleanup(func() { backing.Close() })

	store := db.New(backing, zap.NewNop().Sugar())
	t.Cleanup(func() { store.Close() })
	h := newHarness(t, store)

	seeded, err := h.init.Bootstrap(ctx, initializer.BootstrapOptions{Seed: true, DemoPassword: "secret"})
	require.NoError(t, err)
	require.NotNil(t, seeded)

	// a later start finds the persisted data and does not seed again
	require.NoError(t, store.Close())
	reopened := db.New(backing, zap.NewNop().Sugar())
	t.Cleanup(func() { reopened.Close() })
	h2 := newHarness(t, reopened)

	seeded, err = h2.init.Bootstrap(ctx, initializer.BootstrapOptions{Seed: true, DemoPassword: "secret"})
	require.NoError(t, err)
	assert.Nil(t, seeded)

	_, err = h2.auth.Login(ctx, db.DemoEmail, "secret")
	assert.NoError(t, err)
}

func TestBootstrapWithoutSeeding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, dbtest.NewStore(t))

	seeded, err := h.init.Bootstrap(ctx, initializer.BootstrapOptions{Seed: false})
	require.NoError(t, err)
	assert.Nil(t, seeded)
	assert.False(t, h.init.IsDatabaseInitialized(ctx))
}

func TestBootstrapPurgesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, dbtest.NewStore(t))

	_, err := h.init.Bootstrap(ctx, initializer.BootstrapOptions{Seed: true, DemoPassword: "demo123"})
	require.NoError(t, err)

	conn, err := h.store.Handle()
	require.NoError(t, err)
	var userID string
	require.NoError(t, conn.QueryRow(`SELECT id FROM users`).Scan(&userID))
	_, err = conn.Exec(`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ('old', ?, '2020-01-01T00:00:00.000Z', '2020-01-31T00:00:00.000Z')`, userID)
	require.NoError(t, err)

	_, err = h.init.Bootstrap(ctx, initializer.BootstrapOptions{Seed: true, DemoPassword: "demo123"})
	require.NoError(t, err)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestBootstrapGrantsAdmin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, dbtest.NewStore(t))

	_, err := h.init.Bootstrap(ctx, initializer.BootstrapOptions{
		Seed:         true,
		DemoPassword: "demo123",
		AdminEmail:   db.DemoEmail,
	})
	require.NoError(t, err)

	login, err := h.auth.Login(ctx, db.DemoEmail, "demo123")
	require.NoError(t, err)
	assert.Equal(t, entities.RoleAdmin, login.User.Role)

	// an unknown admin email does not block startup
	_, err = h.init.Bootstrap(ctx, initializer.BootstrapOptions{AdminEmail: "nobody@example.com"})
	assert.NoError(t, err)
}

func TestIsDatabaseInitializedBeforeOpen(t *testing.T) {
	store := db.New(memory.NewStore(), zap.NewNop().Sugar())
	h := newHarness(t, store)
	assert.False(t, h.init.IsDatabaseInitialized(context.Background()))
}
