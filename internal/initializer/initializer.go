package initializer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/auth"
	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
	"github.com/farmsight/farmsight-backend/internal/farms"
	"github.com/farmsight/farmsight-backend/internal/videos"
)

const (
	historyDays  = 30
	forecastDays = 7
)

// Result describes what a seeding run created.
type Result struct {
	UserID     string            `json:"userId"`
	Email      string            `json:"email"`
	FarmIDs    map[string]string `json:"farmIds"`
	NDVIPoints int               `json:"ndviPoints"`
	Alerts     int               `json:"alerts"`
	Videos     int               `json:"videos"`
	SeededAt   time.Time         `json:"seededAt"`
}

// Initializer seeds an empty database with the demo account and its data.
type Initializer struct {
	store  *db.Store
	auth   *auth.Service
	farms  *farms.Service
	videos *videos.Service
	logger *zap.SugaredLogger
	now    func() time.Time
}

type Option func(*Initializer)

func WithClock(now func() time.Time) Option {
	return func(i *Initializer) { i.now = now }
}

func New(store *db.Store, authSvc *auth.Service, farmSvc *farms.Service, videoSvc *videos.Service, logger *zap.SugaredLogger, opts ...Option) *Initializer {
	i := &Initializer{
		store:  store,
		auth:   authSvc,
		farms:  farmSvc,
		videos: videoSvc,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IsDatabaseInitialized reports whether at least one user exists. Any
// failure to tell reads as not initialized.
func (i *Initializer) IsDatabaseInitialized(ctx context.Context) bool {
	conn, err := i.store.Handle()
	if err != nil {
		return false
	}
	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		i.logger.Warnw("Failed to count users", "error", err)
		return false
	}
	return count > 0
}

// MigrateMockData registers the demo user and replays the fixture farms,
// NDVI series, alerts and videos against it. It stops at the first failure
// without undoing earlier steps; callers guard it with
// IsDatabaseInitialized.
func (i *Initializer) MigrateMockData(ctx context.Context, password string) (Result, error) {
	now := i.now()
	result := Result{
		Email:    db.DemoEmail,
		FarmIDs:  make(map[string]string, len(db.FarmFixtures)),
		SeededAt: now.UTC(),
	}

	user, err := i.auth.Register(ctx, db.DemoName, db.DemoEmail, password, db.DemoPhone)
	if err != nil {
		return result, fmt.Errorf("failed to register demo user: %w", err)
	}
	result.UserID = user.ID

	avatar := db.DemoAvatar
	if err := i.auth.UpdateProfile(ctx, user.ID, entities.ProfileUpdate{Avatar: &avatar}); err != nil {
		return result, fmt.Errorf("failed to set demo avatar: %w", err)
	}

	for _, fixture := range db.FarmFixtures {
		farm, err := i.farms.CreateFarm(ctx, user.ID, fixture.Input)
		if err != nil {
			return result, fmt.Errorf("failed to create farm %s: %w", fixture.FixtureID, err)
		}
		result.FarmIDs[fixture.FixtureID] = farm.ID
	}

	rng := db.NewFixtureRand()
	for _, fixture := range db.FarmFixtures {
		farmID := result.FarmIDs[fixture.FixtureID]

		history := db.GenerateNDVIHistory(rng, now, historyDays, fixture.BaseNDVI, fixture.Trend)
		forecast := db.GenerateForecast(rng, now, history[len(history)-1].Value, forecastDays)
		series := append(history, forecast...)

		if err := i.farms.AddNDVIObservations(ctx, farmID, series); err != nil {
			return result, fmt.Errorf("failed to seed ndvi for %s: %w", fixture.FixtureID, err)
		}
		result.NDVIPoints += len(series)
	}

	for _, fixture := range db.AlertFixtures {
		farmID, ok := result.FarmIDs[fixture.FarmFixtureID]
		if !ok {
			continue
		}
		alert, err := i.farms.CreateAlert(ctx, farmID, entities.AlertInput{
			Type:           fixture.Type,
			Severity:       fixture.Severity,
			Confidence:     fixture.Confidence,
			Message:        fixture.Message,
			Recommendation: fixture.Recommendation,
			DetectedAt:     now.Add(-fixture.Age),
		})
		if err != nil {
			return result, fmt.Errorf("failed to seed alert: %w", err)
		}
		if fixture.IsRead {
			if err := i.farms.MarkAlertAsRead(ctx, alert.ID); err != nil {
				return result, fmt.Errorf("failed to mark seeded alert read: %w", err)
			}
		}
		result.Alerts++
	}

	if err := i.videos.AddVideos(ctx, db.VideoFixtures); err != nil {
		return result, fmt.Errorf("failed to seed videos: %w", err)
	}
	result.Videos = len(db.VideoFixtures)

	if err := i.store.Persist(ctx); err != nil {
		return result, err
	}

	i.logger.Infow("Mock data migrated",
		"user_id", result.UserID,
		"farms", len(result.FarmIDs),
		"ndvi_points", result.NDVIPoints,
		"alerts", result.Alerts,
		"videos", result.Videos,
	)
	return result, nil
}

// BootstrapOptions controls startup seeding.
type BootstrapOptions struct {
	Seed         bool
	DemoPassword string
	// AdminEmail, when set, is granted the admin role after seeding.
	AdminEmail string
}

// Bootstrap opens the store, seeds it when empty and seeding is enabled, and
// purges expired sessions. An initialize error is returned untouched so the
// caller can keep serving in a degraded, unauthenticated mode. The result
// is nil when nothing was seeded.
func (i *Initializer) Bootstrap(ctx context.Context, opts BootstrapOptions) (*Result, error) {
	if _, err := i.store.Initialize(ctx); err != nil {
		return nil, err
	}

	var seeded *Result
	if opts.Seed && !i.IsDatabaseInitialized(ctx) {
		result, err := i.MigrateMockData(ctx, opts.DemoPassword)
		if err != nil {
			i.logger.Errorw("Seeding failed", "error", err)
			return nil, err
		}
		seeded = &result
	}

	if opts.AdminEmail != "" {
		if err := i.auth.SetRoleByEmail(ctx, opts.AdminEmail, entities.RoleAdmin); err != nil {
			i.logger.Warnw("Failed to grant admin role", "email", opts.AdminEmail, "error", err)
		}
	}

	if _, err := i.auth.CleanupExpiredSessions(ctx); err != nil {
		i.logger.Warnw("Failed to purge expired sessions", "error", err)
	}
	return seeded, nil
}
