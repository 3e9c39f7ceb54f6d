package farms

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

// AlertNotifier is told about every alert once it is stored.
type AlertNotifier interface {
	AlertCreated(ctx context.Context, farm *entities.Farm, alert *entities.StressAlert)
}

// Service manages farms and everything hanging off them: NDVI series,
// alerts and the derived health view.
type Service struct {
	store    *db.Store
	logger   *zap.SugaredLogger
	now      func() time.Time
	notifier AlertNotifier
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for creation and update timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier registers the receiver of new alerts.
func WithNotifier(n AlertNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates the farm service; alerts notify no one until
// WithNotifier is given.
func NewService(store *db.Store, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const farmColumns = `id, user_id, name, location_lat, location_lng, location_address, area, crop_type, boundary, created_at, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeBoundary(points []entities.LatLng) (string, error) {
	if points == nil {
		points = []entities.LatLng{}
	}
	raw, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("failed to encode boundary: %w", err)
	}
	return string(raw), nil
}

func decodeBoundary(raw string) ([]entities.LatLng, error) {
	points := []entities.LatLng{}
	if strings.TrimSpace(raw) == "" {
		return points, nil
	}
	if err := json.Unmarshal([]byte(raw), &points); err != nil {
		return nil, fmt.Errorf("failed to decode boundary: %w", err)
	}
	return points, nil
}

func scanFarm(row rowScanner) (*entities.Farm, error) {
	var (
		f                      entities.Farm
		boundary               string
		createdAt, lastUpdated string
	)
	if err := row.Scan(
		&f.ID, &f.UserID, &f.Name,
		&f.Location.Lat, &f.Location.Lng, &f.Location.Address,
		&f.Area, &f.CropType, &boundary, &createdAt, &lastUpdated,
	); err != nil {
		return nil, err
	}

	var err error
	if f.Boundary, err = decodeBoundary(boundary); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if f.LastUpdated, err = db.ParseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// CreateFarm stores a new farm for userID. Boundaries of any length,
// including none, are accepted.
func (s *Service) CreateFarm(ctx context.Context, userID string, input entities.FarmInput) (*entities.Farm, error) {
	boundary, err := encodeBoundary(input.Boundary)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	farm := &entities.Farm{
		ID:          "farm-" + uuid.NewString(),
		UserID:      userID,
		Name:        input.Name,
		Location:    input.Location,
		Area:        input.Area,
		CropType:    input.CropType,
		Boundary:    input.Boundary,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if farm.Boundary == nil {
		farm.Boundary = []entities.LatLng{}
	}

	if _, err := s.store.Exec(ctx,
		`INSERT INTO farms (`+farmColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		farm.ID, farm.UserID, farm.Name,
		farm.Location.Lat, farm.Location.Lng, farm.Location.Address,
		farm.Area, farm.CropType, boundary, db.FormatTime(now), db.FormatTime(now),
	); err != nil {
		return nil, fmt.Errorf("failed to create farm: %w", err)
	}

	s.logger.Infow("Farm created", "farm_id", farm.ID, "user_id", userID)
	return farm, nil
}

// GetFarms lists the user's farms, newest first.
func (s *Service) GetFarms(ctx context.Context, userID string) ([]entities.Farm, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+farmColumns+` FROM farms WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list farms: %w", err)
	}
	defer rows.Close()

	farms := []entities.Farm{}
	for rows.Next() {
		farm, err := scanFarm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan farm: %w", err)
		}
		farms = append(farms, *farm)
	}
	return farms, rows.Err()
}

// GetFarmByID returns nil when the farm does not exist.
func (s *Service) GetFarmByID(ctx context.Context, farmID string) (*entities.Farm, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	farm, err := scanFarm(conn.QueryRowContext(ctx, `SELECT `+farmColumns+` FROM farms WHERE id = ?`, farmID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load farm: %w", err)
	}
	return farm, nil
}

// UpdateFarm applies the supplied fields and refreshes LastUpdated.
func (s *Service) UpdateFarm(ctx context.Context, farmID string, update entities.FarmUpdate) error {
	if update.IsEmpty() {
		return db.ErrNoFieldsProvided
	}

	var (
		fields []string
		args   []any
	)
	set := func(column string, value any) {
		fields = append(fields, column+" = ?")
		args = append(args, value)
	}

	if update.Name != nil {
		set("name", *update.Name)
	}
	if loc := update.Location; loc != nil {
		if loc.Lat != nil {
			set("location_lat", *loc.Lat)
		}
		if loc.Lng != nil {
			set("location_lng", *loc.Lng)
		}
		if loc.Address != nil {
			set("location_address", *loc.Address)
		}
	}
	if update.Area != nil {
		set("area", *update.Area)
	}
	if update.CropType != nil {
		set("crop_type", *update.CropType)
	}
	if update.Boundary != nil {
		boundary, err := encodeBoundary(*update.Boundary)
		if err != nil {
			return err
		}
		set("boundary", boundary)
	}
	set("last_updated", db.FormatTime(s.timestamp()))
	args = append(args, farmID)

	res, err := s.store.Exec(ctx, `UPDATE farms SET `+strings.Join(fields, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update farm: %w", err)
	}
	if err := db.RowsAffected(res); err != nil {
		return err
	}

	s.logger.Infow("Farm updated", "farm_id", farmID)
	return nil
}

// DeleteFarm removes the farm together with its alerts and NDVI rows.
func (s *Service) DeleteFarm(ctx context.Context, farmID string) error {
	res, err := s.store.Exec(ctx, `DELETE FROM farms WHERE id = ?`, farmID)
	if err != nil {
		return fmt.Errorf("failed to delete farm: %w", err)
	}
	if err := db.RowsAffected(res); err != nil {
		return err
	}

	s.logger.Infow("Farm deleted", "farm_id", farmID)
	return nil
}
