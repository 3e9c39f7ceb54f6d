package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

// Service reads and writes the per-user preferences row.
type Service struct {
	store  *db.Store
	logger *zap.SugaredLogger
}

func NewService(store *db.Store, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, logger: logger}
}

// GetUserSettings returns the stored preferences, or the defaults when the
// user has no row yet. Reading never creates a row.
func (s *Service) GetUserSettings(ctx context.Context, userID string) (*entities.UserSettings, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	settings := entities.UserSettings{UserID: userID}
	var email, sms, push int
	err = conn.QueryRowContext(ctx,
		`SELECT notifications_email, notifications_sms, notifications_push,
		        alert_ndvi_drop, alert_confidence_min, language, timezone
		 FROM user_settings WHERE user_id = ?`,
		userID,
	).Scan(&email, &sms, &push,
		&settings.AlertThresholds.NDVIDrop, &settings.AlertThresholds.ConfidenceMin,
		&settings.Language, &settings.Timezone,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			defaults := entities.DefaultSettings(userID)
			return &defaults, nil
		}
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	settings.Notifications = entities.NotificationSettings{
		Email: email != 0,
		SMS:   sms != 0,
		Push:  push != 0,
	}
	return &settings, nil
}

// UpdateUserSettings applies the supplied fields, inserting the default row
// first when the user has none.
func (s *Service) UpdateUserSettings(ctx context.Context, userID string, update entities.SettingsUpdate) error {
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

	if n := update.Notifications; n != nil {
		if n.Email != nil {
			set("notifications_email", boolToInt(*n.Email))
		}
		if n.SMS != nil {
			set("notifications_sms", boolToInt(*n.SMS))
		}
		if n.Push != nil {
			set("notifications_push", boolToInt(*n.Push))
		}
	}
	if a := update.AlertThresholds; a != nil {
		if a.NDVIDrop != nil {
			set("alert_ndvi_drop", *a.NDVIDrop)
		}
		if a.ConfidenceMin != nil {
			set("alert_confidence_min", *a.ConfidenceMin)
		}
	}
	if update.Language != nil {
		set("language", *update.Language)
	}
	if update.Timezone != nil {
		set("timezone", *update.Timezone)
	}
	args = append(args, userID)

	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_settings (user_id) VALUES (?)`, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE user_settings SET `+strings.Join(fields, ", ")+` WHERE user_id = ?`, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}

	s.logger.Infow("Settings updated", "user_id", userID, "fields", len(fields))
	return nil
}

// CreateDefaultSettings inserts the default row unless one exists.
func (s *Service) CreateDefaultSettings(ctx context.Context, userID string) error {
	if _, err := s.store.Exec(ctx, `INSERT OR IGNORE INTO user_settings (user_id) VALUES (?)`, userID); err != nil {
		return fmt.Errorf("failed to create settings: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
