package farms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

const alertColumns = `id, farm_id, type, severity, confidence, detected_at, message, recommendation, is_read`

func scanAlert(row rowScanner) (*entities.StressAlert, error) {
	var (
		a          entities.StressAlert
		kind, sev  string
		detectedAt string
		isRead     int
	)
	if err := row.Scan(&a.ID, &a.FarmID, &kind, &sev, &a.Confidence, &detectedAt, &a.Message, &a.Recommendation, &isRead); err != nil {
		return nil, err
	}

	ts, err := db.ParseTime(detectedAt)
	if err != nil {
		return nil, err
	}
	a.Type = entities.StressType(kind)
	a.Severity = entities.Severity(sev)
	a.DetectedAt = ts
	a.IsRead = isRead != 0
	return &a, nil
}

// CreateAlert stores a new unread alert for the farm and notifies the
// registered AlertNotifier.
func (s *Service) CreateAlert(ctx context.Context, farmID string, input entities.AlertInput) (*entities.StressAlert, error) {
	if !input.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown stress type %q", db.ErrInvalidInput, input.Type)
	}
	if !input.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", db.ErrInvalidInput, input.Severity)
	}

	detectedAt := input.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = s.now()
	}

	alert := &entities.StressAlert{
		ID:             "alert-" + uuid.NewString(),
		FarmID:         farmID,
		Type:           input.Type,
		Severity:       input.Severity,
		Confidence:     input.Confidence,
		DetectedAt:     detectedAt.UTC().Truncate(time.Millisecond),
		Message:        input.Message,
		Recommendation: input.Recommendation,
	}

	if _, err := s.store.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		alert.ID, alert.FarmID, string(alert.Type), string(alert.Severity), alert.Confidence,
		db.FormatTime(alert.DetectedAt), alert.Message, alert.Recommendation,
	); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	s.logger.Infow("Alert created",
		"alert_id", alert.ID,
		"farm_id", farmID,
		"type", alert.Type,
		"severity", alert.Severity,
	)

	if s.notifier != nil {
		farm, err := s.GetFarmByID(ctx, farmID)
		if err != nil {
			s.logger.Warnw("Failed to load farm for alert notification", "farm_id", farmID, "error", err)
		} else if farm != nil {
			s.notifier.AlertCreated(ctx, farm, alert)
		}
	}
	return alert, nil
}

func (s *Service) queryAlerts(ctx context.Context, query string, args ...any) ([]entities.StressAlert, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []entities.StressAlert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// GetAlerts lists alerts across all of the user's farms, newest first.
func (s *Service) GetAlerts(ctx context.Context, userID string) ([]entities.StressAlert, error) {
	return s.queryAlerts(ctx,
		`SELECT a.id, a.farm_id, a.type, a.severity, a.confidence, a.detected_at, a.message, a.recommendation, a.is_read
		 FROM alerts a
		 JOIN farms f ON a.farm_id = f.id
		 WHERE f.user_id = ?
		 ORDER BY a.detected_at DESC`,
		userID,
	)
}

// GetAlertsByFarm lists the farm's alerts, newest first.
func (s *Service) GetAlertsByFarm(ctx context.Context, farmID string) ([]entities.StressAlert, error) {
	return s.queryAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE farm_id = ? ORDER BY detected_at DESC`,
		farmID,
	)
}

// GetAlertByID returns nil when the alert does not exist.
func (s *Service) GetAlertByID(ctx context.Context, alertID string) (*entities.StressAlert, error) {
	alerts, err := s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, alertID)
	if err != nil || len(alerts) == 0 {
		return nil, err
	}
	return &alerts[0], nil
}

// MarkAlertAsRead flags the alert as read; db.ErrNotFound when absent.
func (s *Service) MarkAlertAsRead(ctx context.Context, alertID string) error {
	res, err := s.store.Exec(ctx, `UPDATE alerts SET is_read = 1 WHERE id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	return db.RowsAffected(res)
}

// DeleteAlert removes the alert; db.ErrNotFound when absent.
func (s *Service) DeleteAlert(ctx context.Context, alertID string) error {
	res, err := s.store.Exec(ctx, `DELETE FROM alerts WHERE id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if err := db.RowsAffected(res); err != nil {
		return err
	}

	s.logger.Infow("Alert deleted", "alert_id", alertID)
	return nil
}
