package farms

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AddNDVIObservation appends one point to the farm's series. Dates are not
// deduplicated.
func (s *Service) AddNDVIObservation(ctx context.Context, farmID string, obs entities.NDVIObservation) error {
	if _, err := s.store.Exec(ctx,
		`INSERT INTO ndvi_data (farm_id, date, value, confidence, is_forecast) VALUES (?, ?, ?, ?, ?)`,
		farmID, db.FormatTime(obs.Date), obs.Value, obs.Confidence, boolToInt(obs.IsForecast),
	); err != nil {
		return fmt.Errorf("failed to add ndvi observation: %w", err)
	}
	return nil
}

// GetNDVIData returns the historical or the forecast series of a farm,
// oldest first.
func (s *Service) GetNDVIData(ctx context.Context, farmID string, forecast bool) ([]entities.NDVIObservation, error) {
	conn, err := s.store.Handle()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT date, value, confidence FROM ndvi_data WHERE farm_id = ? AND is_forecast = ? ORDER BY date ASC`,
		farmID, boolToInt(forecast),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ndvi data: %w", err)
	}
	defer rows.Close()

	series := []entities.NDVIObservation{}
	for rows.Next() {
		var (
			obs  entities.NDVIObservation
			date string
		)
		if err := rows.Scan(&date, &obs.Value, &obs.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan ndvi row: %w", err)
		}
		if obs.Date, err = db.ParseTime(date); err != nil {
			return nil, err
		}
		obs.IsForecast = forecast
		series = append(series, obs)
	}
	return series, rows.Err()
}

// AddNDVIObservations appends a batch of points in one transaction.
func (s *Service) AddNDVIObservations(ctx context.Context, farmID string, series []entities.NDVIObservation) error {
	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ndvi_data (farm_id, date, value, confidence, is_forecast) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, obs := range series {
			if _, err := stmt.ExecContext(ctx, farmID, db.FormatTime(obs.Date), obs.Value, obs.Confidence, boolToInt(obs.IsForecast)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add ndvi observations: %w", err)
	}
	return nil
}
