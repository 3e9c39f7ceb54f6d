package farms

import (
	"context"

	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

const (
	droughtThreshold  = 0.3
	nutrientThreshold = 0.5
	trendWindow       = 7
	trendSegment      = 3
	trendTolerance    = 0.05
)

// GetFarmHealth derives the health view of a farm. It returns nil when the
// farm has no historical observations.
func (s *Service) GetFarmHealth(ctx context.Context, farmID string) (*entities.FarmHealth, error) {
	history, err := s.GetNDVIData(ctx, farmID, false)
	if err != nil {
		return nil, err
	}
	forecast, err := s.GetNDVIData(ctx, farmID, true)
	if err != nil {
		return nil, err
	}
	alerts, err := s.GetAlertsByFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	return ComputeHealth(farmID, history, forecast, alerts), nil
}

// ComputeHealth builds the health view from already loaded rows. history
// must be in ascending date order.
func ComputeHealth(farmID string, history, forecast []entities.NDVIObservation, alerts []entities.StressAlert) *entities.FarmHealth {
	if len(history) == 0 {
		return nil
	}

	current := history[len(history)-1].Value
	return &entities.FarmHealth{
		FarmID:      farmID,
		CurrentNDVI: current,
		AvgNDVI:     mean(history),
		StressLevel: ClassifyStress(current, alerts),
		Trend:       ComputeTrend(history),
		NDVIHistory: history,
		Forecast:    forecast,
		Alerts:      alerts,
	}
}

// ClassifyStress applies the thresholds in priority order: drought, then
// nutrient, then any unread pest alert. Comparisons are strict.
func ClassifyStress(current float64, alerts []entities.StressAlert) entities.StressType {
	switch {
	case current < droughtThreshold:
		return entities.StressDrought
	case current < nutrientThreshold:
		return entities.StressNutrient
	}
	for _, a := range alerts {
		if a.Type == entities.StressPest && !a.IsRead {
			return entities.StressPest
		}
	}
	return entities.StressHealthy
}

// ComputeTrend compares the mean of the first three and the last three of
// the latest seven observations. Shorter series use the same slicing, so
// the two segments may overlap.
func ComputeTrend(history []entities.NDVIObservation) entities.Trend {
	window := history
	if len(window) > trendWindow {
		window = window[len(window)-trendWindow:]
	}
	if len(window) == 0 {
		return entities.TrendStable
	}

	head := window[:min(trendSegment, len(window))]
	tail := window[max(0, len(window)-trendSegment):]
	first, last := mean(head), mean(tail)

	switch {
	case last > first+trendTolerance:
		return entities.TrendImproving
	case last < first-trendTolerance:
		return entities.TrendDeclining
	}
	return entities.TrendStable
}

func mean(series []entities.NDVIObservation) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, obs := range series {
		sum += obs.Value
	}
	return sum / float64(len(series))
}
