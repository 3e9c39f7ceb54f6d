package entities

import "time"

// NDVIObservation is one point of a farm's vegetation-index series, either
// measured (IsForecast false) or predicted.
type NDVIObservation struct {
	Date       time.Time `json:"date"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	IsForecast bool      `json:"isForecast"`
}

// Trend of the recent NDVI window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// FarmHealth is derived on read from a farm's NDVI rows and alerts.
type FarmHealth struct {
	FarmID      string            `json:"farmId"`
	CurrentNDVI float64           `json:"currentNDVI"`
	AvgNDVI     float64           `json:"avgNDVI"`
	StressLevel StressType        `json:"stressLevel"`
	Trend       Trend             `json:"trend"`
	NDVIHistory []NDVIObservation `json:"ndviHistory"`
	Forecast    []NDVIObservation `json:"forecast"`
	Alerts      []StressAlert     `json:"alerts"`
}
