package entities

import "time"

// StressType classifies crop condition.
type StressType string

const (
	StressDrought  StressType = "drought"
	StressPest     StressType = "pest"
	StressNutrient StressType = "nutrient"
	StressHealthy  StressType = "healthy"
)

// Valid reports whether t is one of the known stress types.
func (t StressType) Valid() bool {
	switch t {
	case StressDrought, StressPest, StressNutrient, StressHealthy:
		return true
	}
	return false
}

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// StressAlert is raised against a farm by detection logic and only ever
// mutated through its read flag.
type StressAlert struct {
	ID             string     `json:"id"`
	FarmID         string     `json:"farmId"`
	Type           StressType `json:"type"`
	Severity       Severity   `json:"severity"`
	Confidence     float64    `json:"confidence"`
	DetectedAt     time.Time  `json:"detectedAt"`
	Message        string     `json:"message"`
	Recommendation string     `json:"recommendation"`
	IsRead         bool       `json:"isRead"`
}

// AlertInput describes a new alert. A zero DetectedAt means now.
type AlertInput struct {
	Type           StressType `json:"type"`
	Severity       Severity   `json:"severity"`
	Confidence     float64    `json:"confidence"`
	Message        string     `json:"message"`
	Recommendation string     `json:"recommendation"`
	DetectedAt     time.Time  `json:"detectedAt,omitempty"`
}
