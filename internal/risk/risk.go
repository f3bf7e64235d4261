// Package risk maps the externally computed spoilage score of a bag onto the
// discrete severity bands used by alerts and KPIs.
package risk

import (
	"math"

	"silofy/internal/validation"
)

type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Status is the operational label shown for a bag. It is always derived
// from a Severity and never stored on its own.
type Status string

const (
	StatusOK        Status = "OK"
	StatusAttention Status = "Attention"
	StatusHigh      Status = "High"
)

// Lower edges of the Medium and High bands, both inclusive.
const (
	MediumThreshold = 0.40
	HighThreshold   = 0.75
)

// Classify returns the severity band of a score in [0, 1]. Scores outside
// that range are rejected rather than clamped.
func Classify(score float64) (Severity, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return "", validation.New("risk", score, "risk score must be within [0, 1]")
	}
	switch {
	case score >= HighThreshold:
		return SeverityHigh, nil
	case score >= MediumThreshold:
		return SeverityMedium, nil
	default:
		return SeverityLow, nil
	}
}

func StatusFor(sev Severity) Status {
	switch sev {
	case SeverityHigh:
		return StatusHigh
	case SeverityMedium:
		return StatusAttention
	default:
		return StatusOK
	}
}

// StatusOf classifies score and projects it onto a Status.
func StatusOf(score float64) (Status, error) {
	sev, err := Classify(score)
	if err != nil {
		return "", err
	}
	return StatusFor(sev), nil
}

// AtRisk reports whether score falls in the Medium or High band.
func AtRisk(score float64) (bool, error) {
	sev, err := Classify(score)
	if err != nil {
		return false, err
	}
	return sev != SeverityLow, nil
}
