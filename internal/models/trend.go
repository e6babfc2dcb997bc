package models

import (
	"errors"
	"time"
)

// Volatility labels derived from the average swing of a series
const (
	VolatilityStable = "Stable"
	VolatilityActive = "Active"
	VolatilityChoppy = "Choppy"
)

// Point is one entry of a market's probability series
type Point struct {
	Timestamp   time.Time `json:"timestamp"`
	Probability float64   `json:"probability"`
}

// Trend summarizes a market's series. Delta and AverageSwing are in percentage points.
type Trend struct {
	Series           []Point `json:"series"`
	Delta            float64 `json:"delta"`
	StartProbability float64 `json:"startProbability"`
	EndProbability   float64 `json:"endProbability"`
	AverageSwing     float64 `json:"averageSwing"`
	Volatility       string  `json:"volatility"`
	Consistency      float64 `json:"consistency"`
}

// Validate checks that all trend fields are valid
func (t *Trend) Validate() error {
	if len(t.Series) < 2 {
		return errors.New("trend series must contain at least 2 points")
	}
	if t.StartProbability < 0.0 || t.StartProbability > 1.0 {
		return errors.New("start probability must be between 0.0 and 1.0")
	}
	if t.EndProbability < 0.0 || t.EndProbability > 1.0 {
		return errors.New("end probability must be between 0.0 and 1.0")
	}
	if t.AverageSwing < 0 {
		return errors.New("average swing must not be negative")
	}
	switch t.Volatility {
	case VolatilityStable, VolatilityActive, VolatilityChoppy:
	default:
		return errors.New("volatility must be Stable, Active or Choppy")
	}
	return nil
}
