package models

import (
	"errors"
	"math"
)

// DigestState distinguishes a ready digest from the two empty explanations
type DigestState string

const (
	DigestReady DigestState = "ready"
	// DigestWarmingUp means there is no past snapshot to compare against yet.
	DigestWarmingUp DigestState = "warming_up"
	// DigestNoOverlap means both snapshots exist but share no markets.
	DigestNoOverlap DigestState = "no_overlap"
)

// Mover is one market's change between the past and current snapshot
type Mover struct {
	Market Observation `json:"market"`
	Past   Observation `json:"past"`
	// Delta is (current - past) * 100, in percentage points
	Delta float64 `json:"delta"`
}

// Validate checks that the mover's delta agrees with its observations
func (m *Mover) Validate() error {
	if m.Market.ID == "" || m.Market.ID != m.Past.ID {
		return errors.New("mover must join the same market id on both sides")
	}
	if m.Market.Probability == nil || m.Past.Probability == nil {
		return errors.New("mover observations must carry probabilities")
	}
	expected := (*m.Market.Probability - *m.Past.Probability) * 100
	if math.Abs(m.Delta-expected) > 0.001 {
		return errors.New("delta must equal (current - past) * 100")
	}
	return nil
}

// Digest is the bulk current-vs-past comparison
type Digest struct {
	State       DigestState `json:"state"`
	Movers      []Mover     `json:"movers"`
	Gainers     []Mover     `json:"gainers"`
	Losers      []Mover     `json:"losers"`
	CurrentDate string      `json:"currentDate,omitempty"`
	PastDate    string      `json:"pastDate,omitempty"`
}

// Stats are aggregate figures over the visible markets
type Stats struct {
	Total              int     `json:"total"`
	AverageProbability float64 `json:"averageProbability"`
	HighConfidence     int     `json:"highConfidence"`
	Trending           int     `json:"trending"`
}

// Insight is one commentary item about the current markets
type Insight struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Markets     []string `json:"markets,omitempty"`
	Source      string   `json:"source"`
}
