package models

import (
	"errors"
	"time"
)

// DateLayout is the capture-time format used as the snapshot key.
// Millisecond precision in UTC, matching the persisted collection.
const DateLayout = "2006-01-02T15:04:05.000Z"

// FormatDate renders t as a snapshot date key
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a snapshot date key. Any RFC 3339 timestamp is accepted.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Observation is the reduced form of a Market stored inside a snapshot.
// A nil Probability means no data, never zero.
type Observation struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Probability  *float64 `json:"probability"`
	Participants int      `json:"participants"`
	URL          string   `json:"url"`
	CreatedTime  *int64   `json:"createdTime"`
	CloseTime    *int64   `json:"closeTime"`
	Volume       float64  `json:"volume"`
	Liquidity    float64  `json:"liquidity"`
	IsResolved   bool     `json:"isResolved"`
	Resolution   *string  `json:"resolution"`
	OutcomeType  string   `json:"outcomeType"`
	Answers      []Answer `json:"answers"`
}

// Snapshot represents a point-in-time capture of many markets' probabilities.
// Date is the uniqueness key.
type Snapshot struct {
	Date    string        `json:"date"`
	Markets []Observation `json:"markets"`
}

// Time returns the parsed capture time
func (s *Snapshot) Time() (time.Time, error) {
	return ParseDate(s.Date)
}

// Find returns the observation for a market id, or nil
func (s *Snapshot) Find(id string) *Observation {
	for i := range s.Markets {
		if s.Markets[i].ID == id {
			return &s.Markets[i]
		}
	}
	return nil
}

// Validate checks that all snapshot fields are valid
func (s *Snapshot) Validate() error {
	if s.Date == "" {
		return errors.New("snapshot date must not be empty")
	}
	if _, err := ParseDate(s.Date); err != nil {
		return errors.New("snapshot date must be an ISO-8601 timestamp")
	}
	for _, o := range s.Markets {
		if o.ID == "" {
			return errors.New("observation ID must not be empty")
		}
		if o.Probability != nil && (*o.Probability < 0.0 || *o.Probability > 1.0) {
			return errors.New("observation probability must be between 0.0 and 1.0")
		}
	}
	return nil
}

// Float returns a pointer to v, for building observations and answers
func Float(v float64) *float64 {
	return &v
}
