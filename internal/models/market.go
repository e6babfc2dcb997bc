package models

import (
	"errors"
)

// Outcome types reported by Manifold
const (
	OutcomeBinary         = "BINARY"
	OutcomeMultipleChoice = "MULTIPLE_CHOICE"
)

// Answer is one option of a multiple-choice market
type Answer struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Probability *float64 `json:"probability"`
	IsResolved  bool     `json:"isResolved"`
}

// Market represents a normalized prediction market
type Market struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Probability  float64  `json:"probability"`
	Participants int      `json:"participants"`
	Volume       float64  `json:"volume"`
	Liquidity    float64  `json:"liquidity"`
	URL          string   `json:"url"`
	CreatedTime  *int64   `json:"createdTime"`
	CloseTime    *int64   `json:"closeTime"`
	IsResolved   bool     `json:"isResolved"`
	Resolution   *string  `json:"resolution"`
	Tags         []string `json:"tags"`
	OutcomeType  string   `json:"outcomeType"`
	Answers      []Answer `json:"answers"`
}

// IsMultipleChoice reports whether the market resolves over a list of answers
func (m *Market) IsMultipleChoice() bool {
	return m.OutcomeType == OutcomeMultipleChoice
}

// HasAnyTag reports whether tags contain any of the given tags.
// An empty filter matches every market.
func HasAnyTag(tags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, tag := range tags {
			if tag == want {
				return true
			}
		}
	}
	return false
}

// Validate checks that all market fields are valid
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Question == "" {
		return errors.New("market question must not be empty")
	}
	if m.Probability < 0.0 || m.Probability > 1.0 {
		return errors.New("probability must be between 0.0 and 1.0")
	}
	if m.Participants < 0 {
		return errors.New("participants must not be negative")
	}
	if m.Volume < 0 || m.Liquidity < 0 {
		return errors.New("volume and liquidity must not be negative")
	}
	for _, a := range m.Answers {
		if a.Probability != nil && (*a.Probability < 0.0 || *a.Probability > 1.0) {
			return errors.New("answer probability must be between 0.0 and 1.0")
		}
	}
	return nil
}
