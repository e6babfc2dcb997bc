package session

import (
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// FeedMarket is the exported view of one visible market
type FeedMarket struct {
	ID           string        `json:"id"`
	Question     string        `json:"question"`
	Probability  float64       `json:"probability"`
	URL          string        `json:"url"`
	Tags         []string      `json:"tags"`
	Participants int           `json:"participants"`
	Trend        *models.Trend `json:"trend,omitempty"`
}

// Feed is a portable export of the current view
type Feed struct {
	Generated    string           `json:"generated"`
	Source       string           `json:"source"`
	Query        string           `json:"query"`
	Categories   []string         `json:"categories"`
	LookbackDays int              `json:"lookbackDays"`
	Stats        models.Stats     `json:"stats"`
	Digest       models.Digest    `json:"digest"`
	Markets      []FeedMarket     `json:"markets"`
	Insights     []models.Insight `json:"insights"`
}

// FeedSource names the market provider in exported feeds
const FeedSource = "manifold"

// Export builds a Feed from the visible markets
func (s *Session) Export() Feed {
	s.mu.Lock()
	defer s.mu.Unlock()

	markets := make([]FeedMarket, 0, len(s.state.Visible))
	for _, m := range s.state.Visible {
		markets = append(markets, FeedMarket{
			ID:           m.ID,
			Question:     m.Question,
			Probability:  m.Probability,
			URL:          m.URL,
			Tags:         m.Tags,
			Participants: m.Participants,
			Trend:        s.deps.Monitor.TrendFor(s.index, m.ID),
		})
	}

	return Feed{
		Generated:    s.now().UTC().Format(time.RFC3339Nano),
		Source:       FeedSource,
		Query:        s.state.Query,
		Categories:   append([]string{}, s.state.Categories...),
		LookbackDays: s.state.LookbackDays,
		Stats:        s.state.Stats,
		Digest:       s.state.Digest,
		Markets:      markets,
		Insights:     append([]models.Insight{}, s.state.Insights...),
	}
}
