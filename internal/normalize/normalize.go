// Package normalize maps raw Manifold market records into canonical markets.
//
// Probability resolution is an ordered list of extractors; the first one that
// yields a number wins and the market falls back to 0 when none do. Answer
// probabilities above 1 are read as percentages and every answer is clamped
// into [0, 1]. Category tags come from case-insensitive substring matching.
package normalize

import (
	"math"
	"strings"

	"github.com/rewired-gh/marketpulse/internal/manifold"
	"github.com/rewired-gh/marketpulse/internal/models"
)

// Category is a tag label and the keywords that select it
type Category struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// DefaultCategories is the built-in category set
var DefaultCategories = []Category{
	{Name: "AI", Keywords: []string{"artificial intelligence", "machine learning", "gpt", "chatgpt", "ai", "neural", "deep learning"}},
	{Name: "Politics", Keywords: []string{"election", "president", "congress", "senate", "political", "vote", "government", "policy"}},
	{Name: "Economics", Keywords: []string{"economy", "inflation", "gdp", "stock", "recession", "bitcoin", "crypto", "finance"}},
	{Name: "Sports", Keywords: []string{"nfl", "nba", "soccer", "football", "championship", "olympics", "baseball", "basketball", "tennis"}},
}

// ProbabilityExtractor returns a market probability, or nil when it cannot
type ProbabilityExtractor func(m *manifold.RawMarket) *float64

// Extractors is the probability fallback chain, tried in order
var Extractors = []ProbabilityExtractor{
	ExplicitProbability,
	MaxUnresolvedAnswer,
	MaxAnswer,
}

// ExplicitProbability reads the market-level probability field unmodified
func ExplicitProbability(m *manifold.RawMarket) *float64 {
	return m.Probability.Ptr()
}

// MaxUnresolvedAnswer picks the highest probability among unresolved answers
func MaxUnresolvedAnswer(m *manifold.RawMarket) *float64 {
	return maxAnswer(m.Answers, true)
}

// MaxAnswer picks the highest probability among all answers
func MaxAnswer(m *manifold.RawMarket) *float64 {
	return maxAnswer(m.Answers, false)
}

// maxAnswer keeps the first occurrence on ties
func maxAnswer(answers []manifold.RawAnswer, unresolvedOnly bool) *float64 {
	var best *float64
	for _, a := range answers {
		if unresolvedOnly && answerResolved(a) {
			continue
		}
		p := AnswerProbability(rawAnswerValue(a))
		if p == nil {
			continue
		}
		if best == nil || *p > *best {
			best = p
		}
	}
	return best
}

// ResolveProbability walks the extractor chain, defaulting to 0
func ResolveProbability(m *manifold.RawMarket) float64 {
	for _, extract := range Extractors {
		if p := extract(m); p != nil {
			return *p
		}
	}
	return 0
}

// AnswerProbability normalizes an answer probability: nil stays nil, values
// above 1 are percentages, and the result is clamped to [0, 1].
func AnswerProbability(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	p := *v
	if p > 1 {
		p /= 100
	}
	p = math.Min(math.Max(p, 0), 1)
	return &p
}

func rawAnswerValue(a manifold.RawAnswer) *float64 {
	if a.Probability.Valid {
		return a.Probability.Ptr()
	}
	return a.Prob.Ptr()
}

func answerResolved(a manifold.RawAnswer) bool {
	return a.IsResolved || (a.Resolution != nil && *a.Resolution != "")
}

// Normalizer converts raw markets using a fixed category set
type Normalizer struct {
	categories []Category
}

// New creates a Normalizer. An empty category list selects DefaultCategories.
func New(categories []Category) *Normalizer {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	lowered := make([]Category, len(categories))
	for i, c := range categories {
		kws := make([]string, 0, len(c.Keywords)+1)
		kws = append(kws, strings.ToLower(c.Name))
		for _, kw := range c.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		lowered[i] = Category{Name: c.Name, Keywords: kws}
	}
	return &Normalizer{categories: lowered}
}

// Default uses DefaultCategories
var Default = New(nil)

// CategoryNames returns the category labels in enumeration order
func (n *Normalizer) CategoryNames() []string {
	names := make([]string, len(n.categories))
	for i, c := range n.categories {
		names[i] = c.Name
	}
	return names
}

// Tags returns the categories whose name or keywords occur in text, once each,
// in category order.
func (n *Normalizer) Tags(text string) []string {
	lower := strings.ToLower(text)
	tags := []string{}
	for _, c := range n.categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				tags = append(tags, c.Name)
				break
			}
		}
	}
	return tags
}

// Market converts a raw record into a canonical Market
func (n *Normalizer) Market(m *manifold.RawMarket) models.Market {
	liquidity := 0.0
	if m.TotalLiquidity.Valid {
		liquidity = m.TotalLiquidity.Value
	}
	volume := 0.0
	if m.Volume.Valid {
		volume = m.Volume.Value
	}

	return models.Market{
		ID:           m.ID,
		Question:     m.Question,
		Probability:  ResolveProbability(m),
		Participants: m.UniqueBettorCount,
		Volume:       volume,
		Liquidity:    liquidity,
		URL:          m.URL,
		CreatedTime:  m.CreatedTime,
		CloseTime:    m.CloseTime,
		IsResolved:   m.IsResolved,
		Resolution:   m.Resolution,
		Tags:         n.Tags(m.Question),
		OutcomeType:  m.OutcomeType,
		Answers:      answers(m.Answers),
	}
}

// Markets converts a batch, preserving order
func (n *Normalizer) Markets(raw []manifold.RawMarket) []models.Market {
	out := make([]models.Market, len(raw))
	for i := range raw {
		out[i] = n.Market(&raw[i])
	}
	return out
}

func answers(raw []manifold.RawAnswer) []models.Answer {
	out := make([]models.Answer, 0, len(raw))
	for _, a := range raw {
		text := a.Text
		if text == "" {
			text = a.Name
		}
		if text == "" {
			text = "Unknown"
		}
		out = append(out, models.Answer{
			ID:          a.ID,
			Text:        text,
			Probability: AnswerProbability(rawAnswerValue(a)),
			IsResolved:  answerResolved(a),
		})
	}
	return out
}

// Observation reduces a Market to its snapshot form
func Observation(m models.Market) models.Observation {
	p := m.Probability
	return models.Observation{
		ID:           m.ID,
		Question:     m.Question,
		Probability:  &p,
		Participants: m.Participants,
		URL:          m.URL,
		CreatedTime:  m.CreatedTime,
		CloseTime:    m.CloseTime,
		Volume:       m.Volume,
		Liquidity:    m.Liquidity,
		IsResolved:   m.IsResolved,
		Resolution:   m.Resolution,
		OutcomeType:  m.OutcomeType,
		Answers:      m.Answers,
	}
}

// Snapshot captures markets at the given time
func Snapshot(markets []models.Market, date string) models.Snapshot {
	obs := make([]models.Observation, len(markets))
	for i, m := range markets {
		obs[i] = Observation(m)
	}
	return models.Snapshot{Date: date, Markets: obs}
}
