// Package monitor derives per-market trends and the current-vs-past digest.
//
// A trend summarizes a market's history series:
//
//	delta        = (last - first) × 100                 percentage points, signed
//	averageSwing = mean |p[i] - p[i-1]| × 100           percentage points
//	consistency  = |Σ Δp| / Σ |Δp|                      1 = directional, 0 = oscillating
//
// The average swing maps to a coarse volatility label (Stable, Active, Choppy).
// The digest joins the latest snapshot against the chosen past snapshot by
// market id and ranks the joined pairs by absolute delta.
package monitor

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/marketpulse/internal/history"
	"github.com/rewired-gh/marketpulse/internal/models"
)

const (
	DefaultStableThreshold = 2.0
	DefaultActiveThreshold = 6.0
	DefaultTopMovers       = 6
	DefaultListLimit       = 10
)

// Tagger derives category tags from question text
type Tagger interface {
	Tags(text string) []string
}

// Options tunes trend labels and digest sizes
type Options struct {
	StableThreshold float64
	ActiveThreshold float64
	TopMovers       int
	ListLimit       int
}

// DefaultOptions returns the product defaults
func DefaultOptions() Options {
	return Options{
		StableThreshold: DefaultStableThreshold,
		ActiveThreshold: DefaultActiveThreshold,
		TopMovers:       DefaultTopMovers,
		ListLimit:       DefaultListLimit,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StableThreshold <= 0 {
		o.StableThreshold = d.StableThreshold
	}
	if o.ActiveThreshold <= 0 {
		o.ActiveThreshold = d.ActiveThreshold
	}
	if o.TopMovers <= 0 {
		o.TopMovers = d.TopMovers
	}
	if o.ListLimit <= 0 {
		o.ListLimit = d.ListLimit
	}
	return o
}

// Monitor computes trends and digests with fixed options
type Monitor struct {
	opts   Options
	tagger Tagger
}

// New creates a Monitor. Zero option fields take defaults.
func New(opts Options, tagger Tagger) *Monitor {
	return &Monitor{opts: opts.withDefaults(), tagger: tagger}
}

// Options returns the effective options
func (m *Monitor) Options() Options {
	return m.opts
}

// VolatilityLabel maps an average swing in percentage points to a label
func (m *Monitor) VolatilityLabel(swing float64) string {
	switch {
	case swing < m.opts.StableThreshold:
		return models.VolatilityStable
	case swing < m.opts.ActiveThreshold:
		return models.VolatilityActive
	default:
		return models.VolatilityChoppy
	}
}

// TrendFor returns the trend of a market's series in idx. A market with no
// points has no trend. A single point yields a flat two-point series one
// millisecond apart with zero delta.
func (m *Monitor) TrendFor(idx history.Index, id string) *models.Trend {
	return m.TrendOf(idx.Series(id))
}

// TrendOf computes a trend directly from a series
func (m *Monitor) TrendOf(series []models.Point) *models.Trend {
	switch len(series) {
	case 0:
		return nil
	case 1:
		p := series[0]
		return &models.Trend{
			Series: []models.Point{
				p,
				{Timestamp: p.Timestamp.Add(time.Millisecond), Probability: p.Probability},
			},
			StartProbability: p.Probability,
			EndProbability:   p.Probability,
			Volatility:       m.VolatilityLabel(0),
			Consistency:      1.0,
		}
	}

	start := series[0].Probability
	end := series[len(series)-1].Probability

	var swing float64
	for i := 1; i < len(series); i++ {
		swing += math.Abs((series[i].Probability - series[i-1].Probability) * 100)
	}
	swing /= float64(len(series) - 1)

	return &models.Trend{
		Series:           series,
		Delta:            (end - start) * 100,
		StartProbability: start,
		EndProbability:   end,
		AverageSwing:     swing,
		Volatility:       m.VolatilityLabel(swing),
		Consistency:      TrajectoryConsistency(series),
	}
}

// TrajectoryConsistency returns |ΣΔp| / Σ|Δp| across consecutive points.
// Falls back to 1.0 when there are fewer than two points or no movement.
func TrajectoryConsistency(series []models.Point) float64 {
	if len(series) < 2 {
		return 1.0
	}

	var sumSigned, sumAbs float64
	for i := 1; i < len(series); i++ {
		delta := series[i].Probability - series[i-1].Probability
		sumSigned += delta
		sumAbs += math.Abs(delta)
	}

	if sumAbs < 1e-10 {
		return 1.0
	}
	return math.Abs(sumSigned) / sumAbs
}

// Digest compares current against past for markets matching the category filter.
// A nil past yields the warming-up state; no joined pairs yields no-overlap.
func (m *Monitor) Digest(current, past *models.Snapshot, categories []string) models.Digest {
	d := models.Digest{
		Movers:  []models.Mover{},
		Gainers: []models.Mover{},
		Losers:  []models.Mover{},
	}
	if current != nil {
		d.CurrentDate = current.Date
	}
	if current == nil || past == nil {
		d.State = models.DigestWarmingUp
		return d
	}
	d.PastDate = past.Date

	pastByID := make(map[string]models.Observation, len(past.Markets))
	for _, obs := range m.filterObservations(past.Markets, categories) {
		pastByID[obs.ID] = obs
	}

	var changes []models.Mover
	for _, obs := range m.filterObservations(current.Markets, categories) {
		prev, ok := pastByID[obs.ID]
		if !ok || prev.Probability == nil || obs.Probability == nil {
			continue
		}
		changes = append(changes, models.Mover{
			Market: obs,
			Past:   prev,
			Delta:  (*obs.Probability - *prev.Probability) * 100,
		})
	}
	if len(changes) == 0 {
		d.State = models.DigestNoOverlap
		return d
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return math.Abs(changes[i].Delta) > math.Abs(changes[j].Delta)
	})

	d.State = models.DigestReady
	d.Movers = head(changes, m.opts.TopMovers)
	for _, c := range changes {
		if c.Delta > 0 && len(d.Gainers) < m.opts.ListLimit {
			d.Gainers = append(d.Gainers, c)
		}
		if c.Delta < 0 && len(d.Losers) < m.opts.ListLimit {
			d.Losers = append(d.Losers, c)
		}
	}
	return d
}

func (m *Monitor) filterObservations(obs []models.Observation, categories []string) []models.Observation {
	if len(categories) == 0 || m.tagger == nil {
		return obs
	}
	out := make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		if models.HasAnyTag(m.tagger.Tags(o.Question), categories) {
			out = append(out, o)
		}
	}
	return out
}

func head(movers []models.Mover, n int) []models.Mover {
	if len(movers) > n {
		movers = movers[:n]
	}
	out := make([]models.Mover, len(movers))
	copy(out, movers)
	return out
}

// Stats aggregates the visible markets. High confidence is p > 0.7 or p < 0.3;
// trending means more participants than the mean.
func Stats(markets []models.Market) models.Stats {
	s := models.Stats{Total: len(markets)}
	if len(markets) == 0 {
		return s
	}

	var probSum, partSum float64
	for _, mk := range markets {
		probSum += mk.Probability
		partSum += float64(mk.Participants)
		if mk.Probability > 0.7 || mk.Probability < 0.3 {
			s.HighConfidence++
		}
	}
	s.AverageProbability = probSum / float64(len(markets))

	avgParticipants := partSum / float64(len(markets))
	for _, mk := range markets {
		if float64(mk.Participants) > avgParticipants {
			s.Trending++
		}
	}
	return s
}

// FilterMarkets keeps markets whose question contains query (case-insensitive)
// and whose tags intersect categories. Empty query and categories match all.
func FilterMarkets(markets []models.Market, query string, categories []string) []models.Market {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Market, 0, len(markets))
	for _, mk := range markets {
		if q != "" && !strings.Contains(strings.ToLower(mk.Question), q) {
			continue
		}
		if !models.HasAnyTag(mk.Tags, categories) {
			continue
		}
		out = append(out, mk)
	}
	return out
}

// SortByMovement orders markets by absolute trend delta, largest first.
// Markets without a trend sort as zero movement; ties keep input order.
func (m *Monitor) SortByMovement(markets []models.Market, idx history.Index) {
	moves := make(map[string]float64, len(markets))
	for _, mk := range markets {
		if tr := m.TrendFor(idx, mk.ID); tr != nil {
			moves[mk.ID] = math.Abs(tr.Delta)
		}
	}
	sort.SliceStable(markets, func(i, j int) bool {
		return moves[markets[i].ID] > moves[markets[j].ID]
	})
}
