// Package backfill reconstructs past probabilities from the trade ledger when
// no local snapshot covers the lookback point.
//
// Lookups are capped to a small set of candidate markets ranked by liquidity
// then volume, run with bounded concurrency, and isolated: a failed lookup
// drops that market from the synthetic snapshot and nothing else.
package backfill

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/normalize"
)

const (
	DefaultCandidates  = 20
	DefaultPoints      = 2
	DefaultConcurrency = 6

	day = 24 * time.Hour
)

// Source answers "what was this market's probability just after its last
// trade at or before t". A nil result means no trade before t.
type Source interface {
	ProbabilityBefore(ctx context.Context, marketID string, t time.Time) (*float64, error)
}

// LookupError is a per-market failure during backfill
type LookupError struct {
	MarketID string
	Target   time.Time
	Err      error
}

func (e LookupError) Error() string {
	return fmt.Sprintf("backfill lookup for market %s at %s: %v", e.MarketID, models.FormatDate(e.Target), e.Err)
}

func (e LookupError) Unwrap() error {
	return e.Err
}

// Config bounds backfill request volume
type Config struct {
	Candidates  int
	Points      int
	Concurrency int
}

// Engine runs backfill lookups against a Source
type Engine struct {
	source Source
	cfg    Config
	now    func() time.Time
}

// New creates an Engine; zero config fields take defaults
func New(source Source, cfg Config) *Engine {
	if cfg.Candidates <= 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.Points <= 0 {
		cfg.Points = DefaultPoints
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Engine{source: source, cfg: cfg, now: time.Now}
}

// FindPastProbability returns the probability recorded after the latest
// trade at or before target, or nil when there was no such trade.
func (e *Engine) FindPastProbability(ctx context.Context, marketID string, target time.Time) (*float64, error) {
	p, err := e.source.ProbabilityBefore(ctx, marketID, target)
	if err != nil {
		return nil, LookupError{MarketID: marketID, Target: target, Err: err}
	}
	return normalize.AnswerProbability(p), nil
}

// Candidates returns the markets eligible for lookups: ranked by liquidity,
// then volume, and capped.
func (e *Engine) Candidates(markets []models.Market) []models.Market {
	ranked := make([]models.Market, len(markets))
	copy(ranked, markets)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Liquidity != ranked[j].Liquidity {
			return ranked[i].Liquidity > ranked[j].Liquidity
		}
		return ranked[i].Volume > ranked[j].Volume
	})
	if len(ranked) > e.cfg.Candidates {
		ranked = ranked[:e.cfg.Candidates]
	}
	return ranked
}

// Single builds one synthetic snapshot dated lookbackDays before base (now
// when base is zero). It returns nil when no candidate resolved.
func (e *Engine) Single(ctx context.Context, markets []models.Market, lookbackDays int, base time.Time) *models.Snapshot {
	if base.IsZero() {
		base = e.now()
	}
	return e.SingleAt(ctx, markets, base.Add(-time.Duration(lookbackDays)*day))
}

// SingleAt builds one synthetic snapshot dated at target, or nil
func (e *Engine) SingleAt(ctx context.Context, markets []models.Market, target time.Time) *models.Snapshot {
	candidates := e.Candidates(markets)
	if len(candidates) == 0 {
		return nil
	}

	probs := e.lookupAll(ctx, candidates, target)
	obs := make([]models.Observation, 0, len(candidates))
	for i, m := range candidates {
		if probs[i] == nil {
			continue
		}
		obs = append(obs, observationWith(m, *probs[i]))
	}

	logger.Debug("Backfill at %s resolved %d/%d markets", models.FormatDate(target), len(obs), len(candidates))
	if len(obs) == 0 {
		return nil
	}
	return &models.Snapshot{Date: models.FormatDate(target), Markets: obs}
}

// Series builds up to min(lookbackDays, maxPoints) synthetic snapshots at
// whole-day offsets back from base, oldest first. A market with no
// trade at an offset carries its last resolved probability forward.
func (e *Engine) Series(ctx context.Context, markets []models.Market, lookbackDays int, base time.Time, maxPoints int) []models.Snapshot {
	if base.IsZero() {
		base = e.now()
	}
	if maxPoints <= 0 {
		maxPoints = e.cfg.Points
	}
	points := lookbackDays
	if maxPoints < points {
		points = maxPoints
	}
	candidates := e.Candidates(markets)
	if points <= 0 || len(candidates) == 0 {
		return []models.Snapshot{}
	}

	lastKnown := make(map[string]float64, len(candidates))
	snapshots := make([]models.Snapshot, 0, points)

	for offset := points; offset >= 1; offset-- {
		if ctx.Err() != nil {
			break
		}
		ts := base.Add(-time.Duration(offset) * day)
		probs := e.lookupAll(ctx, candidates, ts)

		obs := make([]models.Observation, 0, len(candidates))
		for i, m := range candidates {
			p := probs[i]
			if p == nil {
				known, ok := lastKnown[m.ID]
				if !ok {
					continue
				}
				p = &known
			}
			lastKnown[m.ID] = *p
			obs = append(obs, observationWith(m, *p))
		}
		if len(obs) > 0 {
			snapshots = append(snapshots, models.Snapshot{Date: models.FormatDate(ts), Markets: obs})
		}
	}

	logger.Debug("Backfill series produced %d snapshots over %d candidates", len(snapshots), len(candidates))
	return snapshots
}

// lookupAll resolves every candidate at target concurrently. Results align
// with the input; failures are logged and left nil.
func (e *Engine) lookupAll(ctx context.Context, candidates []models.Market, target time.Time) []*float64 {
	results := make([]*float64, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, m := range candidates {
		g.Go(func() error {
			p, err := e.FindPastProbability(gctx, m.ID, target)
			if err != nil {
				logger.Warn("%v", err)
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func observationWith(m models.Market, p float64) models.Observation {
	obs := normalize.Observation(m)
	obs.Probability = &p
	return obs
}
