// Package session holds the dashboard state as an explicit value and runs the
// fetch cycle against it.
//
// Every fetch and insight run captures a Token by value when it starts. Results
// are committed under the session mutex only if the token is still current, so
// a slower, older cycle can never overwrite a newer one. In-flight requests of
// a superseded cycle are not aborted; their results are dropped on arrival.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/marketpulse/internal/history"
	"github.com/rewired-gh/marketpulse/internal/insight"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/manifold"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/monitor"
	"github.com/rewired-gh/marketpulse/internal/normalize"
	"github.com/rewired-gh/marketpulse/internal/storage"
)

// DefaultMinVisible is how many filtered markets a fetch tries to show
// before it stops loading more pages.
const DefaultMinVisible = 30

var (
	// ErrSuperseded reports that a newer fetch or insight run replaced this one
	// and its results were discarded.
	ErrSuperseded = errors.New("superseded by a newer run")
	// ErrNoMarkets is returned when insights are requested before any fetch
	ErrNoMarkets = errors.New("no markets loaded")
)

// Searcher is the market API surface the cycle uses
type Searcher interface {
	PageSize() int
	SearchMarkets(ctx context.Context, term string, offset int) ([]manifold.RawMarket, error)
	Enrich(ctx context.Context, markets []manifold.RawMarket, limit int) []manifold.RawMarket
	FetchDetails(ctx context.Context, ids []string) map[string]manifold.RawMarket
}

// Backfiller reconstructs past snapshots from trade history
type Backfiller interface {
	Single(ctx context.Context, markets []models.Market, lookbackDays int, base time.Time) *models.Snapshot
	Series(ctx context.Context, markets []models.Market, lookbackDays int, base time.Time, maxPoints int) []models.Snapshot
}

// Token identifies a fetch cycle and, for insight runs, the insight generation
// nested inside it.
type Token struct {
	Fetch   uint64
	Insight uint64
}

// Deps are the collaborators a Session drives
type Deps struct {
	Markets    Searcher
	Backfill   Backfiller
	Store      *storage.Storage
	Normalizer *normalize.Normalizer
	Monitor    *monitor.Monitor
	// Insights may be nil; local insights are used then
	Insights insight.Generator
}

// Config tunes the fetch cycle
type Config struct {
	DetailLimit     int
	HydrateLimit    int
	BackfillPoints  int
	DefaultLookback int
	// MinVisible triggers automatic load-more while fewer markets pass the filter
	MinVisible   int
	MaxAutoPages int
	AutoInsights bool
}

// State is a read-only copy of the session for rendering
type State struct {
	Query        string           `json:"query"`
	FetchQuery   string           `json:"fetchQuery"`
	Categories   []string         `json:"categories"`
	LookbackDays int              `json:"lookbackDays"`
	Markets      []models.Market  `json:"markets"`
	Visible      []models.Market  `json:"visible"`
	Digest       models.Digest    `json:"digest"`
	Stats        models.Stats     `json:"stats"`
	Insights     []models.Insight `json:"insights"`
	Offset       int              `json:"offset"`
	HasMore      bool             `json:"hasMore"`
	Loading      bool             `json:"loading"`
	LoadingMore  bool             `json:"loadingMore"`
	Err          string           `json:"error,omitempty"`
	Snapshots    int              `json:"snapshots"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Session is the dashboard state and the operations that mutate it
type Session struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu        sync.Mutex
	tokens    Token
	state     State
	snapshots []models.Snapshot
	index     history.Index
	current   *models.Snapshot
	past      *models.Snapshot
}

// New creates a Session, restoring the persisted lookback and snapshot collection
func New(ctx context.Context, deps Deps, cfg Config) *Session {
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = storage.DefaultLookbackDays
	}
	if cfg.MinVisible < 0 {
		cfg.MinVisible = 0
	}
	if cfg.MaxAutoPages <= 0 {
		cfg.MaxAutoPages = 3
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.Default
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(monitor.DefaultOptions(), deps.Normalizer)
	}

	s := &Session{
		deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		index: history.Index{},
	}
	s.snapshots = deps.Store.LoadSnapshots(ctx)
	s.state = State{
		Categories:   []string{},
		LookbackDays: deps.Store.LoadLookback(ctx, cfg.DefaultLookback),
		Markets:      []models.Market{},
		Visible:      []models.Market{},
		Digest:       deps.Monitor.Digest(nil, nil, nil),
		Insights:     []models.Insight{},
		Snapshots:    len(s.snapshots),
	}
	return s
}

// State returns a copy of the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Categories = append([]string(nil), s.state.Categories...)
	st.Markets = append([]models.Market(nil), s.state.Markets...)
	st.Visible = append([]models.Market(nil), s.state.Visible...)
	st.Insights = append([]models.Insight(nil), s.state.Insights...)
	return st
}

// Tokens returns the current generation pair
func (s *Session) Tokens() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Trend returns the trend for a market over the current history index
func (s *Session) Trend(id string) *models.Trend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Monitor.TrendFor(s.index, id)
}

// commit runs apply under the lock if tok is still the active fetch
func (s *Session) commit(tok Token, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.Fetch != s.tokens.Fetch {
		return false
	}
	apply()
	return true
}

// cycleResult is everything a fetch cycle computes before it commits
type cycleResult struct {
	markets   []models.Market
	snapshots []models.Snapshot
	index     history.Index
	current   models.Snapshot
	past      *models.Snapshot
	fetched   int
}

// Fetch runs a full cycle for query. A superseded cycle returns ErrSuperseded
// and leaves state untouched. A failing current cycle records the error and
// clears the loading flag.
func (s *Session) Fetch(ctx context.Context, query string) error {
	s.mu.Lock()
	s.tokens.Fetch++
	tok := Token{Fetch: s.tokens.Fetch}
	fetchQuery := query
	if fetchQuery == "" && len(s.state.Categories) == 1 {
		fetchQuery = s.state.Categories[0]
	}
	lookback := s.state.LookbackDays
	s.state.Query = query
	s.state.FetchQuery = fetchQuery
	s.state.Loading = true
	s.state.LoadingMore = false
	s.state.Offset = 0
	s.state.HasMore = false
	s.state.Markets = []models.Market{}
	s.state.Visible = []models.Market{}
	s.state.Err = ""
	s.mu.Unlock()

	logger.Debug("Fetch cycle %d started (query=%q, lookback=%dd)", tok.Fetch, fetchQuery, lookback)
	start := time.Now()

	res, err := s.runCycle(ctx, fetchQuery, lookback)
	if err != nil {
		if !s.commit(tok, func() {
			s.state.Loading = false
			s.state.Err = err.Error()
		}) {
			logger.Debug("Fetch cycle %d failed after being superseded: %v", tok.Fetch, err)
			return ErrSuperseded
		}
		return err
	}

	pageSize := s.deps.Markets.PageSize()
	if !s.commit(tok, func() {
		s.snapshots = res.snapshots
		s.index = res.index
		current := res.current
		s.current = &current
		s.past = res.past
		s.state.Markets = res.markets
		s.state.Offset = res.fetched
		s.state.HasMore = res.fetched >= pageSize
		s.state.Loading = false
		s.state.Snapshots = len(res.snapshots)
		s.state.UpdatedAt = s.now()
		s.refreshLocked()
	}) {
		logger.Debug("Fetch cycle %d superseded, discarding results", tok.Fetch)
		return ErrSuperseded
	}

	logger.Info("Fetch cycle %d committed: %d markets, %d snapshots, digest %s (%v)",
		tok.Fetch, len(res.markets), len(res.snapshots), s.State().Digest.State, time.Since(start).Round(time.Millisecond))

	s.fillVisible(ctx)

	if s.cfg.AutoInsights {
		if err := s.GenerateInsights(ctx); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrNoMarkets) {
			logger.Warn("Automatic insight generation failed: %v", err)
		}
	}
	return nil
}

func (s *Session) runCycle(ctx context.Context, fetchQuery string, lookback int) (*cycleResult, error) {
	raw, err := s.deps.Markets.SearchMarkets(ctx, fetchQuery, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	raw = s.deps.Markets.Enrich(ctx, raw, s.cfg.DetailLimit)
	live := s.deps.Normalizer.Markets(raw)

	now := s.now()
	current := normalize.Snapshot(live, models.FormatDate(now))

	snapshots, err := s.deps.Store.Commit(ctx, current)
	if err != nil {
		logger.Warn("Failed to persist snapshots, continuing in memory: %v", err)
	}

	target := storage.LookbackTarget(now, lookback)
	windows := storage.Since(snapshots, target)

	past := storage.ClosestOnDay(snapshots, target)
	if past == nil && s.deps.Backfill != nil {
		past = s.deps.Backfill.Single(ctx, live, lookback, now)
	}

	if len(windows) < 2 && lookback > 1 && s.deps.Backfill != nil {
		series := s.deps.Backfill.Series(ctx, live, lookback, now, s.cfg.BackfillPoints)
		windows = storage.Prune(storage.Merge(series, windows), s.deps.Store.MaxSnapshots())
	}
	if past != nil && !storage.Contains(windows, past.Date) {
		windows = append([]models.Snapshot{*past}, windows...)
	}

	return &cycleResult{
		markets:   s.hydrate(ctx, live),
		snapshots: snapshots,
		index:     history.Build(windows),
		current:   current,
		past:      past,
		fetched:   len(raw),
	}, nil
}

// hydrate fetches answers for multiple-choice markets that arrived without them
func (s *Session) hydrate(ctx context.Context, markets []models.Market) []models.Market {
	if s.cfg.HydrateLimit <= 0 {
		return markets
	}
	var ids []string
	for _, m := range markets {
		if m.IsMultipleChoice() && len(m.Answers) == 0 {
			ids = append(ids, m.ID)
			if len(ids) == s.cfg.HydrateLimit {
				break
			}
		}
	}
	if len(ids) == 0 {
		return markets
	}

	details := s.deps.Markets.FetchDetails(ctx, ids)
	out := make([]models.Market, len(markets))
	for i, m := range markets {
		if d, ok := details[m.ID]; ok {
			out[i] = s.deps.Normalizer.Market(&d)
			continue
		}
		out[i] = m
	}
	return out
}

// refreshLocked recomputes the visible list, stats and digest. Caller holds mu.
func (s *Session) refreshLocked() {
	visible := monitor.FilterMarkets(s.state.Markets, s.state.Query, s.state.Categories)
	s.deps.Monitor.SortByMovement(visible, s.index)
	s.state.Visible = visible
	s.state.Stats = monitor.Stats(visible)
	if s.current != nil {
		s.state.Digest = s.deps.Monitor.Digest(s.current, s.past, s.state.Categories)
	}
}

// LoadMore fetches the next page and appends unseen markets. It is a no-op
// while a fetch or another load-more is running, or when there are no more pages.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Loading || s.state.LoadingMore || !s.state.HasMore {
		s.mu.Unlock()
		return nil
	}
	tok := Token{Fetch: s.tokens.Fetch}
	offset := s.state.Offset
	fetchQuery := s.state.FetchQuery
	s.state.LoadingMore = true
	s.mu.Unlock()

	raw, err := s.deps.Markets.SearchMarkets(ctx, fetchQuery, offset)
	var page []models.Market
	if err == nil {
		raw = s.deps.Markets.Enrich(ctx, raw, s.cfg.DetailLimit)
		page = s.hydrate(ctx, s.deps.Normalizer.Markets(raw))
	}

	pageSize := s.deps.Markets.PageSize()
	if !s.commit(tok, func() {
		s.state.LoadingMore = false
		if err != nil {
			s.state.Err = fmt.Sprintf("error loading more: %v", err)
			return
		}
		if len(raw) == 0 {
			s.state.HasMore = false
			return
		}
		seen := make(map[string]bool, len(s.state.Markets))
		for _, m := range s.state.Markets {
			seen[m.ID] = true
		}
		for _, m := range page {
			if !seen[m.ID] {
				seen[m.ID] = true
				s.state.Markets = append(s.state.Markets, m)
			}
		}
		s.state.Offset += len(raw)
		s.state.HasMore = len(raw) >= pageSize
		s.refreshLocked()
	}) {
		return ErrSuperseded
	}
	if err != nil {
		return fmt.Errorf("failed to load more markets: %w", err)
	}
	return nil
}

// fillVisible loads more pages while the filtered list is short
func (s *Session) fillVisible(ctx context.Context) {
	for i := 0; i < s.cfg.MaxAutoPages; i++ {
		st := s.State()
		if len(st.Visible) >= s.cfg.MinVisible || !st.HasMore {
			return
		}
		if err := s.LoadMore(ctx); err != nil {
			if !errors.Is(err, ErrSuperseded) {
				logger.Warn("Automatic load-more failed: %v", err)
			}
			return
		}
	}
}

// SetQuery re-filters the loaded markets without touching the network
func (s *Session) SetQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Query = query
	s.refreshLocked()
}

// SetCategories replaces the category filter and recomputes the digest.
// Unknown names are ignored.
func (s *Session) SetCategories(categories []string) []string {
	known := make(map[string]bool)
	for _, name := range s.deps.Normalizer.CategoryNames() {
		known[name] = true
	}
	selected := make([]string, 0, len(categories))
	seen := make(map[string]bool)
	for _, c := range categories {
		if known[c] && !seen[c] {
			seen[c] = true
			selected = append(selected, c)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Categories = selected
	s.refreshLocked()
	return append([]string(nil), selected...)
}

// SetLookback clamps, persists and applies the lookback window. The new
// window takes effect on the next fetch.
func (s *Session) SetLookback(ctx context.Context, days int) (int, error) {
	stored, err := s.deps.Store.SaveLookback(ctx, days)

	s.mu.Lock()
	s.state.LookbackDays = stored
	s.mu.Unlock()

	if err != nil {
		logger.Warn("Failed to persist lookback: %v", err)
		return stored, err
	}
	return stored, nil
}

// GenerateInsights produces insights for the visible markets. The result is
// committed only if both its insight generation and its parent fetch are
// still current and no fetch is in progress.
func (s *Session) GenerateInsights(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Loading {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.tokens.Insight++
	tok := s.tokens
	markets := append([]models.Market(nil), s.state.Visible...)
	s.mu.Unlock()

	if len(markets) == 0 {
		return ErrNoMarkets
	}

	out := insight.Fallback(ctx, s.deps.Insights, markets)

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.Insight != s.tokens.Insight || tok.Fetch != s.tokens.Fetch || s.state.Loading {
		logger.Debug("Insight run %d superseded, discarding %d insights", tok.Insight, len(out))
		return ErrSuperseded
	}
	s.state.Insights = out
	return nil
}

// ClearHistory drops the persisted snapshots and lookback and resets the
// in-memory history.
func (s *Session) ClearHistory(ctx context.Context) error {
	err := s.deps.Store.Clear(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = []models.Snapshot{}
	s.index = history.Index{}
	s.current = nil
	s.past = nil
	s.state.Snapshots = 0
	s.state.LookbackDays = storage.ClampLookback(s.cfg.DefaultLookback)
	s.state.Digest = s.deps.Monitor.Digest(nil, nil, nil)
	return err
}
