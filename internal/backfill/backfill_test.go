package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// fakeSource answers from a per-market function of the target time
type fakeSource struct {
	mu      sync.Mutex
	answers map[string]func(t time.Time) (*float64, error)
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		answers: make(map[string]func(time.Time) (*float64, error)),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) ProbabilityBefore(_ context.Context, id string, t time.Time) (*float64, error) {
	f.mu.Lock()
	f.calls[id]++
	fn := f.answers[id]
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(t)
}

func constant(p float64) func(time.Time) (*float64, error) {
	return func(time.Time) (*float64, error) { return models.Float(p), nil }
}

func TestSingle_ResolvesLookbackPoint(t *testing.T) {
	base := time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC)
	src := newFakeSource()
	var gotTarget time.Time
	src.answers["m"] = func(t time.Time) (*float64, error) {
		gotTarget = t
		return models.Float(0.5), nil
	}
	src.answers["broken"] = func(time.Time) (*float64, error) { return nil, errors.New("timeout") }

	e := New(src, Config{})
	snap := e.Single(context.Background(), []models.Market{
		{ID: "m", Question: "M?", Probability: 0.8, Liquidity: 10},
		{ID: "broken", Question: "B?", Liquidity: 5},
		{ID: "silent", Question: "S?", Liquidity: 1},
	}, 7, base)

	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if !gotTarget.Equal(base.Add(-7 * 24 * time.Hour)) {
		t.Errorf("lookup target = %v", gotTarget)
	}
	if snap.Date != "2024-06-01T12:00:00.000Z" {
		t.Errorf("snapshot date = %s", snap.Date)
	}
	if len(snap.Markets) != 1 {
		t.Fatalf("failed and tradeless markets must be excluded, got %d", len(snap.Markets))
	}
	if p := snap.Markets[0].Probability; p == nil || *p != 0.5 {
		t.Errorf("probability = %v", p)
	}
	if snap.Markets[0].Question != "M?" {
		t.Errorf("observation should carry market metadata")
	}
}

func TestSingle_NothingResolved(t *testing.T) {
	e := New(newFakeSource(), Config{})
	if snap := e.Single(context.Background(), []models.Market{{ID: "a"}}, 7, time.Now()); snap != nil {
		t.Errorf("expected nil, got %+v", snap)
	}
	if snap := e.Single(context.Background(), nil, 7, time.Now()); snap != nil {
		t.Errorf("expected nil for no markets")
	}
}

func TestCandidates_CappedAndRanked(t *testing.T) {
	src := newFakeSource()
	e := New(src, Config{Candidates: 3})

	var markets []models.Market
	for i := 0; i < 10; i++ {
		markets = append(markets, models.Market{ID: fmt.Sprintf("m%d", i), Liquidity: float64(i % 3), Volume: float64(i)})
	}

	got := e.Candidates(markets)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	// Liquidity 2 markets: m2, m5, m8; highest volume first
	want := []string{"m8", "m5", "m2"}
	for i, m := range got {
		if m.ID != want[i] {
			t.Errorf("candidate %d = %s, want %s", i, m.ID, want[i])
		}
	}

	e.Single(context.Background(), markets, 7, time.Now())
	if len(src.calls) != 3 {
		t.Errorf("lookups must be capped to candidates, got %d markets queried", len(src.calls))
	}
}

func TestSeries_ForwardFill(t *testing.T) {
	base := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	twoDaysAgo := base.Add(-48 * time.Hour)

	src := newFakeSource()
	src.answers["steady"] = constant(0.4)
	// Illiquid: traded only before the oldest offset, nothing later
	src.answers["illiquid"] = func(t time.Time) (*float64, error) {
		if t.Equal(twoDaysAgo) {
			return models.Float(0.2), nil
		}
		return nil, nil
	}
	// Only traded recently
	src.answers["fresh"] = func(t time.Time) (*float64, error) {
		if t.Equal(twoDaysAgo) {
			return nil, nil
		}
		return models.Float(0.9), nil
	}

	e := New(src, Config{})
	markets := []models.Market{{ID: "steady"}, {ID: "illiquid"}, {ID: "fresh"}}
	snaps := e.Series(context.Background(), markets, 2, base, 2)

	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Date != models.FormatDate(twoDaysAgo) || snaps[1].Date != models.FormatDate(base.Add(-24*time.Hour)) {
		t.Errorf("unexpected dates %s, %s", snaps[0].Date, snaps[1].Date)
	}
	if snaps[0].Find("fresh") != nil {
		t.Errorf("fresh has no trade and no prior value at the first offset")
	}
	ill := snaps[1].Find("illiquid")
	if ill == nil || *ill.Probability != 0.2 {
		t.Errorf("illiquid should carry forward 0.2, got %+v", ill)
	}
	if f := snaps[1].Find("fresh"); f == nil || *f.Probability != 0.9 {
		t.Errorf("fresh should resolve at the second offset")
	}
}

func TestSeries_PointCount(t *testing.T) {
	base := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	src := newFakeSource()
	src.answers["a"] = constant(0.5)
	e := New(src, Config{})

	tests := []struct {
		lookback, maxPoints, want int
		oldest                    time.Time
	}{
		{1, 2, 1, base.Add(-24 * time.Hour)},
		{7, 2, 2, base.Add(-2 * 24 * time.Hour)},
		{30, 3, 3, base.Add(-3 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		snaps := e.Series(context.Background(), []models.Market{{ID: "a"}}, tt.lookback, base, tt.maxPoints)
		if len(snaps) != tt.want {
			t.Errorf("lookback %d: got %d snapshots, want %d", tt.lookback, len(snaps), tt.want)
			continue
		}
		if snaps[0].Date != models.FormatDate(tt.oldest) {
			t.Errorf("lookback %d: oldest = %s, want %s", tt.lookback, snaps[0].Date, models.FormatDate(tt.oldest))
		}
	}
}

func TestLookupError(t *testing.T) {
	inner := errors.New("boom")
	err := error(LookupError{MarketID: "m", Target: time.Unix(0, 0), Err: inner})
	if !errors.Is(err, inner) {
		t.Error("LookupError should unwrap to its cause")
	}
}
