// Package storage persists the snapshot collection and the lookback setting
// through a kv.Store, and provides the pure merge/prune/lookup operations the
// fetch cycle applies to snapshot collections.
//
// Reads degrade: a missing or corrupt collection loads as empty. Writes return
// an error for the caller to log; the in-memory collection stays authoritative
// for the current session either way.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rewired-gh/marketpulse/internal/kv"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
)

const (
	// SnapshotsKey holds the JSON array of snapshots
	SnapshotsKey = "market_snapshots_v1"
	// LookbackKey holds the lookback window in days
	LookbackKey = "lookback_days"

	DefaultMaxSnapshots = 120
	DefaultLookbackDays = 7
	MinLookbackDays     = 1
	MaxLookbackDays     = 365

	day = 24 * time.Hour
)

// Storage persists snapshots and the lookback setting. The in-memory
// collection is authoritative once loaded; the key-value store is written
// through on every commit and read only on first use.
type Storage struct {
	kv           kv.Store
	maxSnapshots int

	mu        sync.Mutex
	snapshots []models.Snapshot
	loaded    bool
}

// New creates a Storage over the given key-value store
func New(store kv.Store, maxSnapshots int) *Storage {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}
	return &Storage{kv: store, maxSnapshots: maxSnapshots}
}

// MaxSnapshots returns the retention limit
func (s *Storage) MaxSnapshots() int {
	return s.maxSnapshots
}

// LoadSnapshots returns a copy of the collection. The first call reads the
// store and degrades to an empty collection when it is missing, unreadable
// or corrupt.
func (s *Storage) LoadSnapshots(ctx context.Context) []models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return clone(s.loadLocked(ctx))
}

func (s *Storage) loadLocked(ctx context.Context) []models.Snapshot {
	if s.loaded {
		return s.snapshots
	}
	s.loaded = true
	s.snapshots = []models.Snapshot{}

	data, err := s.kv.Get(ctx, SnapshotsKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logger.Warn("Failed to read snapshots, starting empty: %v", err)
		}
		return s.snapshots
	}

	var snapshots []models.Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		logger.Warn("Stored snapshots are corrupt, starting empty: %v", err)
		return s.snapshots
	}
	if snapshots != nil {
		s.snapshots = snapshots
	}
	return s.snapshots
}

// SaveSnapshots replaces the collection and persists it. The in-memory
// collection is replaced even when the write fails.
func (s *Storage) SaveSnapshots(ctx context.Context, snapshots []models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(ctx, clone(snapshots))
}

func (s *Storage) saveLocked(ctx context.Context, snapshots []models.Snapshot) error {
	if snapshots == nil {
		snapshots = []models.Snapshot{}
	}
	s.snapshots = snapshots
	s.loaded = true

	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshots: %w", err)
	}
	if err := s.kv.Set(ctx, SnapshotsKey, data); err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	return nil
}

// Commit merges incoming into the collection, prunes, and saves, all under
// one lock so concurrent commits never drop each other's snapshots. The
// pruned collection is kept and returned even when the save fails.
func (s *Storage) Commit(ctx context.Context, incoming ...models.Snapshot) ([]models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := Prune(Merge(s.loadLocked(ctx), incoming), s.maxSnapshots)
	err := s.saveLocked(ctx, merged)
	return clone(merged), err
}

// LoadLookback returns the persisted lookback in days, clamped, or the default
func (s *Storage) LoadLookback(ctx context.Context, def int) int {
	data, err := s.kv.Get(ctx, LookbackKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logger.Warn("Failed to read lookback, using default: %v", err)
		}
		return ClampLookback(def)
	}
	days, err := strconv.Atoi(string(data))
	if err != nil {
		return ClampLookback(def)
	}
	return ClampLookback(days)
}

// SaveLookback clamps and persists the lookback in days, returning the stored value
func (s *Storage) SaveLookback(ctx context.Context, days int) (int, error) {
	days = ClampLookback(days)
	if err := s.kv.Set(ctx, LookbackKey, []byte(strconv.Itoa(days))); err != nil {
		return days, fmt.Errorf("failed to save lookback: %w", err)
	}
	return days, nil
}

// Clear removes the persisted collection and lookback
func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = []models.Snapshot{}
	s.loaded = true

	if err := s.kv.Delete(ctx, SnapshotsKey); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	if err := s.kv.Delete(ctx, LookbackKey); err != nil {
		return fmt.Errorf("failed to clear lookback: %w", err)
	}
	return nil
}

func clone(snapshots []models.Snapshot) []models.Snapshot {
	out := make([]models.Snapshot, len(snapshots))
	copy(out, snapshots)
	return out
}

// ClampLookback bounds days to [1, 365]; zero or negative selects the minimum
func ClampLookback(days int) int {
	if days < MinLookbackDays {
		return MinLookbackDays
	}
	if days > MaxLookbackDays {
		return MaxLookbackDays
	}
	return days
}

// LookbackTarget returns base minus the lookback window
func LookbackTarget(base time.Time, days int) time.Time {
	return base.Add(-time.Duration(days) * day)
}

// Merge combines snapshot collections keyed by date. A later entry with the
// same date replaces an earlier one in place. Snapshots without a date are dropped.
func Merge(existing, incoming []models.Snapshot) []models.Snapshot {
	index := make(map[string]int, len(existing)+len(incoming))
	out := make([]models.Snapshot, 0, len(existing)+len(incoming))

	add := func(snap models.Snapshot) {
		if snap.Date == "" {
			return
		}
		if i, ok := index[snap.Date]; ok {
			out[i] = snap
			return
		}
		index[snap.Date] = len(out)
		out = append(out, snap)
	}
	for _, snap := range existing {
		add(snap)
	}
	for _, snap := range incoming {
		add(snap)
	}
	return out
}

// Prune dedupes by date, drops entries without a market list or with an
// unparseable date, sorts ascending by time and keeps the newest maxCount.
func Prune(snapshots []models.Snapshot, maxCount int) []models.Snapshot {
	if maxCount <= 0 {
		maxCount = DefaultMaxSnapshots
	}

	type dated struct {
		snap models.Snapshot
		ts   time.Time
	}
	unique := Merge(nil, snapshots)
	items := make([]dated, 0, len(unique))
	for _, snap := range unique {
		if snap.Markets == nil {
			continue
		}
		ts, err := snap.Time()
		if err != nil {
			logger.Debug("Dropping snapshot with unparseable date %q", snap.Date)
			continue
		}
		items = append(items, dated{snap: snap, ts: ts})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ts.Before(items[j].ts)
	})

	if len(items) > maxCount {
		items = items[len(items)-maxCount:]
	}

	out := make([]models.Snapshot, len(items))
	for i, it := range items {
		out[i] = it.snap
	}
	return out
}

// Since returns the snapshots taken at or after target, ascending
func Since(snapshots []models.Snapshot, target time.Time) []models.Snapshot {
	var out []models.Snapshot
	for _, snap := range snapshots {
		ts, err := snap.Time()
		if err != nil {
			continue
		}
		if !ts.Before(target) {
			out = append(out, snap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].Time()
		b, _ := out[j].Time()
		return a.Before(b)
	})
	return out
}

// ClosestOnDay returns the snapshot on target's calendar day (in target's
// location) nearest in time to target, or nil.
func ClosestOnDay(snapshots []models.Snapshot, target time.Time) *models.Snapshot {
	ty, tm, td := target.Date()
	var best *models.Snapshot
	bestDist := math.MaxFloat64

	for i := range snapshots {
		ts, err := snapshots[i].Time()
		if err != nil {
			continue
		}
		y, m, d := ts.In(target.Location()).Date()
		if y != ty || m != tm || d != td {
			continue
		}
		dist := math.Abs(float64(ts.Sub(target)))
		if dist < bestDist {
			bestDist = dist
			best = &snapshots[i]
		}
	}
	return best
}

// Closest returns the latest snapshot at or before target, or nil
func Closest(snapshots []models.Snapshot, target time.Time) *models.Snapshot {
	var best *models.Snapshot
	var bestTs time.Time

	for i := range snapshots {
		ts, err := snapshots[i].Time()
		if err != nil || ts.After(target) {
			continue
		}
		if best == nil || ts.After(bestTs) {
			best = &snapshots[i]
			bestTs = ts
		}
	}
	return best
}

// Contains reports whether a snapshot with the given date is present
func Contains(snapshots []models.Snapshot, date string) bool {
	for _, snap := range snapshots {
		if snap.Date == date {
			return true
		}
	}
	return false
}
