// Package history reduces snapshot collections into per-market probability series.
// The index is derived on every fetch cycle and never persisted.
package history

import (
	"sort"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// Index maps market id to its time-ordered probability series
type Index map[string][]models.Point

// Build accumulates one point per snapshot for every observation carrying a
// probability, then sorts each series by time. Markets missing from a snapshot
// get no point for it.
func Build(snapshots []models.Snapshot) Index {
	index := make(Index)
	for _, snap := range snapshots {
		ts, err := snap.Time()
		if err != nil {
			continue
		}
		for _, obs := range snap.Markets {
			if obs.ID == "" || obs.Probability == nil {
				continue
			}
			index[obs.ID] = append(index[obs.ID], models.Point{Timestamp: ts, Probability: *obs.Probability})
		}
	}

	for _, series := range index {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}
	return index
}

// Series returns the series for a market, or nil
func (idx Index) Series(id string) []models.Point {
	return idx[id]
}

// Len is the number of markets with at least one point
func (idx Index) Len() int {
	return len(idx)
}
