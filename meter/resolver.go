package meter

import (
	"sort"
	"time"

	"github.com/vtpt/vtpt-meter/cycle"
)

// EffectiveCycle returns the cycle key a reading belongs to. The
// server-stamped Cycle field is authoritative; the calendar month of the
// reading date is the fallback for legacy rows that predate cycle stamping.
// Unparsable dates yield the sentinel key, which matches nothing.
func EffectiveCycle(r Reading, loc *time.Location) string {
	if cycle.IsValidKey(r.Cycle) {
		return r.Cycle
	}
	return cycle.MonthKeyFrom(r.Date, loc)
}

// SortNewestFirst orders history by reading date descending. Ties and
// unparsable dates are broken by ID descending so the order is
// deterministic regardless of input order.
func SortNewestFirst(history []Reading) {
	sort.SliceStable(history, func(i, j int) bool {
		ti, erri := cycle.ParseTimestamp(history[i].Date)
		tj, errj := cycle.ParseTimestamp(history[j].Date)
		switch {
		case erri == nil && errj == nil:
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
		case erri == nil:
			return true
		case errj == nil:
			return false
		}
		return history[i].ID > history[j].ID
	})
}

// ResolveCurrent returns the newest reading in history whose effective cycle
// equals cycleKey, or nil when the room has nothing recorded for that cycle.
// Callers must render placeholders for nil, never stale data from a previous
// cycle. A missing or invalid cycleKey resolves to nil unconditionally;
// choosing a fallback cycle is the caller's decision, not this layer's.
func ResolveCurrent(history []Reading, cycleKey string, loc *time.Location) *Reading {
	if !cycle.IsValidKey(cycleKey) {
		return nil
	}

	sorted := make([]Reading, len(history))
	copy(sorted, history)
	SortNewestFirst(sorted)

	for i := range sorted {
		if EffectiveCycle(sorted[i], loc) == cycleKey {
			return &sorted[i]
		}
	}
	return nil
}
