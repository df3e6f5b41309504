package cache

import (
	"time"

	"github.com/vtpt/vtpt-meter/meter"
)

// MaxHistoryLength caps how many readings are retained per room. Two years
// of monthly cycles is plenty for the usage views.
const MaxHistoryLength = 24

// UpsertHistory merges r into a room's history list: the existing entry for
// the same effective cycle is replaced (one reading per cycle, not append),
// otherwise r is inserted. The result is sorted newest-first and capped at
// MaxHistoryLength. The input slice is not modified.
func UpsertHistory(history []meter.Reading, r meter.Reading, loc *time.Location) []meter.Reading {
	targetCycle := meter.EffectiveCycle(r, loc)

	merged := make([]meter.Reading, 0, len(history)+1)
	replaced := false
	for _, existing := range history {
		if !replaced && meter.EffectiveCycle(existing, loc) == targetCycle {
			merged = append(merged, r)
			replaced = true
			continue
		}
		merged = append(merged, existing)
	}
	if !replaced {
		merged = append(merged, r)
	}

	meter.SortNewestFirst(merged)
	if len(merged) > MaxHistoryLength {
		merged = merged[:MaxHistoryLength]
	}
	return merged
}

// RemoveFromHistory drops the reading identified by (id, date) from a
// room's history list, if present.
func RemoveFromHistory(history []meter.Reading, id int64, date string) []meter.Reading {
	out := make([]meter.Reading, 0, len(history))
	for _, existing := range history {
		if existing.ID == id && existing.Date == date {
			continue
		}
		out = append(out, existing)
	}
	return out
}
