package meter

import (
	"testing"
	"time"

	"github.com/vtpt/vtpt-meter/cycle"
)

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(cycle.DefaultTimezone)
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}
	return loc
}

func TestEffectiveCycle_StampWins(t *testing.T) {
	loc := testLocation(t)
	r := Reading{Date: "2026-03-28T10:00:00+07:00", Cycle: "2026-04"}
	if got := EffectiveCycle(r, loc); got != "2026-04" {
		t.Fatalf("expected stamped cycle 2026-04, got %s", got)
	}
}

func TestEffectiveCycle_CalendarFallback(t *testing.T) {
	loc := testLocation(t)
	r := Reading{Date: "2026-03-28T10:00:00+07:00"}
	if got := EffectiveCycle(r, loc); got != "2026-03" {
		t.Fatalf("expected calendar fallback 2026-03, got %s", got)
	}

	// Invalid stamps also fall back.
	r.Cycle = "march-2026"
	if got := EffectiveCycle(r, loc); got != "2026-03" {
		t.Fatalf("expected calendar fallback for invalid stamp, got %s", got)
	}
}

func TestEffectiveCycle_UnparsableDate(t *testing.T) {
	loc := testLocation(t)
	r := Reading{Date: "???"}
	if got := EffectiveCycle(r, loc); got != cycle.Unknown {
		t.Fatalf("expected sentinel, got %s", got)
	}
}

func TestResolveCurrent_PicksNewestMatch(t *testing.T) {
	loc := testLocation(t)
	history := []Reading{
		{ID: 1, Room: "A1-01", Date: "2026-03-02T08:00:00+07:00", Cycle: "2026-03"},
		{ID: 3, Room: "A1-01", Date: "2026-03-20T08:00:00+07:00", Cycle: "2026-03"},
		{ID: 2, Room: "A1-01", Date: "2026-02-25T08:00:00+07:00", Cycle: "2026-02"},
	}

	got := ResolveCurrent(history, "2026-03", loc)
	if got == nil {
		t.Fatal("expected a reading for 2026-03")
	}
	if got.ID != 3 {
		t.Fatalf("expected newest matching reading (id 3), got id %d", got.ID)
	}
}

func TestResolveCurrent_NoMatchReturnsNil(t *testing.T) {
	loc := testLocation(t)
	history := []Reading{
		{ID: 1, Date: "2026-02-25T08:00:00+07:00", Cycle: "2026-02"},
	}
	if got := ResolveCurrent(history, "2026-03", loc); got != nil {
		t.Fatalf("expected nil for empty cycle, got id %d", got.ID)
	}
}

func TestResolveCurrent_InvalidKeyReturnsNil(t *testing.T) {
	loc := testLocation(t)
	history := []Reading{
		{ID: 1, Date: "2026-03-02T08:00:00+07:00", Cycle: "2026-03"},
	}
	for _, bad := range []string{"", "2026-3", cycle.Unknown} {
		if got := ResolveCurrent(history, bad, loc); got != nil {
			t.Fatalf("expected nil for key %q, got id %d", bad, got.ID)
		}
	}
}

func TestResolveCurrent_DoesNotMutateInput(t *testing.T) {
	loc := testLocation(t)
	history := []Reading{
		{ID: 1, Date: "2026-03-02T08:00:00+07:00"},
		{ID: 2, Date: "2026-03-20T08:00:00+07:00"},
	}
	_ = ResolveCurrent(history, "2026-03", loc)
	if history[0].ID != 1 || history[1].ID != 2 {
		t.Fatal("input slice order was mutated")
	}
}

func TestSortNewestFirst_Deterministic(t *testing.T) {
	history := []Reading{
		{ID: 5, Date: "not-a-date"},
		{ID: 2, Date: "2026-03-10T08:00:00+07:00"},
		{ID: 7, Date: "2026-03-10T08:00:00+07:00"},
		{ID: 9, Date: "2026-03-12T08:00:00+07:00"},
	}
	SortNewestFirst(history)

	wantOrder := []int64{9, 7, 2, 5}
	for i, want := range wantOrder {
		if history[i].ID != want {
			t.Fatalf("position %d: expected id %d, got %d", i, want, history[i].ID)
		}
	}
}
