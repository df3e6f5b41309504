package cycle

import (
	"fmt"
	"testing"
	"time"
)

func mustLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		t.Fatalf("failed to load default timezone: %v", err)
	}
	return loc
}

func TestMonthKey_FixedZone(t *testing.T) {
	loc := mustLocation(t)

	// 2026-02-28 18:30 UTC is already 2026-03-01 01:30 in Ho Chi Minh City.
	ts := time.Date(2026, 2, 28, 18, 30, 0, 0, time.UTC)
	if got := MonthKey(ts, loc); got != "2026-03" {
		t.Fatalf("expected 2026-03, got %s", got)
	}
	if got := MonthKey(ts, time.UTC); got != "2026-02" {
		t.Fatalf("expected 2026-02 in UTC, got %s", got)
	}
}

func TestParseTimestamp_ZonelessIsWallClock(t *testing.T) {
	loc := mustLocation(t)

	// Zone-less timestamps from the script are local wall-clock times: an
	// evening reading on the last day of February must stay in February.
	for _, ts := range []string{
		"2026-02-28 20:00:00",
		"2026-02-28T20:00:00",
		"2026-02-28",
	} {
		if got := MonthKeyFrom(ts, loc); got != "2026-02" {
			t.Fatalf("MonthKeyFrom(%q) = %s, want 2026-02", ts, got)
		}
		parsed, err := ParseTimestamp(ts)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) failed: %v", ts, err)
		}
		if parsed.Location().String() != DefaultTimezone {
			t.Fatalf("ParseTimestamp(%q) parsed in %s, want %s", ts, parsed.Location(), DefaultTimezone)
		}
	}

	// An explicit offset in the timestamp still wins.
	parsed, err := ParseTimestamp("2026-02-28T20:00:00Z")
	if err != nil {
		t.Fatalf("ParseTimestamp failed: %v", err)
	}
	if got := MonthKey(parsed, loc); got != "2026-03" {
		t.Fatalf("UTC evening is already March in the billing zone, got %s", got)
	}
}

func TestMonthKeyFrom_Unparsable(t *testing.T) {
	loc := mustLocation(t)
	for _, bad := range []string{"", "not-a-date", "31/02/2026", "yesterday"} {
		if got := MonthKeyFrom(bad, loc); got != Unknown {
			t.Fatalf("MonthKeyFrom(%q) = %s, want sentinel", bad, got)
		}
	}
	if IsValidKey(Unknown) {
		t.Fatal("sentinel must never be a valid key")
	}
}

func TestBusinessKey_RolloverBoundary(t *testing.T) {
	loc := mustLocation(t)
	const rollover = 25

	before := time.Date(2026, 3, 24, 9, 0, 0, 0, loc)
	if got := BusinessKey(before, loc, rollover); got != "2026-03" {
		t.Fatalf("day before rollover: expected 2026-03, got %s", got)
	}

	at := time.Date(2026, 3, 25, 9, 0, 0, 0, loc)
	if got := BusinessKey(at, loc, rollover); got != "2026-04" {
		t.Fatalf("rollover day: expected 2026-04, got %s", got)
	}
}

func TestBusinessKey_DecemberRollsIntoNextYear(t *testing.T) {
	loc := mustLocation(t)
	ts := time.Date(2025, 12, 28, 9, 0, 0, 0, loc)
	if got := BusinessKey(ts, loc, 25); got != "2026-01" {
		t.Fatalf("expected 2026-01, got %s", got)
	}
}

func TestIsValidKey(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2026-03", true},
		{"2026-12", true},
		{"2026-01", true},
		{"2026-00", false},
		{"2026-13", false},
		{"2026-3", false},
		{"26-03", false},
		{"2026-03-01", false},
		{Unknown, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidKey(tt.in); got != tt.want {
			t.Errorf("IsValidKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAddMonths_RoundTrip(t *testing.T) {
	for year := 2024; year <= 2027; year++ {
		for month := 1; month <= 12; month++ {
			key := fmt.Sprintf("%04d-%02d", year, month)
			if got := AddMonths(AddMonths(key, 1), -1); got != key {
				t.Fatalf("round trip failed for %s: got %s", key, got)
			}
		}
	}
}

func TestAddMonths_YearBoundaries(t *testing.T) {
	if got := AddMonths("2026-12", 1); got != "2027-01" {
		t.Fatalf("expected 2027-01, got %s", got)
	}
	if got := AddMonths("2026-01", -1); got != "2025-12" {
		t.Fatalf("expected 2025-12, got %s", got)
	}
	if got := AddMonths("2026-03", 14); got != "2027-05" {
		t.Fatalf("expected 2027-05, got %s", got)
	}
}

func TestAddMonths_InvalidFallsBackToCurrentMonth(t *testing.T) {
	want := MonthKey(time.Now(), Location(""))
	for _, bad := range []string{"", "garbage", "2026-13"} {
		if got := AddMonths(bad, 1); got != want {
			t.Fatalf("AddMonths(%q) = %s, want current month %s", bad, got, want)
		}
	}
}

func TestNext(t *testing.T) {
	if got := Next("2026-03"); got != "2026-04" {
		t.Fatalf("expected 2026-04, got %s", got)
	}
}
