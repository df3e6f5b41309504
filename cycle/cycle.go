// Package cycle provides billing-cycle key utilities for the VTPT meter
// tracker. A cycle key is a "YYYY-MM" string identifying one billing period.
// All calendar math runs in a fixed IANA timezone so results do not depend
// on where the client or proxy happens to run.
package cycle

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultTimezone is the zone the houses are billed in.
const DefaultTimezone = "Asia/Ho_Chi_Minh"

// Unknown is the sentinel returned for unparsable timestamps. It is not a
// valid key and therefore never matches a real cycle.
const Unknown = "unknown"

// DefaultRolloverDay is the day-of-month from which a reading is attributed
// to the following month's cycle. Field workers record near month-end for
// the upcoming billing period.
const DefaultRolloverDay = 25

var keyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// timestampLayouts are the formats the remote spreadsheet script has been
// observed to emit, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Location resolves an IANA timezone name, falling back to the default zone
// and finally UTC if the zone database is unavailable.
func Location(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}

// MonthKey returns the calendar-month key of t in loc.
func MonthKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01")
}

// MonthKeyFrom parses a timestamp string and returns its calendar-month key
// in loc. Unparsable input returns Unknown.
func MonthKeyFrom(timestamp string, loc *time.Location) string {
	t, err := ParseTimestamp(timestamp)
	if err != nil {
		return Unknown
	}
	return MonthKey(t, loc)
}

// BusinessKey returns the business-cycle key of t in loc: readings taken on
// or after rolloverDay belong to the next calendar month's cycle.
func BusinessKey(t time.Time, loc *time.Location, rolloverDay int) string {
	if loc == nil {
		loc = time.UTC
	}
	if rolloverDay <= 0 {
		rolloverDay = DefaultRolloverDay
	}
	local := t.In(loc)
	key := local.Format("2006-01")
	if local.Day() >= rolloverDay {
		return AddMonths(key, 1)
	}
	return key
}

// defaultLocation is resolved once; Location falls back to UTC only when
// the zone database is missing entirely.
var defaultLocation = Location(DefaultTimezone)

// ParseTimestamp parses the timestamp formats the remote authority emits.
// Zone-less layouts are wall-clock times in the billing zone, not UTC: an
// evening reading on the last day of a month must stay in that month.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, defaultLocation); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

// IsValidKey reports whether s is a well-formed cycle key with a real month.
func IsValidKey(s string) bool {
	if !keyPattern.MatchString(s) {
		return false
	}
	month := int(s[5]-'0')*10 + int(s[6]-'0')
	return month >= 1 && month <= 12
}

// AddMonths performs calendar arithmetic on a cycle key. An invalid key
// falls back to the current month in the default zone; callers that need
// strict validation should check IsValidKey first.
func AddMonths(key string, delta int) string {
	t, err := time.ParseInLocation("2006-01", key, time.UTC)
	if err != nil || !IsValidKey(key) {
		return MonthKey(time.Now(), Location(""))
	}
	return t.AddDate(0, delta, 0).Format("2006-01")
}

// Next returns the key of the month after key. Used by the admin approve
// path to advance the active cycle.
func Next(key string) string {
	return AddMonths(key, 1)
}
