// Package meter defines the meter reading data model and the cycle
// resolution rules used across the tracker.
package meter

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vtpt/vtpt-meter/cycle"
	"github.com/vtpt/vtpt-meter/errors"
)

// Status marks whether a reading still needs attention. It replaces the
// older convention of tagging the free-text note with the word "resolved".
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// legacyResolvedToken is the note marker older spreadsheet rows carry.
const legacyResolvedToken = "resolved"

// Reading is one meter record for one room. Dien (electricity) and Nuoc
// (water) are nullable: a worker may record only one of the two meters.
type Reading struct {
	// ID is the server-assigned row identifier. Negative values are
	// client-synthesized placeholders awaiting server acknowledgement.
	ID int64 `json:"id"`

	Room string `json:"room"`

	// Date is the ISO-8601 timestamp the reading was recorded at. Kept as a
	// string because the remote spreadsheet script emits several layouts.
	Date string `json:"date"`

	Dien *float64 `json:"dien"`
	Nuoc *float64 `json:"nuoc"`

	Note   string `json:"note,omitempty"`
	Status Status `json:"status,omitempty"`

	// Cycle is the business-cycle key stamped by the server. Readings
	// without it have their cycle derived from Date.
	Cycle string `json:"cycle,omitempty"`
}

var localSeq atomic.Int64

// NewLocalID returns a synthetic negative identifier for a reading that has
// not been acknowledged by the server yet. Unique within one process.
func NewLocalID() int64 {
	return -(time.Now().UnixMilli() + localSeq.Add(1))
}

// IsLocal reports whether id is a client-synthesized placeholder.
func IsLocal(id int64) bool {
	return id < 0
}

// StatusFromNote normalizes the legacy note convention: any note containing
// the case-insensitive token "resolved" marks the reading resolved.
func StatusFromNote(note string) Status {
	if strings.Contains(strings.ToLower(note), legacyResolvedToken) {
		return StatusResolved
	}
	return StatusOpen
}

// Normalize fills derived fields on rows coming from the remote authority:
// legacy rows carry the resolution flag only in the note text.
func (r *Reading) Normalize() {
	if r.Status == "" {
		r.Status = StatusFromNote(r.Note)
	}
}

// Validate checks a reading before it is queued for delivery. Validation
// failures are rejected before any network call and surfaced inline.
func Validate(r Reading) error {
	if strings.TrimSpace(r.Room) == "" {
		return errors.NewValidationError(errors.OpSave, fmt.Errorf("room is required"))
	}
	if r.Dien == nil && r.Nuoc == nil {
		return errors.NewValidationError(errors.OpSave, fmt.Errorf("at least one meter value is required"))
	}
	if r.Dien != nil && *r.Dien < 0 {
		return errors.NewValidationError(errors.OpSave, fmt.Errorf("electric meter value must not be negative"))
	}
	if r.Nuoc != nil && *r.Nuoc < 0 {
		return errors.NewValidationError(errors.OpSave, fmt.Errorf("water meter value must not be negative"))
	}
	if _, err := cycle.ParseTimestamp(r.Date); err != nil {
		return errors.NewValidationError(errors.OpSave, fmt.Errorf("invalid reading date %q", r.Date))
	}
	return nil
}

// Float returns a pointer to v, for building nullable meter values.
func Float(v float64) *float64 {
	return &v
}
