package remote

import (
	"encoding/json"
)

// Actions understood by the remote spreadsheet script.
const (
	ActionLatest       = "latest"
	ActionHistory      = "history"
	ActionHouseLatest  = "houseLatest"
	ActionHouseHistory = "houseHistory"
	ActionCycleGet     = "cycleGet"
	ActionCycleList    = "cycleList"
	ActionLog          = "log"
	ActionSave         = "save"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionCycleSet     = "cycleSet"
)

// request is the wire shape of every call to the script: one action name
// plus its parameters, with the caller PIN on mutating actions.
type request struct {
	Action string `json:"action"`
	PIN    string `json:"pin,omitempty"`

	Room  string `json:"room,omitempty"`
	House string `json:"house,omitempty"`
	Limit int    `json:"limit,omitempty"`

	Dien   *float64 `json:"dien,omitempty"`
	Nuoc   *float64 `json:"nuoc,omitempty"`
	Note   string   `json:"note,omitempty"`
	Status string   `json:"status,omitempty"`
	Date   string   `json:"date,omitempty"`

	Cycle  string  `json:"cycle,omitempty"`
	Target *Target `json:"target,omitempty"`
}

// envelope is the JSON envelope every response arrives in.
type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Target identifies an existing reading for update and delete actions.
type Target struct {
	ID   int64  `json:"id"`
	Date string `json:"date"`
}

// LogEntry is one row of the raw activity log the script keeps per room.
type LogEntry struct {
	At     string `json:"at"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Room   string `json:"room"`
	Detail string `json:"detail,omitempty"`
}
