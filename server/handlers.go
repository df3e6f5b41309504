package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/remote"
)

// apiResponse mirrors the upstream envelope so front-ends see one shape
// whether an error came from the proxy or the script.
type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{OK: false, Error: msg})
}

// writeUpstreamError maps a failure to the proxy's status codes: client
// mistakes are 400, upstream trouble is 502, local misconfiguration is 500.
func writeUpstreamError(w http.ResponseWriter, err error) {
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidationFailure:
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.ErrCodeAuthFailure:
		writeError(w, http.StatusForbidden, err.Error())
	case errors.ErrCodeConfigFailure:
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.ErrCodeNetworkFailure:
		writeError(w, http.StatusBadGateway, "upstream request failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// limitParam parses ?limit= with a sane default.
func limitParam(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

const defaultHistoryLimit = 24

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRoomLatest(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	reading, err := s.backend.Latest(r.Context(), room)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, reading)
}

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	history, err := s.backend.History(r.Context(), room, limitParam(r, defaultHistoryLimit))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, history)
}

func (s *Server) handleRoomLog(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	entries, err := s.backend.ActivityLog(r.Context(), room, limitParam(r, 50))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, entries)
}

func (s *Server) handleHouseLatest(w http.ResponseWriter, r *http.Request) {
	house := mux.Vars(r)["house"]
	latest, err := s.backend.HouseLatest(r.Context(), house)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, latest)
}

func (s *Server) handleHouseHistory(w http.ResponseWriter, r *http.Request) {
	house := mux.Vars(r)["house"]
	histories, err := s.backend.HouseHistory(r.Context(), house, limitParam(r, defaultHistoryLimit))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, histories)
}

func (s *Server) handleCycleGet(w http.ResponseWriter, r *http.Request) {
	key, err := s.backend.CurrentCycle(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, map[string]string{"cycle": key})
}

func (s *Server) handleCycleList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.backend.Cycles(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, keys)
}

// readingRequest is the mutation body for save, update, and delete.
type readingRequest struct {
	Room   string         `json:"room"`
	Date   string         `json:"date,omitempty"`
	Dien   *float64       `json:"dien,omitempty"`
	Nuoc   *float64       `json:"nuoc,omitempty"`
	Note   string         `json:"note,omitempty"`
	Status meter.Status   `json:"status,omitempty"`
	Target *remote.Target `json:"target,omitempty"`
}

func decodeReading(w http.ResponseWriter, r *http.Request) (readingRequest, bool) {
	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return readingRequest{}, false
	}
	return req, true
}

func (req readingRequest) reading() meter.Reading {
	return meter.Reading{
		Room:   req.Room,
		Date:   req.Date,
		Dien:   req.Dien,
		Nuoc:   req.Nuoc,
		Note:   req.Note,
		Status: req.Status,
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReading(w, r)
	if !ok {
		return
	}
	saved, err := s.backend.Save(r.Context(), pinFrom(r), req.reading())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, saved)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReading(w, r)
	if !ok {
		return
	}
	if req.Target == nil {
		writeError(w, http.StatusBadRequest, "update requires a target")
		return
	}
	updated, err := s.backend.Update(r.Context(), pinFrom(r), req.reading(), *req.Target)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeReading(w, r)
	if !ok {
		return
	}
	if req.Target == nil {
		writeError(w, http.StatusBadRequest, "delete requires a target")
		return
	}
	if err := s.backend.Delete(r.Context(), pinFrom(r), req.Room, *req.Target); err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, map[string]bool{"deleted": true})
}

type cycleRequest struct {
	Cycle string `json:"cycle"`
}

func (s *Server) handleCycleSet(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.backend.SetCycle(r.Context(), pinFrom(r), req.Cycle); err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, map[string]string{"cycle": req.Cycle})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	current, err := s.backend.CurrentCycle(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	next, err := s.backend.Approve(r.Context(), pinFrom(r), current)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeOK(w, map[string]string{"cycle": next})
}
