// Package remote implements the HTTP client for the spreadsheet-backed
// script that owns durable truth. Every response is a JSON envelope
// {ok, data?, error?}; non-ok envelopes, HTTP-layer errors and malformed
// JSON are all the same retryable failure as far as callers are concerned.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vtpt/vtpt-meter/cycle"
	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/logging"
	"github.com/vtpt/vtpt-meter/meter"
)

// DefaultTimeout bounds every call to the remote authority. Timeouts are
// normal retryable failures, not fatal errors.
const DefaultTimeout = 12 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20 // 4MB

// Client talks to the remote authority.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *logging.Logger
}

// Option configures a Client using the functional options pattern
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithToken sets the shared secret sent as a bearer token. The deployed
// script rejects calls without it.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets a custom logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the script at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  logging.WithComponent(logging.Component("remote")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call issues one action against the script and decodes the envelope data
// into out (when out is non-nil).
func (c *Client) call(ctx context.Context, op errors.Operation, req request, out interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.NewWithComponent(op, "remote", fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return errors.NewWithComponent(op, "remote", fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("remote call failed",
			slog.String("action", req.Action),
			slog.String("error", err.Error()))
		return errors.NewNetworkError(op, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.NewNetworkError(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("remote call returned error status",
			slog.String("action", req.Action),
			slog.Int("status_code", resp.StatusCode))
		return errors.NewNetworkError(op, fmt.Errorf("server error (status %d): %s", resp.StatusCode, body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.NewNetworkError(op, fmt.Errorf("malformed response: %w", err))
	}
	if !env.OK {
		return errors.NewNetworkError(op, fmt.Errorf("remote rejected %s: %s", req.Action, env.Error))
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.NewNetworkError(op, fmt.Errorf("malformed response data: %w", err))
		}
	}
	return nil
}

// Latest fetches the most recent reading for one room. A room with no
// readings at all returns nil.
func (c *Client) Latest(ctx context.Context, room string) (*meter.Reading, error) {
	var reading *meter.Reading
	err := c.call(ctx, errors.OpFetch, request{Action: ActionLatest, Room: room}, &reading)
	if err != nil {
		return nil, err
	}
	if reading != nil {
		reading.Normalize()
	}
	return reading, nil
}

// History fetches up to limit readings for one room, newest first.
func (c *Client) History(ctx context.Context, room string, limit int) ([]meter.Reading, error) {
	var history []meter.Reading
	err := c.call(ctx, errors.OpFetch, request{Action: ActionHistory, Room: room, Limit: limit}, &history)
	if err != nil {
		return nil, err
	}
	for i := range history {
		history[i].Normalize()
	}
	meter.SortNewestFirst(history)
	return history, nil
}

// HouseLatest fetches the latest reading per room for a whole house.
func (c *Client) HouseLatest(ctx context.Context, house string) (map[string]meter.Reading, error) {
	var latest map[string]meter.Reading
	err := c.call(ctx, errors.OpFetch, request{Action: ActionHouseLatest, House: house}, &latest)
	if err != nil {
		return nil, err
	}
	for room, r := range latest {
		r.Normalize()
		latest[room] = r
	}
	return latest, nil
}

// HouseHistory fetches bounded per-room history for a whole house.
func (c *Client) HouseHistory(ctx context.Context, house string, limit int) (map[string][]meter.Reading, error) {
	var histories map[string][]meter.Reading
	err := c.call(ctx, errors.OpFetch, request{Action: ActionHouseHistory, House: house, Limit: limit}, &histories)
	if err != nil {
		return nil, err
	}
	for room, history := range histories {
		for i := range history {
			history[i].Normalize()
		}
		meter.SortNewestFirst(history)
		histories[room] = history
	}
	return histories, nil
}

// CurrentCycle fetches the active billing cycle key.
func (c *Client) CurrentCycle(ctx context.Context) (string, error) {
	var key string
	if err := c.call(ctx, errors.OpFetch, request{Action: ActionCycleGet}, &key); err != nil {
		return "", err
	}
	if !cycle.IsValidKey(key) {
		return "", errors.NewNetworkError(errors.OpFetch, fmt.Errorf("remote returned invalid cycle key %q", key))
	}
	return key, nil
}

// Cycles fetches the list of cycle keys the script knows about.
func (c *Client) Cycles(ctx context.Context) ([]string, error) {
	var keys []string
	if err := c.call(ctx, errors.OpFetch, request{Action: ActionCycleList}, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// ActivityLog fetches up to limit raw activity log rows for one room.
func (c *Client) ActivityLog(ctx context.Context, room string, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := c.call(ctx, errors.OpFetch, request{Action: ActionLog, Room: room, Limit: limit}, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Save creates a reading and returns the server-acknowledged row, with the
// real id and cycle stamp assigned by the script.
func (c *Client) Save(ctx context.Context, pin string, r meter.Reading) (*meter.Reading, error) {
	var saved meter.Reading
	req := request{
		Action: ActionSave,
		PIN:    pin,
		Room:   r.Room,
		Date:   r.Date,
		Dien:   r.Dien,
		Nuoc:   r.Nuoc,
		Note:   r.Note,
		Status: string(r.Status),
	}
	if err := c.call(ctx, errors.OpSave, req, &saved); err != nil {
		return nil, err
	}
	saved.Normalize()
	return &saved, nil
}

// Update modifies the existing reading identified by target.
func (c *Client) Update(ctx context.Context, pin string, r meter.Reading, target Target) (*meter.Reading, error) {
	var updated meter.Reading
	req := request{
		Action: ActionUpdate,
		PIN:    pin,
		Room:   r.Room,
		Date:   r.Date,
		Dien:   r.Dien,
		Nuoc:   r.Nuoc,
		Note:   r.Note,
		Status: string(r.Status),
		Target: &target,
	}
	if err := c.call(ctx, errors.OpUpdate, req, &updated); err != nil {
		return nil, err
	}
	updated.Normalize()
	return &updated, nil
}

// Delete removes the reading identified by target. Re-sending a delete the
// script already applied is a no-op on its side; the caller treats success
// and already-gone identically.
func (c *Client) Delete(ctx context.Context, pin string, room string, target Target) error {
	req := request{
		Action: ActionDelete,
		PIN:    pin,
		Room:   room,
		Target: &target,
	}
	return c.call(ctx, errors.OpDelete, req, nil)
}

// SetCycle sets the active cycle key to an explicit value. Admin only; the
// caller is responsible for checking the identity before issuing this.
func (c *Client) SetCycle(ctx context.Context, pin string, key string) error {
	if !cycle.IsValidKey(key) {
		return errors.NewValidationError(errors.OpCycleSet, fmt.Errorf("invalid cycle key %q", key))
	}
	return c.call(ctx, errors.OpCycleSet, request{Action: ActionCycleSet, PIN: pin, Cycle: key}, nil)
}

// Approve advances the active cycle to the month after current and returns
// the new key. It is a cycleSet with the next calendar month.
func (c *Client) Approve(ctx context.Context, pin string, current string) (string, error) {
	if !cycle.IsValidKey(current) {
		return "", errors.NewValidationError(errors.OpApprove, fmt.Errorf("invalid current cycle key %q", current))
	}
	next := cycle.Next(current)
	if err := c.call(ctx, errors.OpApprove, request{Action: ActionCycleSet, PIN: pin, Cycle: next}, nil); err != nil {
		return "", err
	}
	return next, nil
}
