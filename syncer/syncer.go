// Package syncer orchestrates the offline-first flow: optimistic local
// mutation, outbox enqueue, best-effort flush, and debounced reconciliation
// against the remote authority. Server state always wins over optimistic
// client state once it arrives; a per-room sequence counter discards slow
// reconciliation results that were superseded before they landed.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vtpt/vtpt-meter/auth"
	"github.com/vtpt/vtpt-meter/cache"
	"github.com/vtpt/vtpt-meter/cycle"
	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/logging"
	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/outbox"
	"github.com/vtpt/vtpt-meter/remote"
	"github.com/vtpt/vtpt-meter/storage"
)

// RemoteAPI is the slice of the remote client the syncer depends on.
type RemoteAPI interface {
	Latest(ctx context.Context, room string) (*meter.Reading, error)
	History(ctx context.Context, room string, limit int) ([]meter.Reading, error)
	HouseLatest(ctx context.Context, house string) (map[string]meter.Reading, error)
	CurrentCycle(ctx context.Context) (string, error)
	Save(ctx context.Context, pin string, r meter.Reading) (*meter.Reading, error)
	Update(ctx context.Context, pin string, r meter.Reading, target remote.Target) (*meter.Reading, error)
	Delete(ctx context.Context, pin string, room string, target remote.Target) error
	SetCycle(ctx context.Context, pin string, key string) error
	Approve(ctx context.Context, pin string, current string) (string, error)
}

// Compile-time check that the production client satisfies the interface.
var _ RemoteAPI = (*remote.Client)(nil)

// Mutation actions.
const (
	ActionSave   = "save"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Mutation is one user intent against a room.
type Mutation struct {
	Action string
	Room   string
	Dien   *float64
	Nuoc   *float64
	Note   string
	Status meter.Status

	// Target identifies the existing reading for update and delete.
	Target *remote.Target
}

// Config tunes the syncer.
type Config struct {
	// Timezone is the IANA zone billing runs in.
	Timezone string

	// RolloverDay attributes late-month readings to the next cycle.
	RolloverDay int

	// Debounce delays the post-mutation reconciliation fetch so a burst of
	// edits produces one authoritative refetch.
	Debounce time.Duration

	// FlushInterval paces the background outbox flush.
	FlushInterval time.Duration

	// CycleTTL / LatestTTL / HistoryTTL bound cache staleness on read paths.
	CycleTTL   time.Duration
	LatestTTL  time.Duration
	HistoryTTL time.Duration

	// HistoryLimit bounds history fetches from the remote authority.
	HistoryLimit int

	// Rooms maps each house to its room identifiers. Used to attribute a
	// room mutation to its house-level latest cache.
	Rooms map[string][]string

	// Flusher is the outbox retry policy.
	Flusher outbox.FlusherConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timezone:      cycle.DefaultTimezone,
		RolloverDay:   cycle.DefaultRolloverDay,
		Debounce:      450 * time.Millisecond,
		FlushInterval: time.Minute,
		CycleTTL:      10 * time.Minute,
		LatestTTL:     5 * time.Minute,
		HistoryTTL:    10 * time.Minute,
		HistoryLimit:  cache.MaxHistoryLength,
		Flusher:       outbox.DefaultFlusherConfig(),
	}
}

// Syncer coordinates local state, the outbox, and the remote authority for
// one client profile.
type Syncer struct {
	remote    RemoteAPI
	kv        storage.KV
	writes    *outbox.Queue
	deletes   *outbox.Queue
	flusher   *outbox.Flusher
	directory *auth.Directory
	session   *auth.Session
	config    Config
	loc       *time.Location
	roomHouse map[string]string
	logger    *logging.Logger

	mu        sync.Mutex
	scheduled map[string]uint64 // newest reconcile seq per room
	timers    map[string]*time.Timer
	closed    bool

	wg sync.WaitGroup
}

// New creates a syncer. The flusher delivers through the syncer itself so
// acknowledged rows flow back into the cache.
func New(remoteAPI RemoteAPI, kv storage.KV, directory *auth.Directory, config Config) *Syncer {
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = cache.MaxHistoryLength
	}

	s := &Syncer{
		remote:    remoteAPI,
		kv:        kv,
		writes:    outbox.NewWriteQueue(kv),
		deletes:   outbox.NewDeleteQueue(kv),
		directory: directory,
		session:   auth.NewSession(kv),
		config:    config,
		loc:       cycle.Location(config.Timezone),
		roomHouse: invertRooms(config.Rooms),
		logger:    logging.WithComponent(logging.Component("syncer")),
		scheduled: make(map[string]uint64),
		timers:    make(map[string]*time.Timer),
	}
	s.flusher = outbox.NewFlusher(s.writes, s.deletes, s, config.Flusher)
	return s
}

func (s *Syncer) rolloverDay() int {
	if s.config.RolloverDay >= 1 && s.config.RolloverDay <= 28 {
		return s.config.RolloverDay
	}
	return cycle.DefaultRolloverDay
}

func invertRooms(rooms map[string][]string) map[string]string {
	out := make(map[string]string)
	for house, list := range rooms {
		for _, room := range list {
			out[room] = house
		}
	}
	return out
}

// Session exposes the persisted PIN session.
func (s *Syncer) Session() *auth.Session {
	return s.session
}

// Commit applies a user mutation: optimistic local state first, then the
// outbox, then a best-effort flush, then a debounced authoritative refetch.
// The returned reading is the optimistic one; it is visible in the caches
// before Commit returns, regardless of network state.
func (s *Syncer) Commit(ctx context.Context, pin string, m Mutation) (*meter.Reading, error) {
	identity, err := s.directory.Resolve(pin)
	if err != nil {
		return nil, err
	}
	if err := s.session.Save(ctx, pin); err != nil {
		s.logger.LogError(ctx, err, "failed to persist session")
	}

	switch m.Action {
	case ActionSave, ActionUpdate:
		return s.commitWrite(ctx, identity, m)
	case ActionDelete:
		return nil, s.commitDelete(ctx, m)
	default:
		return nil, errors.NewValidationError(errors.OpSave, fmt.Errorf("unknown action %q", m.Action))
	}
}

func (s *Syncer) commitWrite(ctx context.Context, identity auth.Identity, m Mutation) (*meter.Reading, error) {
	optimistic := meter.Reading{
		ID:     meter.NewLocalID(),
		Room:   m.Room,
		Date:   time.Now().In(s.loc).Format(time.RFC3339),
		Dien:   m.Dien,
		Nuoc:   m.Nuoc,
		Note:   m.Note,
		Status: m.Status,
	}
	if optimistic.Status == "" {
		optimistic.Status = meter.StatusOpen
	}
	if m.Action == ActionUpdate {
		if m.Target == nil {
			return nil, errors.NewValidationError(errors.OpUpdate, fmt.Errorf("update requires a target"))
		}
		optimistic.ID = m.Target.ID
		optimistic.Date = m.Target.Date
	}
	// Stamp the cached cycle so the optimistic row lands in the current
	// view; a cold cache falls back to the rollover-day business cycle,
	// which the server's own stamp replaces on acknowledgement.
	if env := cache.Read[string](ctx, s.kv, cache.KeyCycle); env != nil {
		optimistic.Cycle = env.Data
	} else {
		optimistic.Cycle = cycle.BusinessKey(time.Now().In(s.loc), s.loc, s.rolloverDay())
	}

	if err := meter.Validate(optimistic); err != nil {
		return nil, err
	}

	// Optimistic apply: cache state reflects the user's intent before any
	// network round trip.
	s.applyReadingToCaches(ctx, optimistic)

	payload := outbox.WritePayload{
		Action: m.Action,
		Room:   m.Room,
		Date:   optimistic.Date,
		Dien:   m.Dien,
		Nuoc:   m.Nuoc,
		Note:   m.Note,
		Status: optimistic.Status,
		Target: m.Target,
	}
	if _, err := s.writes.EnqueueWrite(ctx, payload); err != nil {
		return nil, err
	}

	s.logger.Info("mutation committed",
		slog.String("action", m.Action),
		slog.String("room", m.Room),
		slog.String("actor", identity.Name))

	s.flushAsync()
	s.scheduleReconcile(m.Room)
	return &optimistic, nil
}

func (s *Syncer) commitDelete(ctx context.Context, m Mutation) error {
	if m.Target == nil {
		return errors.NewValidationError(errors.OpDelete, fmt.Errorf("delete requires a target"))
	}

	// Optimistic removal from the room history and house latest caches.
	historyKey := cache.KeyRoomHistory(m.Room)
	if env := cache.Read[[]meter.Reading](ctx, s.kv, historyKey); env != nil {
		trimmed := cache.RemoveFromHistory(env.Data, m.Target.ID, m.Target.Date)
		if err := cache.Write(ctx, s.kv, historyKey, trimmed); err != nil {
			s.logger.LogError(ctx, err, "failed to write optimistic history")
		}
	}
	if house, ok := s.roomHouse[m.Room]; ok {
		latestKey := cache.KeyHouseLatest(house)
		if env := cache.Read[map[string]meter.Reading](ctx, s.kv, latestKey); env != nil {
			if current, ok := env.Data[m.Room]; ok && current.ID == m.Target.ID && current.Date == m.Target.Date {
				delete(env.Data, m.Room)
				if err := cache.Write(ctx, s.kv, latestKey, env.Data); err != nil {
					s.logger.LogError(ctx, err, "failed to write optimistic house latest")
				}
			}
		}
	}

	_, _, err := s.deletes.EnqueueDelete(ctx, outbox.DeletePayload{Room: m.Room, Target: *m.Target})
	if err != nil {
		return err
	}

	s.flushAsync()
	s.scheduleReconcile(m.Room)
	return nil
}

// applyReadingToCaches upserts r into the room history cache and the house
// latest cache.
func (s *Syncer) applyReadingToCaches(ctx context.Context, r meter.Reading) {
	historyKey := cache.KeyRoomHistory(r.Room)
	var history []meter.Reading
	if env := cache.Read[[]meter.Reading](ctx, s.kv, historyKey); env != nil {
		history = env.Data
	}
	if err := cache.Write(ctx, s.kv, historyKey, cache.UpsertHistory(history, r, s.loc)); err != nil {
		s.logger.LogError(ctx, err, "failed to write history cache")
	}

	house, ok := s.roomHouse[r.Room]
	if !ok {
		return
	}
	latestKey := cache.KeyHouseLatest(house)
	latest := map[string]meter.Reading{}
	if env := cache.Read[map[string]meter.Reading](ctx, s.kv, latestKey); env != nil {
		latest = env.Data
	}
	latest[r.Room] = r
	if err := cache.Write(ctx, s.kv, latestKey, latest); err != nil {
		s.logger.LogError(ctx, err, "failed to write house latest cache")
	}
}

// SendWrite delivers one queued write. Part of the outbox.Sender contract;
// the session PIN authenticates the flush.
func (s *Syncer) SendWrite(ctx context.Context, payload outbox.WritePayload) error {
	pin := s.session.Load(ctx)
	r := meter.Reading{
		Room:   payload.Room,
		Date:   payload.Date,
		Dien:   payload.Dien,
		Nuoc:   payload.Nuoc,
		Note:   payload.Note,
		Status: payload.Status,
	}

	var acked *meter.Reading
	var err error
	if payload.Action == outbox.ActionUpdate && payload.Target != nil {
		acked, err = s.remote.Update(ctx, pin, r, *payload.Target)
	} else {
		acked, err = s.remote.Save(ctx, pin, r)
	}
	if err != nil {
		return err
	}
	if acked != nil {
		s.applyReadingToCaches(ctx, *acked)
	}
	return nil
}

// SendDelete delivers one queued delete. The local queue entry is removed
// on acknowledgement whether or not the remote row still existed.
func (s *Syncer) SendDelete(ctx context.Context, payload outbox.DeletePayload) error {
	pin := s.session.Load(ctx)
	return s.remote.Delete(ctx, pin, payload.Room, payload.Target)
}

// flushAsync runs a best-effort flush without blocking the caller.
func (s *Syncer) flushAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), remote.DefaultTimeout+time.Second)
		defer cancel()
		s.flusher.FlushAll(ctx)
	}()
}

// Flush drains both outbox queues synchronously.
func (s *Syncer) Flush(ctx context.Context) outbox.FlushResult {
	return s.flusher.FlushAll(ctx)
}

// Pending returns how many mutations await acknowledgement.
func (s *Syncer) Pending(ctx context.Context) (int, error) {
	w, err := s.writes.Len(ctx)
	if err != nil {
		return 0, err
	}
	d, err := s.deletes.Len(ctx)
	if err != nil {
		return 0, err
	}
	return w + d, nil
}

// scheduleReconcile arms (or re-arms) the debounced authoritative refetch
// for a room and returns the sequence number assigned to this run. Only the
// newest scheduled run per room is allowed to apply its result.
func (s *Syncer) scheduleReconcile(room string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}

	seq := s.scheduled[room] + 1
	s.scheduled[room] = seq

	if timer, ok := s.timers[room]; ok {
		timer.Stop()
	}
	s.timers[room] = time.AfterFunc(s.config.Debounce, func() {
		// The timer may fire while Close is tearing down; only run when
		// the syncer is still open, and keep Close waiting until done.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 2*remote.DefaultTimeout)
		defer cancel()
		s.reconcile(ctx, room, seq)
	})
	return seq
}

// reconcile refetches a room's truth and applies it unless a newer run was
// scheduled meanwhile. On fetch failure state simply stays at the last
// optimistic value; the outbox, not this path, recovers the mutation.
func (s *Syncer) reconcile(ctx context.Context, room string, seq uint64) {
	latest, err := s.remote.Latest(ctx, room)
	if err != nil {
		s.logger.Debug("reconcile fetch failed, keeping optimistic state",
			slog.String("room", room),
			slog.String("error", err.Error()))
		return
	}
	history, err := s.remote.History(ctx, room, s.config.HistoryLimit)
	if err != nil {
		s.logger.Debug("reconcile history fetch failed, keeping optimistic state",
			slog.String("room", room),
			slog.String("error", err.Error()))
		return
	}

	s.applyServerState(ctx, room, seq, latest, history)
}

// applyServerState overwrites local caches with the server's version when
// seq is still the newest scheduled run for the room. Returns whether the
// result was applied.
func (s *Syncer) applyServerState(ctx context.Context, room string, seq uint64, latest *meter.Reading, history []meter.Reading) bool {
	s.mu.Lock()
	newest := s.scheduled[room]
	s.mu.Unlock()
	if seq != newest {
		s.logger.Debug("discarding stale reconciliation result",
			slog.String("room", room),
			slog.Uint64("seq", seq),
			slog.Uint64("newest", newest))
		return false
	}

	if err := cache.Write(ctx, s.kv, cache.KeyRoomHistory(room), history); err != nil {
		s.logger.LogError(ctx, err, "failed to write reconciled history")
	}

	if house, ok := s.roomHouse[room]; ok {
		latestKey := cache.KeyHouseLatest(house)
		m := map[string]meter.Reading{}
		if env := cache.Read[map[string]meter.Reading](ctx, s.kv, latestKey); env != nil {
			m = env.Data
		}
		if latest != nil {
			m[room] = *latest
		} else {
			delete(m, room)
		}
		if err := cache.Write(ctx, s.kv, latestKey, m); err != nil {
			s.logger.LogError(ctx, err, "failed to write reconciled house latest")
		}
	}
	return true
}

// CurrentCycle returns the active cycle key, from cache when fresh. On a
// stale cache it refetches; on fetch failure it falls back to the cached
// value, however old. Only a cold cache plus a failed fetch is an error.
func (s *Syncer) CurrentCycle(ctx context.Context) (string, error) {
	env := cache.Read[string](ctx, s.kv, cache.KeyCycle)
	if !cache.IsStale(env, s.config.CycleTTL) {
		return env.Data, nil
	}

	key, err := s.remote.CurrentCycle(ctx)
	if err != nil {
		if env != nil {
			return env.Data, nil
		}
		return "", err
	}
	if err := cache.Write(ctx, s.kv, cache.KeyCycle, key); err != nil {
		s.logger.LogError(ctx, err, "failed to cache cycle key")
	}
	return key, nil
}

// RoomHistory returns a room's reading history, cache-first with TTL.
func (s *Syncer) RoomHistory(ctx context.Context, room string) ([]meter.Reading, error) {
	key := cache.KeyRoomHistory(room)
	env := cache.Read[[]meter.Reading](ctx, s.kv, key)
	if !cache.IsStale(env, s.config.HistoryTTL) {
		return env.Data, nil
	}

	history, err := s.remote.History(ctx, room, s.config.HistoryLimit)
	if err != nil {
		if env != nil {
			return env.Data, nil
		}
		return nil, err
	}
	if err := cache.Write(ctx, s.kv, key, history); err != nil {
		s.logger.LogError(ctx, err, "failed to cache history")
	}
	return history, nil
}

// HouseLatest returns the latest reading per room for a house, cache-first.
func (s *Syncer) HouseLatest(ctx context.Context, house string) (map[string]meter.Reading, error) {
	key := cache.KeyHouseLatest(house)
	env := cache.Read[map[string]meter.Reading](ctx, s.kv, key)
	if !cache.IsStale(env, s.config.LatestTTL) {
		return env.Data, nil
	}

	latest, err := s.remote.HouseLatest(ctx, house)
	if err != nil {
		if env != nil {
			return env.Data, nil
		}
		return nil, err
	}
	if err := cache.Write(ctx, s.kv, key, latest); err != nil {
		s.logger.LogError(ctx, err, "failed to cache house latest")
	}
	return latest, nil
}

// CurrentReading resolves which of a room's readings belongs to the active
// cycle. nil means nothing is recorded for this cycle yet; callers render
// placeholders, never a previous cycle's values.
func (s *Syncer) CurrentReading(ctx context.Context, room string) (*meter.Reading, error) {
	cycleKey, err := s.CurrentCycle(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.RoomHistory(ctx, room)
	if err != nil {
		return nil, err
	}
	return meter.ResolveCurrent(history, cycleKey, s.loc), nil
}

// ApproveCycle advances the active cycle to the next calendar month.
// Admin only; the gate runs before any network call.
func (s *Syncer) ApproveCycle(ctx context.Context, pin string) (string, error) {
	identity, err := s.directory.RequireAdmin(pin)
	if err != nil {
		return "", err
	}

	current, err := s.CurrentCycle(ctx)
	if err != nil {
		return "", err
	}

	next, err := s.remote.Approve(ctx, pin, current)
	if err != nil {
		return "", err
	}
	if err := cache.Write(ctx, s.kv, cache.KeyCycle, next); err != nil {
		s.logger.LogError(ctx, err, "failed to cache approved cycle")
	}

	s.logger.Info("cycle approved",
		slog.String("from", current),
		slog.String("to", next),
		slog.String("actor", identity.Name))
	return next, nil
}

// SetCycle sets the active cycle to an explicit key. Admin only.
func (s *Syncer) SetCycle(ctx context.Context, pin string, key string) error {
	if _, err := s.directory.RequireAdmin(pin); err != nil {
		return err
	}
	if err := s.remote.SetCycle(ctx, pin, key); err != nil {
		return err
	}
	if err := cache.Write(ctx, s.kv, cache.KeyCycle, key); err != nil {
		s.logger.LogError(ctx, err, "failed to cache cycle key")
	}
	return nil
}

// Start flushes the outbox immediately and then on an interval until ctx
// is cancelled. The startup flush is the page-load trigger's analogue.
func (s *Syncer) Start(ctx context.Context) {
	s.flushAsync()

	interval := s.config.FlushInterval
	if interval <= 0 {
		interval = DefaultConfig().FlushInterval
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.flusher.FlushAll(ctx)
			}
		}
	}()
}

// Close stops pending debounce timers and waits for in-flight work.
func (s *Syncer) Close() error {
	s.mu.Lock()
	s.closed = true
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
