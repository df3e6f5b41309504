// Package cache layers a timestamped envelope over the local key-value
// store so read paths can serve last-known-good data and decide when a
// refetch from the remote authority is due.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vtpt/vtpt-meter/storage"
)

// Envelope wraps every cached payload with the time it was saved, in epoch
// milliseconds, to support TTL-based staleness checks.
type Envelope[T any] struct {
	SavedAt int64 `json:"savedAt"`
	Data    T     `json:"data"`
}

// Storage keys. One blob per key, whole-value overwrites.
const (
	KeyCycle       = "cycle:current"
	KeySession     = "session:pin"
	KeyWriteQueue  = "outbox:write"
	KeyDeleteQueue = "outbox:delete"

	prefixHouseLatest = "latest:"
	prefixRoomHistory = "history:"
)

// KeyHouseLatest is the per-house "latest reading per room" cache key.
func KeyHouseLatest(house string) string {
	return prefixHouseLatest + house
}

// KeyRoomHistory is the per-room history cache key.
func KeyRoomHistory(room string) string {
	return prefixRoomHistory + room
}

// Read loads and decodes the envelope stored at key. Missing or corrupt
// data returns nil rather than an error: the cache is an optimization, and
// a bad blob is treated the same as an empty one.
func Read[T any](ctx context.Context, kv storage.KV, key string) *Envelope[T] {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return nil
	}
	var env Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	return &env
}

// Write stores data at key wrapped in a fresh envelope.
func Write[T any](ctx context.Context, kv storage.KV, key string, data T) error {
	env := Envelope[T]{
		SavedAt: time.Now().UnixMilli(),
		Data:    data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return kv.Put(ctx, key, raw)
}

// IsStale reports whether env is missing or at least ttl old. An envelope
// exactly at the TTL boundary is stale.
func IsStale[T any](env *Envelope[T], ttl time.Duration) bool {
	if env == nil {
		return true
	}
	age := time.Now().UnixMilli() - env.SavedAt
	return age >= ttl.Milliseconds()
}
