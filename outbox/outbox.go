// Package outbox persists not-yet-confirmed mutations until the remote
// authority acknowledges them. Items survive restarts in the local store
// and are flushed opportunistically; delivery is at-least-once and the
// remote script is expected to treat repeated deletes as no-ops.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vtpt/vtpt-meter/cache"
	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/remote"
	"github.com/vtpt/vtpt-meter/storage"
)

// Kind distinguishes the two mutation queues.
type Kind string

const (
	KindWrite  Kind = "write"
	KindDelete Kind = "delete"
)

// Write actions.
const (
	ActionSave   = "save"
	ActionUpdate = "update"
)

// WritePayload is a pending save or update.
type WritePayload struct {
	Action string         `json:"action"`
	Room   string         `json:"room"`
	Date   string         `json:"date"`
	Dien   *float64       `json:"dien"`
	Nuoc   *float64       `json:"nuoc"`
	Note   string         `json:"note,omitempty"`
	Status meter.Status   `json:"status,omitempty"`
	Target *remote.Target `json:"target,omitempty"`
}

// DeletePayload is a pending delete.
type DeletePayload struct {
	Room   string        `json:"room"`
	Target remote.Target `json:"target"`
}

// Item is one queued mutation.
type Item struct {
	Kind      Kind   `json:"kind"`
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"` // epoch millis

	// Tries counts failed delivery attempts; LastAttempt gates the
	// exponential backoff between them.
	Tries       int   `json:"tries"`
	LastAttempt int64 `json:"lastAttempt,omitempty"`

	Write  *WritePayload  `json:"write,omitempty"`
	Delete *DeletePayload `json:"delete,omitempty"`
}

// Queue is a persisted list of items, newest-first, stored as one blob in
// the local store. All mutations are serialized through the queue mutex so
// concurrent enqueue and flush cannot lose the read-modify-write.
type Queue struct {
	kv  storage.KV
	key string
	mu  sync.Mutex
}

// NewWriteQueue creates the save/update queue over kv.
func NewWriteQueue(kv storage.KV) *Queue {
	return &Queue{kv: kv, key: cache.KeyWriteQueue}
}

// NewDeleteQueue creates the delete queue over kv.
func NewDeleteQueue(kv storage.KV) *Queue {
	return &Queue{kv: kv, key: cache.KeyDeleteQueue}
}

// load reads the persisted list. Corrupt blobs start an empty queue rather
// than wedging the client.
func (q *Queue) load(ctx context.Context) ([]Item, error) {
	raw, err := q.kv.Get(ctx, q.key)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError(errors.OpEnqueue, err)
	}
	var items []Item
	if jsonErr := json.Unmarshal(raw, &items); jsonErr != nil {
		return nil, nil
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, items []Item) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return errors.NewStorageError(errors.OpEnqueue, err)
	}
	if err := q.kv.Put(ctx, q.key, raw); err != nil {
		return errors.NewStorageError(errors.OpEnqueue, err)
	}
	return nil
}

// EnqueueWrite prepends a write item. Writes are never de-duplicated: each
// save or update the user makes is delivered in order.
func (q *Queue) EnqueueWrite(ctx context.Context, payload WritePayload) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return Item{}, err
	}

	item := Item{
		Kind:      KindWrite,
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UnixMilli(),
		Write:     &payload,
	}
	if err := q.save(ctx, append([]Item{item}, items...)); err != nil {
		return Item{}, err
	}
	return item, nil
}

// EnqueueDelete prepends a delete item unless an identical delete for the
// same (room, target id, target date) is already queued. Returns the queued
// item and whether it was newly added.
func (q *Queue) EnqueueDelete(ctx context.Context, payload DeletePayload) (Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return Item{}, false, err
	}

	for _, existing := range items {
		if existing.Delete == nil {
			continue
		}
		d := existing.Delete
		if d.Room == payload.Room && d.Target.ID == payload.Target.ID && d.Target.Date == payload.Target.Date {
			return existing, false, nil
		}
	}

	item := Item{
		Kind:      KindDelete,
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UnixMilli(),
		Delete:    &payload,
	}
	if err := q.save(ctx, append([]Item{item}, items...)); err != nil {
		return Item{}, false, err
	}
	return item, true, nil
}

// Items returns the queued items, newest-first.
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Remove deletes the item with the given id, typically after a confirmed
// server acknowledgement.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	return q.save(ctx, kept)
}

// RecordFailure increments the item's try counter and stamps the attempt
// time so the backoff gate can hold it back.
func (q *Queue) RecordFailure(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == id {
			items[i].Tries++
			items[i].LastAttempt = time.Now().UnixMilli()
			break
		}
	}
	return q.save(ctx, items)
}

// EvictOlderThan drops items older than maxAge and returns how many were
// removed. Unbounded retries of a doomed item would otherwise hide an
// inconsistency forever.
func (q *Queue) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	kept := items[:0]
	evicted := 0
	for _, item := range items {
		if item.CreatedAt < cutoff {
			evicted++
			continue
		}
		kept = append(kept, item)
	}
	if evicted == 0 {
		return 0, nil
	}
	return evicted, q.save(ctx, kept)
}
