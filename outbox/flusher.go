package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vtpt/vtpt-meter/logging"
)

// Sender delivers a single queued mutation to the remote authority.
type Sender interface {
	SendWrite(ctx context.Context, payload WritePayload) error
	SendDelete(ctx context.Context, payload DeletePayload) error
}

// FlusherConfig tunes retry pacing and eviction.
type FlusherConfig struct {
	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Multiplier is the factor by which the delay increases per failure.
	Multiplier float64

	// MaxAge evicts items that have been queued longer than this. Zero
	// disables eviction.
	MaxAge time.Duration
}

// DefaultFlusherConfig returns the retry policy used in production.
func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     15 * time.Minute,
		Multiplier:     2.0,
		MaxAge:         72 * time.Hour,
	}
}

// FlushResult summarizes one flush pass over a queue.
type FlushResult struct {
	Sent    int
	Failed  int
	Skipped int // held back by the backoff gate
	Evicted int
}

// Flusher drains the write and delete queues. Each queue has an in-flight
// guard so concurrent flush triggers (startup, ticker, post-enqueue) cannot
// run two passes over the same queue at once; the guard does not serialize
// writes against deletes.
type Flusher struct {
	writes  *Queue
	deletes *Queue
	sender  Sender
	config  FlusherConfig
	logger  *logging.Logger

	writeInFlight  atomic.Bool
	deleteInFlight atomic.Bool
}

// NewFlusher creates a flusher over the two queues.
func NewFlusher(writes, deletes *Queue, sender Sender, config FlusherConfig) *Flusher {
	if config.InitialBackoff <= 0 {
		config = DefaultFlusherConfig()
	}
	return &Flusher{
		writes:  writes,
		deletes: deletes,
		sender:  sender,
		config:  config,
		logger:  logging.WithComponent(logging.Component("outbox")),
	}
}

// backoffDelay returns the delay required after the given number of failed
// tries: initial * multiplier^(tries-1), capped at MaxBackoff.
func (f *Flusher) backoffDelay(tries int) time.Duration {
	if tries <= 0 {
		return 0
	}
	delay := float64(f.config.InitialBackoff)
	for i := 1; i < tries; i++ {
		delay *= f.config.Multiplier
		if time.Duration(delay) >= f.config.MaxBackoff {
			return f.config.MaxBackoff
		}
	}
	d := time.Duration(delay)
	if d > f.config.MaxBackoff {
		d = f.config.MaxBackoff
	}
	return d
}

// eligible reports whether the backoff gate allows another attempt now.
func (f *Flusher) eligible(item Item, now time.Time) bool {
	if item.Tries == 0 {
		return true
	}
	next := time.UnixMilli(item.LastAttempt).Add(f.backoffDelay(item.Tries))
	return !now.Before(next)
}

// FlushWrites drains the write queue, oldest-first. Reentrant-safe: a pass
// already in flight makes this call a no-op.
func (f *Flusher) FlushWrites(ctx context.Context) FlushResult {
	if !f.writeInFlight.CompareAndSwap(false, true) {
		return FlushResult{}
	}
	defer f.writeInFlight.Store(false)

	return f.flush(ctx, f.writes, func(ctx context.Context, item Item) error {
		return f.sender.SendWrite(ctx, *item.Write)
	})
}

// FlushDeletes drains the delete queue, oldest-first. Reentrant-safe.
func (f *Flusher) FlushDeletes(ctx context.Context) FlushResult {
	if !f.deleteInFlight.CompareAndSwap(false, true) {
		return FlushResult{}
	}
	defer f.deleteInFlight.Store(false)

	return f.flush(ctx, f.deletes, func(ctx context.Context, item Item) error {
		return f.sender.SendDelete(ctx, *item.Delete)
	})
}

// FlushAll runs both queues. Deletes first so a delete queued after a write
// of the same reading does not get resurrected by reconciliation.
func (f *Flusher) FlushAll(ctx context.Context) FlushResult {
	deletes := f.FlushDeletes(ctx)
	writes := f.FlushWrites(ctx)
	return FlushResult{
		Sent:    deletes.Sent + writes.Sent,
		Failed:  deletes.Failed + writes.Failed,
		Skipped: deletes.Skipped + writes.Skipped,
		Evicted: deletes.Evicted + writes.Evicted,
	}
}

func (f *Flusher) flush(ctx context.Context, queue *Queue, send func(context.Context, Item) error) FlushResult {
	var result FlushResult

	if f.config.MaxAge > 0 {
		evicted, err := queue.EvictOlderThan(ctx, f.config.MaxAge)
		if err != nil {
			f.logger.LogError(ctx, err, "outbox eviction failed")
		} else if evicted > 0 {
			result.Evicted = evicted
			f.logger.Warn("evicted expired outbox items",
				slog.Int("count", evicted),
				slog.Duration("max_age", f.config.MaxAge))
		}
	}

	items, err := queue.Items(ctx)
	if err != nil {
		f.logger.LogError(ctx, err, "failed to load outbox")
		return result
	}

	now := time.Now()
	// Items are persisted newest-first; deliver oldest-first.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]

		if ctx.Err() != nil {
			return result
		}
		if !f.eligible(item, now) {
			result.Skipped++
			continue
		}

		if err := send(ctx, item); err != nil {
			result.Failed++
			if recordErr := queue.RecordFailure(ctx, item.ID); recordErr != nil {
				f.logger.LogError(ctx, recordErr, "failed to record outbox failure")
			}
			f.logger.Debug("outbox delivery failed",
				slog.String("item_id", item.ID),
				slog.Int("tries", item.Tries+1),
				slog.String("error", err.Error()))
			continue
		}

		result.Sent++
		if err := queue.Remove(ctx, item.ID); err != nil {
			f.logger.LogError(ctx, err, "failed to remove acknowledged outbox item")
		}
	}

	return result
}
