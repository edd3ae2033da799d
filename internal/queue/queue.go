// Package queue implements eddi's MessageQueue (spec.md §4.3): a bounded,
// monotonically-timestamped FIFO with background expiry scrubbing.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/eddi/internal/logging"
	"github.com/opd-ai/eddi/internal/wire"
)

// Queue is a bounded, TTL-scrubbed FIFO of wire.Message.
type Queue struct {
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	items   []wire.Message
	logger  *logging.Logger

	now func() time.Time
}

// Options configures a Queue.
type Options struct {
	TTL     time.Duration
	MaxSize int
	Logger  *logging.Logger

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time
}

// New constructs a Queue from opts.
func New(opts Options) *Queue {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Queue{
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		logger:  log.Component("queue"),
		now:     nowFn,
	}
}

// Push scrubs expired entries, evicts the oldest entry while at capacity,
// and appends a new message stamped with the current time (spec.md §4.3
// push).
func (q *Queue) Push(from string, content []byte) wire.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.scrubLocked(now)

	for len(q.items) >= q.maxSize && q.maxSize > 0 {
		q.items = q.items[1:]
	}

	msg := wire.Message{
		ID:        uuid.NewString(),
		From:      from,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(q.ttl),
	}
	q.items = append(q.items, msg)
	return msg
}

// GetAll scrubs then returns a snapshot of all live messages, oldest-first.
func (q *Queue) GetAll() []wire.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.scrubLocked(q.now())
	out := make([]wire.Message, len(q.items))
	copy(out, q.items)
	return out
}

// GetSince scrubs then returns live messages with CreatedAt >= since.
func (q *Queue) GetSince(since time.Time) []wire.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.scrubLocked(q.now())
	var out []wire.Message
	for _, m := range q.items {
		if !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the post-scrub count of live messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.scrubLocked(q.now())
	return len(q.items)
}

// Clear discards all messages.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// scrubLocked removes expired entries. Callers must hold q.mu.
func (q *Queue) scrubLocked(now time.Time) {
	live := q.items[:0]
	for _, m := range q.items {
		if !m.Expired(now) {
			live = append(live, m)
		}
	}
	q.items = live
}

// RunScrubber periodically scrubs expired entries until ctx is cancelled,
// so a queue with no readers still bounds its own memory (spec.md §4.3,
// mirroring the Rust source's start_cleanup_task).
func (q *Queue) RunScrubber(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			before := len(q.items)
			q.scrubLocked(q.now())
			after := len(q.items)
			q.mu.Unlock()
			if before != after {
				q.logger.Debug("scrubbed expired messages", "removed", before-after)
			}
		}
	}
}
