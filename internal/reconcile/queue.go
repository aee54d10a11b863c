// Package reconcile holds durable writes that failed during a call
// transition so they can be retried later. The in-memory transition and the
// outbound notifications have already happened by the time a write lands
// here; the queue only narrows the window in which the durable record
// disagrees with what clients were told.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Op is a retryable durable write.
type Op func(ctx context.Context) error

type item struct {
	desc     string
	op       Op
	attempts int
	queuedAt time.Time
}

// Queue is an append-only, bounded retry queue.
//
// Callers should treat appending as best-effort. When the queue is full the
// oldest entry is dropped and logged; losing a retry is no worse than the
// pre-queue behavior of dropping the write outright.
type Queue struct {
	mu    sync.Mutex
	items []item

	max   int
	log   *slog.Logger
	clock func() time.Time
}

func NewQueue(max int, log *slog.Logger) *Queue {
	if max <= 0 {
		max = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{max: max, log: log, clock: time.Now}
}

// Append enqueues a failed write for retry.
func (q *Queue) Append(desc string, op Op) {
	if op == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.log.Warn("reconcile queue full, dropping oldest",
			"dropped", dropped.desc, "attempts", dropped.attempts)
	}
	q.items = append(q.items, item{desc: desc, op: op, queuedAt: q.clock()})
}

// Len reports the number of pending writes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Sweep retries every pending write once. Successes are removed; failures
// stay queued for the next sweep. Returns the number of writes that
// succeeded and the number still pending.
func (q *Queue) Sweep(ctx context.Context) (done, remaining int) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	var failed []item
	for _, it := range pending {
		if ctx.Err() != nil {
			failed = append(failed, it)
			continue
		}
		if err := it.op(ctx); err != nil {
			it.attempts++
			q.log.Warn("reconcile retry failed", "op", it.desc, "attempts", it.attempts, "err", err)
			failed = append(failed, it)
			continue
		}
		done++
	}

	q.mu.Lock()
	// New appends may have arrived during the sweep; keep ordering stable.
	q.items = append(failed, q.items...)
	remaining = len(q.items)
	q.mu.Unlock()
	return done, remaining
}

// Run sweeps the queue on a fixed interval until ctx is canceled.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if q.Len() == 0 {
				continue
			}
			done, remaining := q.Sweep(ctx)
			q.log.Info("reconcile sweep", "done", done, "remaining", remaining)
		}
	}
}
