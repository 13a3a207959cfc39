package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/rickgao/tickerfeed/internal/model"
)

// ErrQueueClosed is returned by Queue.Next once the queue is closed and empty.
var ErrQueueClosed = errors.New("update queue closed")

// Queue hands updates from a watcher to a slower consumer. A push for a
// symbol that is already queued replaces the queued value in place, so the
// queue holds at most one update per symbol and never blocks the feed.
// A Queue serves one consumer.
type Queue struct {
	mu      sync.Mutex
	order   []model.Symbol
	pending map[model.Symbol]model.TickerUpdate
	ready   chan struct{}
	done    chan struct{}
	closed  bool

	// Stats
	pushed    int64
	coalesced int64
	delivered int64
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len       int   `json:"len"`
	Pushed    int64 `json:"pushed"`
	Coalesced int64 `json:"coalesced"`
	Delivered int64 `json:"delivered"`
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[model.Symbol]model.TickerUpdate),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Push queues u, replacing any queued update for the same symbol.
// Returns false if the queue is closed. Safe to call from a watcher.
func (q *Queue) Push(u model.TickerUpdate) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pushed++
	if _, queued := q.pending[u.Symbol]; queued {
		q.coalesced++
	} else {
		q.order = append(q.order, u.Symbol)
	}
	q.pending[u.Symbol] = u
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// TryNext pops the oldest queued symbol's latest update without blocking.
func (q *Queue) TryNext() (model.TickerUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Next blocks until an update is available, ctx is done, or the queue is
// closed and drained.
func (q *Queue) Next(ctx context.Context) (model.TickerUpdate, error) {
	for {
		q.mu.Lock()
		u, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return u, nil
		}
		if closed {
			return model.TickerUpdate{}, ErrQueueClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return model.TickerUpdate{}, ctx.Err()
		}
	}
}

// Drain pops up to max updates (0 = all) in queue order.
func (q *Queue) Drain(max int) []model.TickerUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.order)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]model.TickerUpdate, 0, n)
	for range n {
		u, _ := q.popLocked()
		out = append(out, u)
	}
	return out
}

// Close stops accepting pushes. Queued updates can still be consumed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Len returns the number of symbols with a queued update.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Stats returns queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:       len(q.order),
		Pushed:    q.pushed,
		Coalesced: q.coalesced,
		Delivered: q.delivered,
	}
}

// popLocked must be called with mu held.
func (q *Queue) popLocked() (model.TickerUpdate, bool) {
	if len(q.order) == 0 {
		return model.TickerUpdate{}, false
	}
	sym := q.order[0]
	q.order[0] = ""
	q.order = q.order[1:]
	if len(q.order) == 0 {
		q.order = q.order[:0:0]
	}

	u := q.pending[sym]
	delete(q.pending, sym)
	q.delivered++
	return u, true
}
