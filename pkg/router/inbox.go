package router

import (
	"sync"
	"sync/atomic"

	"github.com/somabus/soma/pkg/schema"
)

// InboxStats counts enqueue outcomes for one inbox.
type InboxStats struct {
	Enqueued int64
	Dropped  int64
}

// Inbox is a per-session bounded FIFO. One writer (the router), one reader
// (the session worker). Enqueue never blocks; when full the newest
// observation is dropped.
type Inbox struct {
	mu     sync.RWMutex
	ch     chan *schema.Observation
	closed bool

	enqueued atomic.Int64
	dropped  atomic.Int64
}

// NewInbox creates an inbox with the given capacity.
func NewInbox(maxsize int) *Inbox {
	if maxsize <= 0 {
		maxsize = 1
	}
	return &Inbox{ch: make(chan *schema.Observation, maxsize)}
}

// PutNowait enqueues without blocking. Returns false when the observation
// was dropped (inbox full or closed).
func (in *Inbox) PutNowait(obs *schema.Observation) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		in.dropped.Add(1)
		return false
	}
	select {
	case in.ch <- obs:
		in.enqueued.Add(1)
		return true
	default:
		in.dropped.Add(1)
		return false
	}
}

// C returns the receive side consumed by the session worker.
func (in *Inbox) C() <-chan *schema.Observation { return in.ch }

// Close ends the stream; the worker drains what was already enqueued.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.closed = true
	close(in.ch)
}

// Size returns the number of queued observations.
func (in *Inbox) Size() int { return len(in.ch) }

// Stats returns a snapshot of the inbox counters.
func (in *Inbox) Stats() InboxStats {
	return InboxStats{Enqueued: in.enqueued.Load(), Dropped: in.dropped.Load()}
}
