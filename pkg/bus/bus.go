// Package bus provides the bounded multi-producer input bus. Producers
// publish without ever blocking; when the queue is full the incoming
// (newest) observation is dropped and counted. The nociception subsystem
// turns sustained drops into adaptive back-pressure, so a full queue is
// never an error to the caller.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/somabus/soma/pkg/schema"
)

// Drop reasons reported in PublishResult.
const (
	ReasonClosed    = "closed"
	ReasonQueueFull = "queue_full"
	ReasonInvalid   = "invalid"
)

// PublishResult reports the outcome of a non-blocking publish.
type PublishResult struct {
	OK      bool
	Dropped bool
	Reason  string
}

// Bus is a bounded FIFO queue of observations. Safe for concurrent
// producers; consumers read the channel returned by Consume.
type Bus struct {
	mu     sync.RWMutex
	ch     chan *schema.Observation
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// New creates a bus with the given capacity.
func New(maxsize int) *Bus {
	if maxsize <= 0 {
		maxsize = 1
	}
	return &Bus{ch: make(chan *schema.Observation, maxsize)}
}

// PublishNowait validates and enqueues an observation without blocking.
// On a full queue the incoming observation is dropped (drop-newest) and the
// drop counter is incremented. After Close every publish reports dropped.
func (b *Bus) PublishNowait(obs *schema.Observation) PublishResult {
	if err := obs.Validate(); err != nil {
		b.dropped.Add(1)
		slog.Warn("Rejected invalid observation", "source", obs.SourceName, "error", err)
		return PublishResult{Dropped: true, Reason: ReasonInvalid}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return PublishResult{Dropped: true, Reason: ReasonClosed}
	}

	select {
	case b.ch <- obs:
		b.published.Add(1)
		return PublishResult{OK: true}
	default:
		b.dropped.Add(1)
		return PublishResult{Dropped: true, Reason: ReasonQueueFull}
	}
}

// Consume returns the receive side of the bus. The channel preserves
// publish order and is closed after Close once outstanding items drain.
func (b *Bus) Consume() <-chan *schema.Observation {
	return b.ch
}

// Close signals end-of-stream. Publishes after Close are dropped;
// consumers still drain whatever was already enqueued.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Size returns the number of queued observations.
func (b *Bus) Size() int { return len(b.ch) }

// PublishedTotal returns the count of accepted observations.
func (b *Bus) PublishedTotal() int64 { return b.published.Load() }

// DroppedTotal returns the count of dropped observations.
func (b *Bus) DroppedTotal() int64 { return b.dropped.Load() }
