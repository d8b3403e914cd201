package gate

import (
	"sync"

	"github.com/somabus/soma/pkg/schema"
)

// DefaultPoolSize bounds each audit pool.
const DefaultPoolSize = 200

// Pool is a bounded ring of observations kept for audit and introspection.
// The oldest entry is evicted when the ring is full.
type Pool struct {
	mu    sync.Mutex
	items []*schema.Observation
	max   int
	total int64
}

// NewPool builds a pool holding at most max observations.
func NewPool(max int) *Pool {
	if max <= 0 {
		max = DefaultPoolSize
	}
	return &Pool{max: max}
}

// Ingest appends an observation, evicting the oldest if full.
func (p *Pool) Ingest(obs *schema.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) >= p.max {
		copy(p.items, p.items[1:])
		p.items = p.items[:len(p.items)-1]
	}
	p.items = append(p.items, obs)
	p.total++
}

// Len returns the current pool occupancy.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Total returns the number of observations ever ingested.
func (p *Pool) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Items copies the pool contents, oldest first.
func (p *Pool) Items() []*schema.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*schema.Observation, len(p.items))
	copy(out, p.items)
	return out
}
