package gate

import (
	"sync"
	"sync/atomic"
)

// Metrics counts gate outcomes. Safe for concurrent use by every worker
// sharing the gate.
type Metrics struct {
	processedTotal atomic.Int64
	droppedTotal   atomic.Int64
	sunkTotal      atomic.Int64
	deliveredTotal atomic.Int64

	mu       sync.Mutex
	byScene  map[Scene]int64
	byAction map[Action]int64
}

// NewMetrics returns zeroed gate metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		byScene:  make(map[Scene]int64),
		byAction: make(map[Action]int64),
	}
}

func (m *Metrics) record(scene Scene, action Action) {
	m.processedTotal.Add(1)
	switch action {
	case ActionDrop:
		m.droppedTotal.Add(1)
	case ActionSink:
		m.sunkTotal.Add(1)
	case ActionDeliver:
		m.deliveredTotal.Add(1)
	}
	m.mu.Lock()
	m.byScene[scene]++
	m.byAction[action]++
	m.mu.Unlock()
}

// ProcessedTotal returns the number of observations the gate decided on.
func (m *Metrics) ProcessedTotal() int64 { return m.processedTotal.Load() }

// DroppedTotal returns the number of DROP decisions.
func (m *Metrics) DroppedTotal() int64 { return m.droppedTotal.Load() }

// SunkTotal returns the number of SINK decisions.
func (m *Metrics) SunkTotal() int64 { return m.sunkTotal.Load() }

// DeliveredTotal returns the number of DELIVER decisions.
func (m *Metrics) DeliveredTotal() int64 { return m.deliveredTotal.Load() }

// ByScene copies the per-scene decision counts.
func (m *Metrics) ByScene() map[Scene]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Scene]int64, len(m.byScene))
	for k, v := range m.byScene {
		out[k] = v
	}
	return out
}

// ByAction copies the per-action decision counts.
func (m *Metrics) ByAction() map[Action]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Action]int64, len(m.byAction))
	for k, v := range m.byAction {
		out[k] = v
	}
	return out
}
