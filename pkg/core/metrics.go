package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics owns the prometheus registry backing /metrics. The runtime's
// internal counters stay plain atomics on their owning packages; the
// collectors registered here reflect them for scraping.
type Metrics struct {
	registry *prometheus.Registry

	AgentInvocations prometheus.Counter
	AgentErrors      prometheus.Counter
	SessionsGC       prometheus.Counter
	FanoutSkipped    prometheus.Counter
	FanoutDropped    prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		AgentInvocations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "soma", Name: "agent_invocations_total",
			Help: "Agent orchestrator invocations.",
		}),
		AgentErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "soma", Name: "agent_errors_total",
			Help: "Agent invocations that ended in an error or deadline.",
		}),
		SessionsGC: f.NewCounter(prometheus.CounterOpts{
			Namespace: "soma", Name: "sessions_gc_total",
			Help: "Idle sessions collected by the GC sweep.",
		}),
		FanoutSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "soma", Name: "fanout_skipped_total",
			Help: "System fan-outs skipped while suppressed by nociception.",
		}),
		FanoutDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "soma", Name: "fanout_dropped_total",
			Help: "Fan-out copies dropped on full inboxes.",
		}),
	}
}

// Registry returns the registry to expose via promhttp.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// reflect wires collectors over the core's internal atomic counters.
func (m *Metrics) reflect(c *Core) {
	counter := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "soma", Name: name, Help: help,
		}, fn)
	}
	m.registry.MustRegister(
		counter("bus_published_total", "Observations accepted by the input bus.",
			func() float64 { return float64(c.bus.PublishedTotal()) }),
		counter("bus_dropped_total", "Observations dropped by the input bus.",
			func() float64 { return float64(c.bus.DroppedTotal()) }),
		counter("inbox_dropped_total", "Observations dropped on full session inboxes.",
			func() float64 { return float64(c.router.DroppedTotal()) }),
		counter("gate_processed_total", "Observations classified by the gate.",
			func() float64 { return float64(c.gateMetrics.ProcessedTotal()) }),
		counter("gate_dropped_total", "Gate DROP decisions.",
			func() float64 { return float64(c.gateMetrics.DroppedTotal()) }),
		counter("gate_sunk_total", "Gate SINK decisions.",
			func() float64 { return float64(c.gateMetrics.SunkTotal()) }),
		counter("gate_delivered_total", "Gate DELIVER decisions.",
			func() float64 { return float64(c.gateMetrics.DeliveredTotal()) }),
		counter("memory_errors_total", "Memory service errors swallowed fail-open.",
			func() float64 { return float64(c.memory.ErrorTotal()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "soma", Name: "sessions_active",
			Help: "Live sessions including the system session.",
		}, func() float64 { return float64(c.store.Len()) }),
	)
}
