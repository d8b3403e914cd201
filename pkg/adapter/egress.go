package adapter

import (
	"log/slog"
	"sync"

	"github.com/somabus/soma/pkg/schema"
)

// Sink receives processed observations on the way out of the core.
type Sink interface {
	Name() string
	Deliver(obs *schema.Observation)
}

// EgressHub fans processed observations out to registered sinks. A sink
// may be bound to one session key; unbound sinks receive everything.
type EgressHub struct {
	mu    sync.RWMutex
	sinks []registeredSink
}

type registeredSink struct {
	sink       Sink
	sessionKey string // "" means all sessions
}

// NewEgressHub builds an empty hub.
func NewEgressHub() *EgressHub {
	return &EgressHub{}
}

// Register adds a sink. sessionKey filters delivery; empty receives all.
func (h *EgressHub) Register(sink Sink, sessionKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, registeredSink{sink: sink, sessionKey: sessionKey})
	slog.Info("Egress sink registered", "sink", sink.Name(), "session_key", sessionKey)
}

// Dispatch delivers the observation to every matching sink. Sink panics
// are contained so one bad sink cannot take down the worker.
func (h *EgressHub) Dispatch(obs *schema.Observation) {
	h.mu.RLock()
	sinks := make([]registeredSink, len(h.sinks))
	copy(sinks, h.sinks)
	h.mu.RUnlock()

	for _, r := range sinks {
		if r.sessionKey != "" && r.sessionKey != obs.SessionKey {
			continue
		}
		deliver(r.sink, obs)
	}
}

func deliver(sink Sink, obs *schema.Observation) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Egress sink panicked", "sink", sink.Name(), "cause", r)
		}
	}()
	sink.Deliver(obs)
}

// FuncSink adapts a function to the Sink interface.
type FuncSink struct {
	SinkName string
	Fn       func(obs *schema.Observation)
}

// Name implements Sink.
func (f *FuncSink) Name() string { return f.SinkName }

// Deliver implements Sink.
func (f *FuncSink) Deliver(obs *schema.Observation) { f.Fn(obs) }
