// Package memory defines the event/turn persistence collaborator. The core
// treats it as optional: any failure degrades to fail-open so the event
// loop keeps running without persistence.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/somabus/soma/pkg/schema"
)

// Turn statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Service persists observations and agent turns. Implementations must be
// safe for concurrent use by the session workers.
type Service interface {
	// AppendEvent records one observation and returns its event id.
	AppendEvent(ctx context.Context, obs *schema.Observation, sessionKey string, meta map[string]any) (string, error)
	// AppendTurn opens a turn keyed to the triggering event.
	AppendTurn(ctx context.Context, sessionKey, inputEventID string, meta map[string]any) (string, error)
	// FinishTurn closes a turn with the final output (if any) and status.
	FinishTurn(ctx context.Context, turnID, finalObsID, status, errMsg string) error
	// Close releases resources.
	Close() error
}

// Event is one persisted observation record.
type Event struct {
	EventID    string
	SessionKey string
	ObsID      string
	ObsType    schema.ObsType
	SourceName string
	Meta       map[string]any
	CreatedAt  time.Time
}

// Turn is one persisted agent invocation record.
type Turn struct {
	TurnID       string
	SessionKey   string
	InputEventID string
	FinalObsID   string
	Status       string
	Error        string
	Meta         map[string]any
	StartedAt    time.Time
	FinishedAt   time.Time
}

// InMemory is the built-in store. It keeps bounded per-process history and
// exists mainly for tests and single-process deployments.
type InMemory struct {
	mu     sync.Mutex
	events []Event
	turns  map[string]*Turn
	max    int
	closed bool
}

// NewInMemory builds a store retaining at most max events (0 means 4096).
func NewInMemory(max int) *InMemory {
	if max <= 0 {
		max = 4096
	}
	return &InMemory{turns: make(map[string]*Turn), max: max}
}

// AppendEvent implements Service.
func (m *InMemory) AppendEvent(_ context.Context, obs *schema.Observation, sessionKey string, meta map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	ev := Event{
		EventID:    uuid.NewString(),
		SessionKey: sessionKey,
		ObsID:      obs.ObsID,
		ObsType:    obs.ObsType,
		SourceName: obs.SourceName,
		Meta:       meta,
		CreatedAt:  time.Now().UTC(),
	}
	if len(m.events) >= m.max {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, ev)
	return ev.EventID, nil
}

// AppendTurn implements Service.
func (m *InMemory) AppendTurn(_ context.Context, sessionKey, inputEventID string, meta map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	turn := &Turn{
		TurnID:       uuid.NewString(),
		SessionKey:   sessionKey,
		InputEventID: inputEventID,
		Meta:         meta,
		StartedAt:    time.Now().UTC(),
	}
	m.turns[turn.TurnID] = turn
	return turn.TurnID, nil
}

// FinishTurn implements Service.
func (m *InMemory) FinishTurn(_ context.Context, turnID, finalObsID, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	turn, ok := m.turns[turnID]
	if !ok {
		return ErrUnknownTurn
	}
	turn.FinalObsID = finalObsID
	turn.Status = status
	turn.Error = errMsg
	turn.FinishedAt = time.Now().UTC()
	return nil
}

// Close implements Service.
func (m *InMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events copies the stored events, oldest first.
func (m *InMemory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Turn returns a copy of the turn with the given id.
func (m *InMemory) Turn(turnID string) (Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turns[turnID]
	if !ok {
		return Turn{}, false
	}
	return *t, true
}
