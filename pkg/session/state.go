// Package session holds the per-session runtime state: a bounded ring of
// recent observations plus processing counters. This is not the memory
// system — it exists for the worker, the agent context builder, and tests.
package session

import (
	"sync"
	"time"

	"github.com/somabus/soma/pkg/schema"
)

// DefaultRecentSize is the default capacity of the recent-observation ring.
const DefaultRecentSize = 32

// Snapshot is a read-only copy of a session's state, safe to hand to the
// agent orchestrator.
type Snapshot struct {
	SessionKey     string
	CreatedAt      time.Time
	LastActiveAt   time.Time
	ProcessedTotal int64
	ErrorTotal     int64
	Recent         []*schema.Observation
}

// State is the runtime state of one session. It is mutated only by that
// session's worker; other readers take Snapshots.
type State struct {
	mu sync.RWMutex

	sessionKey   string
	createdAt    time.Time
	lastActiveAt time.Time

	processedTotal int64
	errorTotal     int64

	recent []*schema.Observation
	size   int
}

// NewState creates a session state with the given recent-ring capacity.
func NewState(sessionKey string, recentSize int) *State {
	if recentSize <= 0 {
		recentSize = DefaultRecentSize
	}
	now := time.Now()
	return &State{
		sessionKey: sessionKey,
		createdAt:  now,
		recent:     make([]*schema.Observation, 0, recentSize),
		size:       recentSize,
	}
}

// SessionKey returns the owning session key.
func (s *State) SessionKey() string { return s.sessionKey }

// Record appends an observation to the recent ring, bumps processed_total
// and refreshes last_active_at.
func (s *State) Record(obs *schema.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
	s.processedTotal++
	if len(s.recent) == s.size {
		copy(s.recent, s.recent[1:])
		s.recent[len(s.recent)-1] = obs
		return
	}
	s.recent = append(s.recent, obs)
}

// RecordError bumps error_total and refreshes last_active_at.
func (s *State) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
	s.errorTotal++
}

// Touch refreshes last_active_at without recording anything.
func (s *State) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

// IdleFor returns how long the session has been idle at the given instant.
// A session that never processed anything reports idleness since creation.
func (s *State) IdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.lastActiveAt
	if last.IsZero() {
		last = s.createdAt
	}
	return now.Sub(last)
}

// ProcessedTotal returns the processed counter.
func (s *State) ProcessedTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedTotal
}

// ErrorTotal returns the error counter.
func (s *State) ErrorTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorTotal
}

// Snapshot copies the state for read-only consumers.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recent := make([]*schema.Observation, len(s.recent))
	copy(recent, s.recent)
	return Snapshot{
		SessionKey:     s.sessionKey,
		CreatedAt:      s.createdAt,
		LastActiveAt:   s.lastActiveAt,
		ProcessedTotal: s.processedTotal,
		ErrorTotal:     s.errorTotal,
		Recent:         recent,
	}
}
