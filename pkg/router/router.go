// Package router dispatches bus observations into per-session inboxes.
// Each session key owns exactly one inbox; the router creates inboxes
// lazily on first touch and never blocks on a full inbox.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/somabus/soma/pkg/bus"
	"github.com/somabus/soma/pkg/schema"
)

// Message routing modes.
const (
	RoutingUser    = "user"
	RoutingDefault = "default"
)

// Config controls session-key resolution and inbox sizing.
type Config struct {
	InboxMaxsize      int
	SystemSessionKey  string
	DefaultSessionKey string
	MessageRouting    string // "user" or "default"
}

// DefaultConfig returns the built-in router defaults.
func DefaultConfig() Config {
	return Config{
		InboxMaxsize:      256,
		SystemSessionKey:  "system",
		DefaultSessionKey: "default",
		MessageRouting:    RoutingUser,
	}
}

// NewSessionFunc is invoked once per newly created session, before any
// observation is enqueued for it. The core uses it to spawn the worker.
type NewSessionFunc func(sessionKey string, inbox *Inbox)

// Router owns the session_key → inbox mapping and the dispatch loop.
type Router struct {
	bus *bus.Bus
	cfg Config

	mu       sync.RWMutex
	inboxes  map[string]*Inbox
	onNew    NewSessionFunc
	droppedT atomic.Int64
}

// New creates a router reading from the given bus. onNew may be nil.
func New(b *bus.Bus, cfg Config, onNew NewSessionFunc) *Router {
	if cfg.InboxMaxsize <= 0 {
		cfg.InboxMaxsize = 256
	}
	if cfg.SystemSessionKey == "" {
		cfg.SystemSessionKey = "system"
	}
	if cfg.DefaultSessionKey == "" {
		cfg.DefaultSessionKey = "default"
	}
	if cfg.MessageRouting != RoutingUser && cfg.MessageRouting != RoutingDefault {
		cfg.MessageRouting = RoutingUser
	}
	return &Router{
		bus:     b,
		cfg:     cfg,
		inboxes: make(map[string]*Inbox),
		onNew:   onNew,
	}
}

// ResolveSessionKey derives the session key for an observation:
//
//  1. an explicit session_key wins;
//  2. MESSAGE observations route to "user:<actor_id>" (or the default
//     session, depending on MessageRouting);
//  3. everything else routes to the system session.
func (r *Router) ResolveSessionKey(obs *schema.Observation) string {
	if obs.SessionKey != "" {
		return obs.SessionKey
	}
	if obs.ObsType == schema.ObsMessage {
		if r.cfg.MessageRouting == RoutingDefault {
			return r.cfg.DefaultSessionKey
		}
		if obs.Actor.ActorID != "" {
			return "user:" + obs.Actor.ActorID
		}
		return r.cfg.DefaultSessionKey
	}
	return r.cfg.SystemSessionKey
}

// GetInbox returns the inbox for a session, creating it (and registering
// the session as active) on first touch.
func (r *Router) GetInbox(sessionKey string) *Inbox {
	r.mu.RLock()
	in, ok := r.inboxes[sessionKey]
	r.mu.RUnlock()
	if ok {
		return in
	}

	r.mu.Lock()
	in, ok = r.inboxes[sessionKey]
	if !ok {
		in = NewInbox(r.cfg.InboxMaxsize)
		r.inboxes[sessionKey] = in
	}
	r.mu.Unlock()

	if !ok && r.onNew != nil {
		r.onNew(sessionKey, in)
	}
	return in
}

// RemoveSession closes and forgets a session's inbox. Used by the GC sweep.
func (r *Router) RemoveSession(sessionKey string) {
	r.mu.Lock()
	in, ok := r.inboxes[sessionKey]
	delete(r.inboxes, sessionKey)
	r.mu.Unlock()
	if ok {
		in.Close()
	}
}

// ListActiveSessions returns a stable sorted snapshot of active session
// keys. The fan-out logic relies on the ordering being deterministic.
func (r *Router) ListActiveSessions() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.inboxes))
	for k := range r.inboxes {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// DroppedTotal returns the number of observations dropped on full inboxes.
func (r *Router) DroppedTotal() int64 { return r.droppedT.Load() }

// Dispatch routes a single observation into its inbox. Exposed for the
// fan-out path, which bypasses the bus re-entry on purpose.
func (r *Router) Dispatch(obs *schema.Observation) bool {
	sk := r.ResolveSessionKey(obs)
	in := r.GetInbox(sk)
	ok := in.PutNowait(obs)
	if !ok {
		r.droppedT.Add(1)
		slog.Warn("Inbox full, dropped observation",
			"session_key", sk, "obs_id", obs.ObsID, "obs_type", obs.ObsType)
	}
	return ok
}

// Run consumes the bus until it closes or the context is cancelled,
// dispatching each observation. It never blocks on a full inbox.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-r.bus.Consume():
			if !ok {
				return
			}
			r.Dispatch(obs)
		}
	}
}
