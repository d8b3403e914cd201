package session

import "sync"

// Store holds the live session states, keyed by session key.
type Store struct {
	mu         sync.RWMutex
	states     map[string]*State
	recentSize int
}

// NewStore creates a store whose states use the given recent-ring size.
func NewStore(recentSize int) *Store {
	if recentSize <= 0 {
		recentSize = DefaultRecentSize
	}
	return &Store{states: make(map[string]*State), recentSize: recentSize}
}

// Get returns the state for a session, creating it on first touch.
func (st *Store) Get(sessionKey string) *State {
	st.mu.RLock()
	s, ok := st.states[sessionKey]
	st.mu.RUnlock()
	if ok {
		return s
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.states[sessionKey]; ok {
		return s
	}
	s = NewState(sessionKey, st.recentSize)
	st.states[sessionKey] = s
	return s
}

// Peek returns the state if it exists, without creating one.
func (st *Store) Peek(sessionKey string) (*State, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.states[sessionKey]
	return s, ok
}

// Remove forgets a session's state. Used by the GC sweep.
func (st *Store) Remove(sessionKey string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.states, sessionKey)
}

// Keys returns the session keys currently held.
func (st *Store) Keys() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]string, 0, len(st.states))
	for k := range st.states {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.states)
}
