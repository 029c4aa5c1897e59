package agent

import "sync"

// Registry is the only shared mutable state between calls: a
// mutex-guarded map from call SID to live session. It is injected
// wherever sessions are created or looked up; there is no package
// global.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Start returns the session for callSID, creating it if absent.
// Starting the same call twice returns the same session (idempotent
// start); created reports whether this call made it.
func (r *Registry) Start(callSID, from, to string, dir Direction) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[callSID]; ok {
		return existing, false
	}
	s = newSession(callSID, from, to, dir)
	r.sessions[callSID] = s
	return s, true
}

// Get looks up a live session.
func (r *Registry) Get(callSID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	return s, ok
}

// Remove retires a session from the registry. The session itself is
// returned so the caller can persist its summary.
func (r *Registry) Remove(callSID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	if ok {
		delete(r.sessions, callSID)
	}
	return s, ok
}

// Active reports the number of live sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
