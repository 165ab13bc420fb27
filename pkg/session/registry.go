// ABOUTME: Registry of active playback work
// ABOUTME: Holds streaming sessions and at most one cached asset handle
package session

import (
	"github.com/Resonate-Protocol/resonate-tts/pkg/playback"
	"github.com/Resonate-Protocol/resonate-tts/pkg/protocol"
)

// Kind distinguishes streaming sessions from cached assets
type Kind string

const (
	KindStreaming Kind = "streaming"
	KindCached    Kind = "cached"
)

// Outcome describes how a unit of work ended
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// Session is one transport client bound to one scheduler
type Session struct {
	id        string
	client    *protocol.Client
	scheduler *playback.Scheduler
	cancel    func()

	active bool
	err    error
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Active reports whether the session is still registered
func (s *Session) Active() bool { return s.active }

// Err returns the failure that ended the session, if any
func (s *Session) Err() error { return s.err }

// State returns the scheduler state
func (s *Session) State() playback.PlayerState { return s.scheduler.State() }

// Scheduler returns the session's scheduler
func (s *Session) Scheduler() *playback.Scheduler { return s.scheduler }

// Client returns the session's transport client
func (s *Session) Client() *protocol.Client { return s.client }

// stop tears down the client before the scheduler so no chunk lands in
// between. Returns false if already stopped.
func (s *Session) stop() bool {
	if !s.active {
		return false
	}
	s.active = false
	s.cancel()
	s.client.Stop()
	s.scheduler.Stop()
	return true
}

// assetHandle tracks one cached asset playback
type assetHandle struct {
	url       string
	scheduler *playback.Scheduler
	result    *playback.Completion
	cancel    func()
	active    bool
}

func (h *assetHandle) stop() bool {
	if !h.active {
		return false
	}
	h.active = false
	h.cancel()
	h.scheduler.Stop()
	h.result.Reject(ErrStopped)
	return true
}

// Registry tracks active work. It is mutated only by its Orchestrator.
type Registry struct {
	sessions map[string]*Session
	cached   *assetHandle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Len returns the number of active entries, counting the cached handle
func (r *Registry) Len() int {
	n := len(r.sessions)
	if r.cached != nil {
		n++
	}
	return n
}

// Session returns the active session with id
func (r *Registry) Session(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) add(s *Session) {
	r.sessions[s.id] = s
}

// remove deletes s only if it is still the registered session for its id
func (r *Registry) remove(s *Session) {
	if r.sessions[s.id] == s {
		delete(r.sessions, s.id)
	}
}

func (r *Registry) setCached(h *assetHandle) {
	r.cached = h
}

func (r *Registry) clearCached(h *assetHandle) {
	if r.cached == h {
		r.cached = nil
	}
}

// drain empties the registry and returns what was in it
func (r *Registry) drain() ([]*Session, *assetHandle) {
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	cached := r.cached
	r.cached = nil
	return sessions, cached
}
