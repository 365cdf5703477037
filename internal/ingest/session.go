package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionPhase is the lifecycle phase of an ingest session.
type SessionPhase string

const (
	PhaseFetching  SessionPhase = "fetching"
	PhaseParsing   SessionPhase = "parsing"
	PhaseComplete  SessionPhase = "complete"
	PhaseError     SessionPhase = "error"
	PhaseCancelled SessionPhase = "cancelled"
)

// Terminal reports whether the phase ends a session.
func (p SessionPhase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// Session is one ingest run. A snapshot type; the registry owns the mutable
// record.
type Session struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	Phase       SessionPhase `json:"phase"`
	TotalParsed int          `json:"total_parsed"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Registry tracks active ingest sessions. Lookups never block on I/O; the
// critical sections are map operations only.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Begin registers a new session and returns its id.
func (r *Registry) Begin(url string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &Session{
		ID:        id,
		URL:       url,
		Phase:     PhaseFetching,
		StartedAt: time.Now(),
	}
	r.mu.Unlock()
	return id
}

// Update sets the phase and parsed count of a session.
func (r *Registry) Update(id string, phase SessionPhase, totalParsed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	s.Phase = phase
	s.TotalParsed = totalParsed
}

// End moves a session to a terminal phase and removes it from the registry.
// Every session ends in exactly one of complete, error, or cancelled.
func (r *Registry) End(id string, phase SessionPhase, errMsg string) {
	if !phase.Terminal() {
		phase = PhaseError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	now := time.Now()
	s.Phase = phase
	s.EndedAt = &now
	s.Error = errMsg
	delete(r.sessions, id)
}

// Get returns a snapshot of the session, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	snapshot := *s
	return &snapshot
}

// Active returns snapshots of all live sessions.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot := *s
		out = append(out, &snapshot)
	}
	return out
}
