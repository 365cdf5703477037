package proxy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/plexbridge/plexbridge/internal/models"
)

// SessionState is one step of the per-session lifecycle:
// resolving -> spawning -> streaming -> (draining | killed) -> exited.
type SessionState string

const (
	StateResolving SessionState = "resolving"
	StateSpawning  SessionState = "spawning"
	StateStreaming SessionState = "streaming"
	StateDraining  SessionState = "draining"
	StateKilled    SessionState = "killed"
	StateExited    SessionState = "exited"
)

// Terminal reports whether the state ends the session.
func (s SessionState) Terminal() bool {
	return s == StateExited || s == StateKilled
}

// Session tracks one running FFmpeg pump. StreamID and Pipeline are set
// during resolve/classify and guarded against concurrent listing reads.
type Session struct {
	ID        string
	ChannelID *models.ULID
	ClientIP  string
	StartedAt time.Time

	mu       sync.Mutex
	streamID models.ULID
	pipeline Pipeline

	state     atomic.Value
	bytesSent atomic.Int64
	pid       atomic.Int64
}

func (s *Session) setStream(id models.ULID) {
	s.mu.Lock()
	s.streamID = id
	s.mu.Unlock()
}

func (s *Session) setPipeline(p Pipeline) {
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
}

// StreamID returns the resolved stream id, zero before resolve.
func (s *Session) StreamID() models.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// Pipeline returns the classified pipeline, empty before classify.
func (s *Session) Pipeline() Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	if v := s.state.Load(); v != nil {
		return v.(SessionState)
	}
	return StateResolving
}

func (s *Session) setState(state SessionState) {
	s.state.Store(state)
}

// BytesSent returns bytes written to the client so far.
func (s *Session) BytesSent() int64 {
	return s.bytesSent.Load()
}

// PID returns the FFmpeg process id, or zero before spawn.
func (s *Session) PID() int {
	return int(s.pid.Load())
}

// SessionInfo is the listing-endpoint shape of a session.
type SessionInfo struct {
	ID        string       `json:"id"`
	ChannelID *models.ULID `json:"channel_id,omitempty"`
	StreamID  models.ULID  `json:"stream_id"`
	Pipeline  Pipeline     `json:"pipeline"`
	State     SessionState `json:"state"`
	ClientIP  string       `json:"client_ip,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	BytesSent int64        `json:"bytes_sent"`
	PID       int          `json:"pid,omitempty"`
}

// SessionRegistry holds active sessions. Lookups never block on I/O.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Begin registers a new session in the resolving state.
func (r *SessionRegistry) Begin(channelID *models.ULID, streamID models.ULID, clientIP string) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		ClientIP:  clientIP,
		StartedAt: time.Now(),
	}
	session.streamID = streamID
	session.setState(StateResolving)

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	return session
}

// End marks the session terminal and removes it from the registry.
func (r *SessionRegistry) End(session *Session, state SessionState) {
	if !state.Terminal() {
		state = StateExited
	}
	session.setState(state)

	r.mu.Lock()
	delete(r.sessions, session.ID)
	r.mu.Unlock()
}

// Active returns a snapshot of every live session.
func (r *SessionRegistry) Active() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{
			ID:        s.ID,
			ChannelID: s.ChannelID,
			StreamID:  s.StreamID(),
			Pipeline:  s.Pipeline(),
			State:     s.State(),
			ClientIP:  s.ClientIP,
			StartedAt: s.StartedAt,
			BytesSent: s.BytesSent(),
			PID:       s.PID(),
		})
	}
	return out
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
