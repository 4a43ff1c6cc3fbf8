package entities

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PipelineState mirrors the wake-word gate state of a session's pipeline.
type PipelineState string

const (
	StateIdle      PipelineState = "idle"
	StateArmed     PipelineState = "armed"
	StateTriggered PipelineState = "triggered"
	StateCooldown  PipelineState = "cooldown"
)

// DegradationLevel tracks how far a session has stepped down the graceful
// degradation ladder. Levels only ever increase for the lifetime of a session.
type DegradationLevel int

const (
	// DegradationNone means full functionality.
	DegradationNone DegradationLevel = iota
	// DegradationNoWakeWord disables wake-word gating; recognition is
	// push-to-talk only.
	DegradationNoWakeWord
	// DegradationNoInterpreter disables natural-language interpretation;
	// only rule-based commands work.
	DegradationNoInterpreter
	// DegradationTextOnly disables speech recognition entirely.
	DegradationTextOnly
)

func (d DegradationLevel) String() string {
	switch d {
	case DegradationNone:
		return "none"
	case DegradationNoWakeWord:
		return "no_wake_word"
	case DegradationNoInterpreter:
		return "no_interpreter"
	case DegradationTextOnly:
		return "text_only"
	default:
		return "unknown"
	}
}

// StreamConfig is the audio format negotiated at stream start.
type StreamConfig struct {
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
	Language   string `json:"language"`
}

var (
	ErrStreamAlreadyActive = errors.New("audio stream already active")
	ErrStreamNotActive     = errors.New("no active audio stream")
)

// Session represents one authenticated voice connection. A session lives
// exactly as long as its connection; it is mutated by the owning pipeline
// goroutine and read by the hub's janitor, hence the lock.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu           sync.RWMutex
	lastActiveAt time.Time
	state        PipelineState
	streamActive bool
	streamConfig StreamConfig
	degradation  DegradationLevel
}

// SessionInfo is a point-in-time snapshot safe to serialize.
type SessionInfo struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
	State        PipelineState `json:"state"`
	StreamActive bool          `json:"stream_active"`
	Degradation  string        `json:"degradation"`
}

// NewSession creates a session for an authenticated user.
func NewSession(userID string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		CreatedAt:    now,
		lastActiveAt: now,
		state:        StateIdle,
	}
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// LastActive returns the last-activity timestamp.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// IdleFor reports whether the session has been inactive longer than d.
func (s *Session) IdleFor(d time.Duration) bool {
	return time.Since(s.LastActive()) > d
}

// State returns the current pipeline state.
func (s *Session) State() PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState records the pipeline state reported by the wake-word gate.
func (s *Session) SetState(state PipelineState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// StartStream marks the audio stream active. A session accepts at most one
// concurrent stream; starting a second fails without touching the first.
func (s *Session) StartStream(cfg StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamActive {
		return ErrStreamAlreadyActive
	}
	s.streamActive = true
	s.streamConfig = cfg
	s.lastActiveAt = time.Now()
	return nil
}

// EndStream marks the audio stream inactive. The session itself stays alive.
func (s *Session) EndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streamActive {
		return ErrStreamNotActive
	}
	s.streamActive = false
	s.lastActiveAt = time.Now()
	return nil
}

// StreamActive reports whether an audio stream is currently open.
func (s *Session) StreamActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamActive
}

// ActiveStreamConfig returns the config negotiated at stream start.
func (s *Session) ActiveStreamConfig() StreamConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamConfig
}

// Degradation returns the session's current degradation level.
func (s *Session) Degradation() DegradationLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degradation
}

// Degrade steps the session down to level if that is a strict increase.
// Degradation never reverses within a session.
func (s *Session) Degrade(level DegradationLevel) DegradationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level > s.degradation {
		s.degradation = level
	}
	return s.degradation
}

// Info returns a snapshot for logging and the stats endpoint.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:           s.ID,
		UserID:       s.UserID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.lastActiveAt,
		State:        s.state,
		StreamActive: s.streamActive,
		Degradation:  s.degradation.String(),
	}
}
