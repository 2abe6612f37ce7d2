package gateway

import (
	"sync"
	"time"

	"github.com/eleven-am/stt-gateway/internal/transcription"
)

type State int

const (
	StateActive State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type CloseReason string

const (
	ReasonTransportClosed CloseReason = "transport_closed"
	ReasonIdleTimeout     CloseReason = "idle_timeout"
	ReasonBackendError    CloseReason = "backend_error"
	ReasonStartFailed     CloseReason = "start_failed"
)

// Session is one live connection. It is owned by the goroutine serving the
// connection; the mutex only guards counters touched by result callbacks.
type Session struct {
	ID        string
	Identity  string
	Requested string
	CreatedAt time.Time

	mu              sync.Mutex
	provider        string
	kind            transcription.Kind
	state           State
	reason          CloseReason
	lastAudioAt     time.Time
	lastProcessedAt time.Time
	firstResultAt   time.Time
	drainingAt      time.Time
	closedAt        time.Time
	bytesIn         int64
	frames          int64
	results         int64
	words           int64
}

// Stats is a point-in-time copy of a session's counters.
type Stats struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	CloseReason string    `json:"close_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastAudioAt time.Time `json:"last_audio_at,omitempty"`
	BytesIn     int64     `json:"bytes_in"`
	Frames      int64     `json:"frames"`
	Results     int64     `json:"results"`
	Words       int64     `json:"words"`
}

func newSession(id, identity, requested string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Identity:  identity,
		Requested: requested,
		CreatedAt: now,
		state:     StateActive,
	}
}

func (s *Session) bind(provider string, kind transcription.Kind) {
	s.mu.Lock()
	s.provider = provider
	s.kind = kind
	s.mu.Unlock()
}

func (s *Session) Provider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

func (s *Session) Kind() transcription.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// markClosing records why the session is ending. The first reason wins.
func (s *Session) markClosing(reason CloseReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != "" {
		return false
	}
	s.reason = reason
	return true
}

// transition moves the session forward; it never moves backwards.
func (s *Session) transition(to State, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to <= s.state {
		return
	}
	s.state = to
	switch to {
	case StateDraining:
		s.drainingAt = now
	case StateClosed:
		s.closedAt = now
	}
}

// drained reports whether the session went through Draining before closing.
func (s *Session) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.drainingAt.IsZero()
}

func (s *Session) recordFrame(n int, now time.Time) {
	s.mu.Lock()
	s.frames++
	s.bytesIn += int64(n)
	s.lastAudioAt = now
	s.mu.Unlock()
}

// recordResult counts a delivered result and reports whether it was the
// first one of the session.
func (s *Session) recordResult(final bool, words int, now time.Time) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results++
	s.lastProcessedAt = now
	if final {
		s.words += int64(words)
	}
	if s.firstResultAt.IsZero() {
		s.firstResultAt = now
		return true
	}
	return false
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ID:          s.ID,
		Provider:    s.provider,
		Kind:        s.kind.String(),
		State:       s.state.String(),
		CloseReason: string(s.reason),
		CreatedAt:   s.CreatedAt,
		LastAudioAt: s.lastAudioAt,
		BytesIn:     s.bytesIn,
		Frames:      s.frames,
		Results:     s.results,
		Words:       s.words,
	}
}

func (s *Session) lifetime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedAt.IsZero() {
		return 0
	}
	return s.closedAt.Sub(s.CreatedAt)
}
