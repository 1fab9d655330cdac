// Package conversation holds per-user chat sessions and runs question turns
// through the query agent.
package conversation

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTurnInProgress is returned when a session is already answering a question.
	ErrTurnInProgress = errors.New("a question is already being answered for this session")
	// ErrSessionClosed is returned for sessions that were discarded or evicted.
	ErrSessionClosed = errors.New("session closed")
)

// Speaker identifies who produced an entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one message of the transcript.
type Entry struct {
	Speaker Speaker   `json:"speaker"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// State is the interaction state of a session.
type State string

const (
	StateIdle           State = "idle"
	StateComposing      State = "composing"
	StateAgentExecuting State = "agent_executing"
	StateRecording      State = "recording"
)

// Session is one user's conversation. Entries only grow; a turn either
// appends a user/assistant pair or nothing.
type Session struct {
	id      string
	owner   string
	created time.Time

	turn sync.Mutex

	mu         sync.RWMutex
	entries    []Entry
	state      State
	lastActive time.Time
	closed     bool
}

func newSession(owner string, now time.Time) *Session {
	return &Session{
		id:         uuid.NewString(),
		owner:      owner,
		created:    now,
		state:      StateIdle,
		lastActive: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Owner returns the owner key the session was created for.
func (s *Session) Owner() string { return s.owner }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.created }

// Entries returns a copy of the transcript.
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Len returns the number of transcript entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// State returns the current interaction state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActive returns the time of the last submitted question.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Closed reports whether the session was discarded.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Snapshot returns the current state and transcript.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		SessionID: s.id,
		State:     s.state,
		Entries:   slices.Clone(s.entries),
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) appendPair(question, answer string, at time.Time) {
	s.mu.Lock()
	s.entries = append(s.entries,
		Entry{Speaker: SpeakerUser, Message: question, At: at},
		Entry{Speaker: SpeakerAssistant, Message: answer, At: at},
	)
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// idleSince reports whether the session is idle and untouched since cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateIdle && s.lastActive.Before(cutoff)
}

// Snapshot is what observers and transports see of a session.
type Snapshot struct {
	SessionID string  `json:"session_id"`
	State     State   `json:"state"`
	Entries   []Entry `json:"entries"`
	Question  string  `json:"question,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Observer receives a snapshot on every state transition of a turn.
type Observer func(Snapshot)
