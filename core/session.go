package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the lifecycle states of a worker session.
//
// Transitions: INACTIVE → STARTING → ACTIVE → {STOPPING → INACTIVE, ERROR}.
// ERROR is terminal until the session is explicitly recreated.
type SessionStatus string

const (
	// SessionInactive is the initial and post-termination state.
	SessionInactive SessionStatus = "inactive"
	// SessionStarting means the backing worker process is being launched.
	SessionStarting SessionStatus = "starting"
	// SessionActive means the session can accept messages.
	SessionActive SessionStatus = "active"
	// SessionStopping means the session is being terminated.
	SessionStopping SessionStatus = "stopping"
	// SessionError means the backing worker could not be (re)created.
	SessionError SessionStatus = "error"
)

// Exchange is one entry in a session's append-only conversation history.
type Exchange struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is a stateful conversation context bound to one project and one
// external worker process. The worker process handle itself is held by the
// session manager, not the entity, so sessions stay cloneable and
// serializable. Safe for concurrent access.
type Session struct {
	ID           string        `json:"id"`
	Project      string        `json:"project"`
	Status       SessionStatus `json:"status"`
	Created      time.Time     `json:"created"`
	LastActivity time.Time     `json:"last_activity"`
	// Token is the external session token issued by the worker backend, if any.
	Token   string     `json:"token,omitempty"`
	History []Exchange `json:"history"`

	mu sync.RWMutex
}

// NewSession creates a session for the given project in the STARTING state.
func NewSession(project string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Project:      project,
		Status:       SessionStarting,
		Created:      now,
		LastActivity: now,
		History:      []Exchange{},
	}
}

// SetStatus transitions the session to the given status.
func (s *Session) SetStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.LastActivity = time.Now()
}

// GetStatus returns the current status.
func (s *Session) GetStatus() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// SetToken records the external session token issued by the worker backend.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = token
}

// AddExchange appends an entry to the conversation history and bumps
// LastActivity. History is append-only; entries are never rewritten.
func (s *Session) AddExchange(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, Exchange{Role: role, Text: text, At: time.Now()})
	s.LastActivity = time.Now()
}

// ConversationHistory returns a defensive copy of the full history.
func (s *Session) ConversationHistory() []Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]Exchange, len(s.History))
	copy(history, s.History)
	return history
}

// Touch bumps the LastActivity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// Clone returns a deep copy of the session safe for independent use.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:           s.ID,
		Project:      s.Project,
		Status:       s.Status,
		Created:      s.Created,
		LastActivity: s.LastActivity,
		Token:        s.Token,
		History:      make([]Exchange, len(s.History)),
	}
	copy(clone.History, s.History)
	return clone
}
