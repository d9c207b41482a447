// Package session provides the session lifecycle state machine and
// per-session sequence numbering.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a relay session.
type State int

const (
	// StateStarting - Connection accepted, upstream not yet open.
	StateStarting State = iota
	// StateActive - Audio and transcripts are flowing.
	StateActive
	// StateClosing - Teardown in progress. Only already-queued messages
	// may still reach the client.
	StateClosing
	// StateClosed - Terminal. All owned resources released.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for CLOSED.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// ErrInvalidTransition is returned for a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	STARTING → ACTIVE → CLOSING → CLOSED
//	    │                  ▲
//	    └──────────────────┘  (upstream unavailable)
//
// Rules:
//   - Activate only from STARTING
//   - BeginClosing from STARTING or ACTIVE; the first caller wins and
//     its reason is kept
//   - Close only from CLOSING
type Lifecycle struct {
	mu        sync.RWMutex
	sessionId string
	state     State
	reason    string
}

// NewLifecycle creates a new session lifecycle in STARTING state.
func NewLifecycle(sessionId string) *Lifecycle {
	return &Lifecycle{
		sessionId: sessionId,
		state:     StateStarting,
	}
}

// SessionId returns the session ID.
func (l *Lifecycle) SessionId() string {
	return l.sessionId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Reason returns the reason passed to the winning BeginClosing call.
func (l *Lifecycle) Reason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// IsActive returns true if the session is in ACTIVE state.
func (l *Lifecycle) IsActive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateActive
}

// Activate transitions STARTING → ACTIVE.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStarting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, StateActive)
	}
	l.state = StateActive
	return nil
}

// BeginClosing transitions to CLOSING. Returns false if teardown has
// already begun.
func (l *Lifecycle) BeginClosing(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateStarting, StateActive:
		l.state = StateClosing
		l.reason = reason
		return true
	default:
		return false
	}
}

// Close transitions CLOSING → CLOSED. Idempotent once closed.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateClosing:
		l.state = StateClosed
		return nil
	case StateClosed:
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, StateClosed)
	}
}
