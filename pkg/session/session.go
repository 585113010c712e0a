// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/wsserial/pkg/endpoint"
	"github.com/google/uuid"
)

// State is a step in a connection's lifecycle.
type State int

const (
	Resolving State = iota
	Leasing
	Opening
	Active
	Closing
	Closed
	Rejected
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Leasing:
		return "leasing"
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == Closed || s == Rejected
}

var transitions = map[State][]State{
	Resolving: {Rejected, Leasing},
	Leasing:   {Rejected, Opening},
	Opening:   {Rejected, Active},
	Active:    {Closing},
	Closing:   {Closed},
}

// Session is the live state of one bridged connection.
type Session struct {
	ID         string
	RemoteAddr string
	Started    time.Time

	mu       sync.Mutex
	endpoint endpoint.Config
	name     string
	state    State
	cancel   context.CancelCauseFunc
}

// New creates a session in the Resolving state for a request naming the
// given endpoint.
func New(name, remoteAddr string) *Session {
	return &Session{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		Started:    time.Now(),
		name:       name,
		state:      Resolving,
	}
}

// Context derives the session's cancellation scope from parent. Cancel
// cancels the returned context with the given cause.
func (s *Session) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx
}

// Cancel asks the session to stop. It is safe to call at any time and from
// any goroutine.
func (s *Session) Cancel(cause error) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string {
	return s.ID
}

// Name returns the endpoint name from the request.
func (s *Session) Name() string {
	return s.name
}

// Bind records the resolved endpoint configuration.
func (s *Session) Bind(cfg endpoint.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = cfg
}

// Endpoint returns the resolved endpoint configuration.
func (s *Session) Endpoint() endpoint.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to the next state. Transitions not in the
// lifecycle graph are rejected.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, next := range transitions[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("session %s: invalid transition %s -> %s", s.ID, s.state, to)
}
