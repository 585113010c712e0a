// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/absmach/wsserial/pkg/errors"
)

// Member is a session the Coordinator can stop.
type Member interface {
	SessionID() string
	Cancel(cause error)
}

// Coordinator tracks every active session and stops them all on shutdown.
//
// Sessions register when they become active and deregister once their serial
// handle is closed. After Shutdown starts, Register refuses new members, so
// the set being waited on can only shrink.
type Coordinator struct {
	mu       sync.Mutex
	members  map[string]Member
	closing  bool
	wg       sync.WaitGroup
	done     chan struct{}
	root     context.Context
	cancel   context.CancelCauseFunc
	logger   *slog.Logger
	shutdown sync.Once
}

// NewCoordinator creates a coordinator. A nil logger uses slog.Default().
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	root, cancel := context.WithCancelCause(context.Background())
	return &Coordinator{
		members: make(map[string]Member),
		done:    make(chan struct{}),
		root:    root,
		cancel:  cancel,
		logger:  logger,
	}
}

// Context is cancelled with errors.ErrShuttingDown when shutdown begins.
// Per-connection work derives its context from it.
func (c *Coordinator) Context() context.Context {
	return c.root
}

// Done is closed when shutdown begins.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// ShuttingDown reports whether shutdown has begun.
func (c *Coordinator) ShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Register adds m to the set of active sessions. It returns
// errors.ErrShuttingDown once shutdown has begun.
func (c *Coordinator) Register(m Member) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return errors.ErrShuttingDown
	}
	if _, ok := c.members[m.SessionID()]; ok {
		return nil
	}
	c.members[m.SessionID()] = m
	c.wg.Add(1)
	return nil
}

// Deregister removes m. Removing an unknown member is a no-op.
func (c *Coordinator) Deregister(m Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members[m.SessionID()]; !ok {
		return
	}
	delete(c.members, m.SessionID())
	c.wg.Done()
}

// Active returns the number of registered sessions.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Shutdown signals every registered session to stop and waits until all of
// them have deregistered or ctx is done. It may be called more than once;
// every call waits.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdown.Do(func() {
		c.mu.Lock()
		c.closing = true
		members := make([]Member, 0, len(c.members))
		for _, m := range c.members {
			members = append(members, m)
		}
		c.mu.Unlock()

		close(c.done)
		c.cancel(errors.ErrShuttingDown)

		c.logger.Info("stopping sessions", slog.Int("active", len(members)))
		for _, m := range members {
			m.Cancel(errors.ErrShuttingDown)
		}
	})

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		c.logger.Info("all sessions closed")
		return nil
	case <-ctx.Done():
		c.logger.Warn("sessions still open at shutdown deadline", slog.Int("active", c.Active()))
		return ctx.Err()
	}
}
