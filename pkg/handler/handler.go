// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"time"
)

// Context contains session metadata passed to Handler methods.
type Context struct {
	// SessionID is a unique identifier for this connection/session
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// Endpoint is the endpoint name taken from the request path
	Endpoint string

	// Device is the serial device path, empty if the endpoint was unknown
	Device string

	// BaudRate the device is opened with
	BaudRate int

	// Started is when the connection was accepted
	Started time.Time
}

// Handler receives session lifecycle notifications.
//
// Handlers are observers: they cannot veto a session, and errors they return
// are logged but never change what happens to the connection.
type Handler interface {
	// OnConnect is called once the serial device is open and bridging starts.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnReject is called when a connection is refused before bridging, with
	// the reason (unknown endpoint, busy, open failure, shutting down).
	OnReject(ctx context.Context, hctx *Context, reason error) error

	// OnDisconnect is called after an active session has released its lease
	// and closed its device. cause describes why the session ended.
	OnDisconnect(ctx context.Context, hctx *Context, cause error) error
}

// NoopHandler is a Handler implementation that ignores all events.
// Useful for testing or when no notifications are needed.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnReject(ctx context.Context, hctx *Context, reason error) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context, cause error) error {
	return nil
}

// Chain fans every event out to each handler in order. All handlers are
// called; the first error is returned.
type Chain []Handler

var _ Handler = Chain(nil)

func (c Chain) OnConnect(ctx context.Context, hctx *Context) error {
	var first error
	for _, h := range c {
		if err := h.OnConnect(ctx, hctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c Chain) OnReject(ctx context.Context, hctx *Context, reason error) error {
	var first error
	for _, h := range c {
		if err := h.OnReject(ctx, hctx, reason); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c Chain) OnDisconnect(ctx context.Context, hctx *Context, cause error) error {
	var first error
	for _, h := range c {
		if err := h.OnDisconnect(ctx, hctx, cause); err != nil && first == nil {
			first = err
		}
	}
	return first
}
