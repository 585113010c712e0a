// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy shared by the bridge and the
// mapping from those errors to WebSocket close codes.
package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates an invalid endpoint configuration. It is fatal at startup.
	ErrConfig = errors.New("invalid configuration")

	// ErrUnknownEndpoint indicates the requested endpoint name is not configured.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrPortBusy indicates the device is leased by another session.
	ErrPortBusy = errors.New("endpoint busy")

	// ErrSerialOpen indicates the serial device could not be opened.
	ErrSerialOpen = errors.New("device failed to open")

	// ErrSerialIO indicates a read or write fault on an open serial device.
	ErrSerialIO = errors.New("serial i/o error")

	// ErrClientDisconnect indicates the WebSocket client went away.
	ErrClientDisconnect = errors.New("client disconnected")

	// ErrShuttingDown indicates the process is draining sessions.
	ErrShuttingDown = errors.New("server shutting down")
)

// WebSocket close codes sent to clients. Codes in the 4000-4999 range are
// reserved for applications by RFC 6455.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseInternalError   = 1011
	CloseUnknownEndpoint = 4004
	ClosePortBusy        = 4009
	CloseSerialOpen      = 4010
	CloseSerialIO        = 4011
)

// SessionError wraps an error with the session it happened in.
type SessionError struct {
	Op         string // Operation that failed
	Endpoint   string // Endpoint name from the request path
	SessionID  string // Session identifier, empty before a session exists
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Endpoint, e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Endpoint, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// New creates a new SessionError.
func New(op, endpoint, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:         op,
		Endpoint:   endpoint,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf attaches a sentinel kind to a cause so that errors.Is matches both.
func Wrapf(kind, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, cause)
}

// CloseCode maps an error to the close code and reason sent to the client.
// A nil error and a client disconnect both map to a normal closure.
func CloseCode(err error) (int, string) {
	switch {
	case err == nil, errors.Is(err, ErrClientDisconnect):
		return CloseNormal, ""
	case errors.Is(err, ErrShuttingDown), errors.Is(err, context.Canceled):
		return CloseGoingAway, ErrShuttingDown.Error()
	case errors.Is(err, ErrUnknownEndpoint):
		return CloseUnknownEndpoint, ErrUnknownEndpoint.Error()
	case errors.Is(err, ErrPortBusy):
		return ClosePortBusy, ErrPortBusy.Error()
	case errors.Is(err, ErrSerialOpen):
		return CloseSerialOpen, ErrSerialOpen.Error()
	case errors.Is(err, ErrSerialIO):
		return CloseSerialIO, ErrSerialIO.Error()
	default:
		return CloseInternalError, "internal error"
	}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
