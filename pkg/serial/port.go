// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by a Handle after Close.
var ErrClosed = errors.New("serial port closed")

// Port is an open serial device.
//
// Read may return (0, nil) when no byte arrived within the device's poll
// interval. Callers use these wake-ups to observe cancellation.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens serial devices.
type Opener interface {
	Open(device string, baudRate int) (Port, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(device string, baudRate int) (Port, error)

// Open calls f(device, baudRate).
func (f OpenerFunc) Open(device string, baudRate int) (Port, error) {
	return f(device, baudRate)
}

// Handle owns an open Port for one session.
//
// Writes are serialized and always complete or fail before the port is
// closed: Close waits for an in-flight Write. Close is idempotent and only
// closes the underlying port once.
type Handle struct {
	device string
	port   Port

	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewHandle wraps an open port.
func NewHandle(device string, port Port) *Handle {
	return &Handle{
		device: device,
		port:   port,
	}
}

// Device returns the device path the handle was opened on.
func (h *Handle) Device() string {
	return h.device
}

// Read reads whatever the device has available.
func (h *Handle) Read(p []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	n, err := h.port.Read(p)
	if err != nil && h.closed.Load() {
		return n, ErrClosed
	}
	return n, err
}

// Write writes all of p as one contiguous write. Short writes from the
// device are retried until p is drained or an error occurs.
func (h *Handle) Write(p []byte) (int, error) {
	h.wmu.Lock()
	defer h.wmu.Unlock()

	if h.closed.Load() {
		return 0, ErrClosed
	}

	var written int
	for written < len(p) {
		n, err := h.port.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// Close closes the underlying port once, after any in-flight Write.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.wmu.Lock()
		defer h.wmu.Unlock()
		h.closeErr = h.port.Close()
	})
	return h.closeErr
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}
