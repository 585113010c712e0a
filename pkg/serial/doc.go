// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package serial opens serial devices and owns them for the lifetime of a
// session.
//
// # Opening
//
// NewOpener returns an Opener backed by go.bug.st/serial. Devices are opened
// 8N1 at the configured baud rate with a short read timeout:
//
//	opener := serial.NewOpener(100 * time.Millisecond)
//	port, err := opener.Open("/dev/ttyUSB0", 115200)
//
// The timeout is a wake-up, not a deadline. A read that times out returns
// (0, nil) and the caller checks its context before reading again, so an idle
// device never blocks shutdown and never ends a session on its own.
//
// # Handle
//
// Handle wraps a Port for one session:
//
//   - Write loops until the whole buffer is written, so each inbound message
//     reaches the device as one contiguous write.
//   - Close is idempotent and waits for an in-flight Write, leaving the
//     physical link in a defined state.
//   - Read and Write after Close return ErrClosed.
//
// Tests substitute package serialtest for real hardware.
package serial
