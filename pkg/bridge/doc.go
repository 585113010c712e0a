// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bridge pumps bytes between a WebSocket client and a serial device.
//
// # Bidirectional Streaming
//
// Run starts two goroutines in an errgroup:
//
//	Upstream:   socket message ──► one serial write
//	Downstream: serial read (n>0) ──► one binary socket message
//
// Payloads are opaque. Text and binary messages are both written as their raw
// bytes; messages are never split or merged.
//
// # Termination
//
// The first direction to fail cancels the group. The other direction stops at
// its next suspension point:
//
//   - the serial read returns at least once per device poll interval,
//   - a blocked socket read is released by setting its read deadline,
//   - a socket write is bounded by Config.WriteTimeout,
//   - a serial write is allowed to finish.
//
// Run never closes the socket or the port. The caller owns both and closes
// them with the cause Run returns (see errors.CloseCode).
package bridge
