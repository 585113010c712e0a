// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the hook interface the proxy calls at session
// lifecycle points.
//
// # Events
//
//   - OnReject: a connection was refused before bridging started
//   - OnConnect: the device is open and the session is active
//   - OnDisconnect: the session ended and its resources are released
//
// Every accepted connection produces exactly one OnReject, or one OnConnect
// followed by one OnDisconnect.
//
// # Context
//
// The Context struct carries session metadata:
//   - SessionID: Unique identifier for this connection/session
//   - RemoteAddr: Client's network address
//   - Endpoint: Endpoint name from the request path
//   - Device, BaudRate: Resolved serial settings
//
// # Implementation
//
// Handlers observe; they cannot reject a session. The NoopHandler ignores all
// events and Chain fans events out to several handlers:
//
//	h := handler.Chain{simple.New(logger), metrics.NewHandler(m)}
package handler
