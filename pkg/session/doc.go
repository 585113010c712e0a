// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session holds per-connection lifecycle state and the process-wide
// Coordinator used for graceful shutdown.
//
// # Lifecycle
//
//	Resolving ──► Leasing ──► Opening ──► Active ──► Closing ──► Closed
//	    │            │           │
//	    └────────────┴───────────┴──► Rejected
//
// Rejected and Closed are terminal. Session.Transition refuses any edge not in
// this graph.
//
// # Shutdown
//
// The Coordinator is constructed explicitly and passed to whatever serves
// connections; it is not a package-level singleton. Active sessions register
// with it and deregister after their serial handle is closed. Shutdown cancels
// the root context, cancels every member and waits for the member set to drain:
//
//	coord := session.NewCoordinator(logger)
//	...
//	if err := coord.Shutdown(context.Background()); err != nil {
//		logger.Error("shutdown", slog.String("error", err.Error()))
//	}
//
// Anything implementing Member can be registered, which keeps the Coordinator
// testable without sockets or devices.
package session
