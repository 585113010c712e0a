// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy wires the endpoint registry, port leases, serial devices and
// the bridge loop into an HTTP server that accepts WebSocket clients.
//
// # Architecture
//
//	Client (WebSocket)
//	     ↓
//	┌──────────────────┐
//	│ Rate limiter     │  429 before upgrade
//	└──────────────────┘
//	     ↓
//	┌──────────────────┐
//	│ Proxy            │  upgrade, resolve, lease, open
//	└──────────────────┘
//	     ↓
//	┌──────────────────┐
//	│ Bridge           │  socket <-> serial
//	└──────────────────┘
//	     ↓
//	Serial device
//
// # Session lifecycle
//
// Each connection is handled on its own goroutine and walks the states of
// package session:
//
//	Resolving → Leasing → Opening → Active → Closing → Closed
//	    ↘          ↘          ↘
//	              Rejected
//
// The last path segment names the endpoint, so /dev1 and /serial/dev1 both
// select dev1. Refused connections are upgraded and then closed with a code
// the client can act on:
//
//	4004 unknown endpoint
//	4009 endpoint busy
//	4010 device failed to open
//	1001 server shutting down
//
// Sessions that were bridging close with 1000 when the client left, 4011 on
// a serial fault and 1001 on shutdown.
//
// # Usage
//
//	reg, _ := endpoint.Load("config.yaml")
//	p, err := proxy.New(proxy.Config{
//		Host:     "0.0.0.0",
//		Port:     "9001",
//		Registry: reg.Registry,
//		Opener:   serial.NewOpener(serial.DefaultPollInterval),
//		Handler:  simple.New(logger),
//		Logger:   logger,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := p.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// When the Listen context is cancelled the proxy stops accepting, cancels
// every active session through the session.Coordinator and returns only after
// each has closed its device, released its lease and sent its close frame.
// Config.ShutdownTimeout bounds the listener drain only; sessions are always
// waited for.
package proxy
