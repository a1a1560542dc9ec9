// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp2udp implements the TCP-in, UDP-out tunnel endpoint.
//
// # Overview
//
// The server accepts TCP connections on one or more listen addresses.
// For each accepted connection it binds a dedicated UDP socket to an
// ephemeral port, connects it to the single configured forward target,
// and runs the framing bridge between the two sockets for the lifetime
// of the connection.
//
//	┌─────────┐         ┌──────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server  │ ←─UDP─→ │ Target  │
//	└─────────┘         └──────────┘         └─────────┘
//	                         ↓
//	                    ┌──────────┐
//	                    │  Bridge  │
//	                    └──────────┘
//
// # Connection Flow
//
//  1. All configured listeners are bound up front; any bind failure is
//     fatal before a single connection is accepted.
//  2. Each listener runs an independent accept loop. A failed accept is
//     logged and the loop continues.
//  3. Each accepted connection is handled in its own goroutine: a UDP
//     socket is bound and connected (failure closes the TCP connection
//     and never creates a session), the session is registered, and the
//     bridge runs until either side terminates.
//  4. Both sockets are released exactly once on every exit path and the
//     session is deregistered.
//
// Failures inside one session never propagate to the accept loops or to
// other sessions.
//
// # Graceful Shutdown
//
// Cancelling the Listen context closes the listeners, terminates all
// live sessions, and waits for them to drain within ShutdownTimeout.
package tcp2udp
