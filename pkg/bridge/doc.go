// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bridge relays traffic between a stream connection and a
// datagram socket, turning the two transports into a single logical
// duplex channel that preserves datagram boundaries.
//
// # Pumps
//
// A bridge runs two directional pumps concurrently over one session:
//
//	Stream → Datagram ("de-framing"):
//	  for {
//	    read 2-byte big-endian length n from the stream
//	    read exactly n payload bytes
//	    send the payload as one datagram (n == 0 sends an empty datagram)
//	  }
//
//	Datagram → Stream ("framing"):
//	  for {
//	    receive one datagram
//	    write 2-byte length + payload to the stream as one Write
//	  }
//
// Within one direction, payloads are relayed in the order received and
// are never coalesced or split. The two directions never block one
// another: each pump owns one read side and one write side of the two
// handles, so no locking is needed.
//
// # Termination
//
// When either pump stops — clean stream closure, protocol violation or
// transport failure — the bridge closes both handles so the sibling
// pump's blocking operation fails immediately, then waits for it. Run
// returns only after both pumps have stopped. End-of-stream at a frame
// boundary is a clean close, not an error; a stream ending mid-frame is
// a truncated_frame protocol violation.
//
// There is no retry: a session is one logical connection with no
// reconnection concept, so every error is fatal to the session.
package bridge
