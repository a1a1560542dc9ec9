// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udp2tcp implements the UDP-in, TCP-out tunnel endpoint, the
// mirror of tcp2udp sharing the same framing bridge.
//
// The server binds one UDP socket and waits for a datagram. The first
// sender becomes the session peer: the socket is narrowed to that peer,
// the TCP target is dialed, the datagram that established the session
// is forwarded as the first frame, and the bridge relays until either
// side terminates. The server then rebinds and waits for a new peer —
// one datagram flow per stream connection, as the wire format demands.
package udp2tcp
