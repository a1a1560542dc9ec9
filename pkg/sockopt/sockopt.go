// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sockopt applies low-level socket tuning to listeners and
// connections before they are handed to the tunnel core.
package sockopt

import (
	"net"
	"time"
)

// TCPOptions holds tuning applied to TCP connections, both accepted and
// dialed. The zero value enables TCP_NODELAY and leaves everything else
// at the system default.
type TCPOptions struct {
	// DisableNoDelay turns Nagle's algorithm back on. The tunnel
	// forwards latency-sensitive datagrams, so TCP_NODELAY is set
	// unless explicitly disabled.
	DisableNoDelay bool

	// KeepAlive enables TCP keepalive with the given period when
	// positive.
	KeepAlive time.Duration

	// SendBuffer sets SO_SNDBUF when positive.
	SendBuffer int

	// RecvBuffer sets SO_RCVBUF when positive.
	RecvBuffer int
}

// Apply configures conn with the options. The first failure is
// returned; the connection is left usable either way.
func (o TCPOptions) Apply(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(!o.DisableNoDelay); err != nil {
		return err
	}
	if o.KeepAlive > 0 {
		if err := conn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := conn.SetKeepAlivePeriod(o.KeepAlive); err != nil {
			return err
		}
	}
	if o.SendBuffer > 0 {
		if err := conn.SetWriteBuffer(o.SendBuffer); err != nil {
			return err
		}
	}
	if o.RecvBuffer > 0 {
		if err := conn.SetReadBuffer(o.RecvBuffer); err != nil {
			return err
		}
	}
	return nil
}

// ListenConfig returns a net.ListenConfig for listening sockets with
// address reuse enabled, so a restart does not fail on a lingering
// prior bind.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: reuseAddrControl}
}
