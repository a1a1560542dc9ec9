// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp2udp

import (
	"context"
	"fmt"
	"net"

	"github.com/absmach/udptun/pkg/errors"
	"github.com/absmach/udptun/pkg/sockopt"
)

// createListeners binds a listening TCP socket, with address reuse
// enabled, for every configured address. Binding all listeners before
// any accept loop starts means a conflict on one address fails startup
// before a single connection is accepted. On failure, sockets bound so
// far are closed.
func createListeners(ctx context.Context, addrs []string) ([]net.Listener, error) {
	lc := sockopt.ListenConfig()

	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			for _, bound := range listeners {
				bound.Close()
			}
			return nil, errors.New(errors.KindBind, "bind tcp listener", addr, err)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

// createForwardingSocket binds a UDP socket to an ephemeral port on
// bindIP (any address when empty) and associates it with target, so
// subsequent sends implicitly address the peer and receives are
// filtered to it.
func createForwardingSocket(bindIP, target string, readBuffer, writeBuffer int) (*net.UDPConn, error) {
	var laddr *net.UDPAddr
	if bindIP != "" {
		ip := net.ParseIP(bindIP)
		if ip == nil {
			return nil, errors.New(errors.KindBind, "bind udp socket", bindIP,
				fmt.Errorf("invalid bind IP %q", bindIP))
		}
		laddr = &net.UDPAddr{IP: ip}
	}

	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, errors.New(errors.KindConnect, "resolve udp target", target, err)
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, errors.New(errors.KindConnect, "connect udp socket", target, err)
	}

	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			conn.Close()
			return nil, errors.New(errors.KindConnect, "set udp read buffer", target, err)
		}
	}
	if writeBuffer > 0 {
		if err := conn.SetWriteBuffer(writeBuffer); err != nil {
			conn.Close()
			return nil, errors.New(errors.KindConnect, "set udp write buffer", target, err)
		}
	}

	return conn, nil
}
