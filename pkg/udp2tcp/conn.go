// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp2tcp

import "net"

// peerConn narrows an unconnected UDP socket to a single peer: reads
// silently drop datagrams from other senders, writes implicitly address
// the peer. This gives the bridge the connected-socket semantics it
// expects without rebinding the listen address.
type peerConn struct {
	*net.UDPConn
	peer *net.UDPAddr
}

func (c *peerConn) Read(b []byte) (int, error) {
	for {
		n, addr, err := c.ReadFromUDP(b)
		if err != nil {
			return 0, err
		}
		if !addr.IP.Equal(c.peer.IP) || addr.Port != c.peer.Port {
			continue
		}
		return n, nil
	}
}

func (c *peerConn) Write(b []byte) (int, error) {
	return c.WriteToUDP(b, c.peer)
}

func (c *peerConn) RemoteAddr() net.Addr {
	return c.peer
}
