// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udptun provides environment-driven configuration for the
// tunnel endpoints.
package udptun

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// TCP2UDPConfig configures the TCP-in, UDP-out endpoint.
type TCP2UDPConfig struct {
	// ListenAddresses are the TCP listen addresses, comma separated
	// in the environment.
	ListenAddresses []string `env:"TCP_LISTEN" envSeparator:","`

	// TargetAddress is the UDP peer all sessions forward to.
	TargetAddress string `env:"UDP_FORWARD"`

	// UDPBindIP is the local IP forwarding sockets bind to.
	UDPBindIP string `env:"UDP_BIND_IP"`

	MaxSessions     int           `env:"MAX_SESSIONS"     envDefault:"0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	DisableNoDelay bool          `env:"DISABLE_NODELAY" envDefault:"false"`
	TCPKeepAlive   time.Duration `env:"TCP_KEEPALIVE"   envDefault:"0"`
	TCPSendBuffer  int           `env:"TCP_SEND_BUFFER" envDefault:"0"`
	TCPRecvBuffer  int           `env:"TCP_RECV_BUFFER" envDefault:"0"`
	UDPReadBuffer  int           `env:"UDP_READ_BUFFER"  envDefault:"0"`
	UDPWriteBuffer int           `env:"UDP_WRITE_BUFFER" envDefault:"0"`
}

// NewTCP2UDPConfig parses a TCP2UDPConfig from the environment.
func NewTCP2UDPConfig(opts env.Options) (TCP2UDPConfig, error) {
	cfg := TCP2UDPConfig{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return TCP2UDPConfig{}, err
	}
	return cfg, nil
}

// UDP2TCPConfig configures the UDP-in, TCP-out endpoint.
type UDP2TCPConfig struct {
	// ListenAddress is the UDP listen address.
	ListenAddress string `env:"UDP_LISTEN"`

	// TargetAddress is the TCP peer each session dials.
	TargetAddress string `env:"TCP_FORWARD"`

	DisableNoDelay bool          `env:"DISABLE_NODELAY" envDefault:"false"`
	TCPKeepAlive   time.Duration `env:"TCP_KEEPALIVE"   envDefault:"0"`
	TCPSendBuffer  int           `env:"TCP_SEND_BUFFER" envDefault:"0"`
	TCPRecvBuffer  int           `env:"TCP_RECV_BUFFER" envDefault:"0"`
	UDPReadBuffer  int           `env:"UDP_READ_BUFFER"  envDefault:"0"`
	UDPWriteBuffer int           `env:"UDP_WRITE_BUFFER" envDefault:"0"`
}

// NewUDP2TCPConfig parses a UDP2TCPConfig from the environment.
func NewUDP2TCPConfig(opts env.Options) (UDP2TCPConfig, error) {
	cfg := UDP2TCPConfig{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return UDP2TCPConfig{}, err
	}
	return cfg, nil
}
