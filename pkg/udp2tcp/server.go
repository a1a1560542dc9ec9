// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp2tcp

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/udptun/pkg/bridge"
	"github.com/absmach/udptun/pkg/errors"
	"github.com/absmach/udptun/pkg/frame"
	"github.com/absmach/udptun/pkg/metrics"
	"github.com/absmach/udptun/pkg/sockopt"
)

const tunnelLabel = "udp2tcp"

// Config holds the udp2tcp server configuration.
type Config struct {
	// ListenAddress is the UDP address to receive datagrams on.
	ListenAddress string

	// TargetAddress is the TCP peer each session dials.
	TargetAddress string

	// TCPOptions is applied to every dialed connection.
	TCPOptions sockopt.TCPOptions

	// UDPReadBuffer and UDPWriteBuffer set the listen socket's
	// SO_RCVBUF / SO_SNDBUF when positive.
	UDPReadBuffer  int
	UDPWriteBuffer int

	// Logger for server events.
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// Server is the UDP-in, TCP-out tunnel endpoint.
type Server struct {
	config Config

	mu   sync.Mutex
	addr net.Addr
}

// New creates a udp2tcp server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{config: cfg}
}

// LocalAddr returns the bound UDP address. Nil until Listen has bound
// it.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Listen binds the UDP socket and serves one datagram flow at a time
// until the context is cancelled. The initial bind failure is fatal;
// session failures are logged and the server waits for a new peer.
func (s *Server) Listen(ctx context.Context) error {
	if s.config.ListenAddress == "" {
		return errors.New(errors.KindConfig, "start udp2tcp", "", errors.ErrNoListenAddrs)
	}

	for {
		udpConn, err := s.bind(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.mu.Lock()
		first := s.addr == nil
		s.addr = udpConn.LocalAddr()
		s.mu.Unlock()
		if first {
			s.config.Logger.Info("UDP listener started",
				slog.String("address", udpConn.LocalAddr().String()),
				slog.String("target", s.config.TargetAddress))
		}

		s.serveFlow(ctx, udpConn)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// bind creates the listen socket with address reuse, so the rebind
// after each session does not trip over the previous socket.
func (s *Server) bind(ctx context.Context) (*net.UDPConn, error) {
	lc := sockopt.ListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", s.config.ListenAddress)
	if err != nil {
		return nil, errors.New(errors.KindBind, "bind udp listener", s.config.ListenAddress, err)
	}
	udpConn := pc.(*net.UDPConn)

	if s.config.UDPReadBuffer > 0 {
		if err := udpConn.SetReadBuffer(s.config.UDPReadBuffer); err != nil {
			s.config.Logger.Warn("failed to set udp read buffer", slog.String("error", err.Error()))
		}
	}
	if s.config.UDPWriteBuffer > 0 {
		if err := udpConn.SetWriteBuffer(s.config.UDPWriteBuffer); err != nil {
			s.config.Logger.Warn("failed to set udp write buffer", slog.String("error", err.Error()))
		}
	}

	return udpConn, nil
}

// serveFlow waits for the first datagram, locks onto its sender and
// runs one session. The socket is closed by the time it returns.
func (s *Server) serveFlow(ctx context.Context, udpConn *net.UDPConn) {
	defer udpConn.Close()

	// Unblock the initial receive if the caller cancels.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			udpConn.Close()
		case <-watchDone:
		}
	}()

	buf := make([]byte, frame.MaxPayloadSize+1)
	var n int
	var peer *net.UDPAddr
	for {
		var err error
		n, peer, err = udpConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil && !stderrors.Is(err, net.ErrClosed) {
				s.config.Logger.Error("failed to receive datagram", slog.String("error", err.Error()))
			}
			return
		}
		if n > frame.MaxPayloadSize {
			// No session exists yet, so there is nothing to
			// terminate; drop it and keep waiting.
			s.config.Logger.Warn("dropping oversized datagram",
				slog.String("sender", peer.String()),
				slog.Int("size", n))
			continue
		}
		break
	}

	logger := s.config.Logger.With(
		slog.String("session", uuid.New().String()),
		slog.String("peer", peer.String()))
	logger.Debug("peer locked", slog.String("target", s.config.TargetAddress))

	tcpConn, err := s.dialTarget(ctx)
	if err != nil {
		s.config.Metrics.SessionRejected(tunnelLabel, err)
		logger.Error("failed to dial target", slog.String("error", err.Error()))
		return
	}

	// The datagram that established the session is the first frame.
	if err := frame.WriteFrame(tcpConn, buf[:n]); err != nil {
		s.config.Metrics.SessionRejected(tunnelLabel, err)
		logger.Error("failed to forward first datagram", slog.String("error", err.Error()))
		tcpConn.Close()
		return
	}

	start := time.Now()
	s.config.Metrics.SessionStarted(tunnelLabel)

	traffic, err := bridge.Run(ctx, tcpConn, &peerConn{UDPConn: udpConn, peer: peer}, logger)
	traffic.ToStreamFrames++
	traffic.ToStreamBytes += uint64(n)

	s.config.Metrics.SessionEnded(tunnelLabel, time.Since(start), traffic, err)

	if err != nil {
		logger.Error("session terminated",
			slog.String("kind", errors.KindOf(err).String()),
			slog.String("error", err.Error()))
		return
	}
	logger.Debug("session closed",
		slog.Uint64("datagrams_sent", traffic.ToDatagramFrames),
		slog.Uint64("datagrams_received", traffic.ToStreamFrames))
}

// dialTarget connects to the TCP peer and applies the configured
// options.
func (s *Server) dialTarget(ctx context.Context) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.config.TargetAddress)
	if err != nil {
		return nil, errors.New(errors.KindConnect, "dial tcp target", s.config.TargetAddress, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := s.config.TCPOptions.Apply(tcpConn); err != nil {
			s.config.Logger.Warn("failed to apply tcp options", slog.String("error", err.Error()))
		}
	}

	return conn, nil
}
