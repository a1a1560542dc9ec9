// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp2udp

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
	"github.com/absmach/udptun/pkg/metrics"
	"github.com/absmach/udptun/pkg/sockopt"
)

const tunnelLabel = "tcp2udp"

// ErrShutdownTimeout is returned when graceful shutdown exceeds the
// configured timeout.
var ErrShutdownTimeout = stderrors.New("shutdown timeout exceeded")

// Config holds the tcp2udp server configuration.
type Config struct {
	// ListenAddresses are the TCP addresses to accept tunnel
	// connections on. At least one is required; every address must
	// bind or startup fails.
	ListenAddresses []string

	// TargetAddress is the UDP peer all sessions forward to.
	TargetAddress string

	// UDPBindIP is the local IP to bind forwarding sockets to.
	// Empty means any.
	UDPBindIP string

	// MaxSessions limits concurrent sessions. 0 means no limit.
	MaxSessions int

	// ShutdownTimeout is the maximum time to wait for live sessions
	// to drain during graceful shutdown.
	ShutdownTimeout time.Duration

	// TCPOptions is applied to every accepted connection.
	TCPOptions sockopt.TCPOptions

	// UDPReadBuffer and UDPWriteBuffer set the forwarding sockets'
	// SO_RCVBUF / SO_SNDBUF when positive.
	UDPReadBuffer  int
	UDPWriteBuffer int

	// Logger for server events.
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// Server is the TCP-in, UDP-out tunnel endpoint.
type Server struct {
	config   Config
	sessions *SessionManager
	wg       sync.WaitGroup

	mu    sync.Mutex
	addrs []net.Addr
}

// New creates a tcp2udp server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:   cfg,
		sessions: NewSessionManager(cfg.MaxSessions),
	}
}

// Addrs returns the bound listener addresses. Empty until Listen has
// bound them.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]net.Addr(nil), s.addrs...)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Count()
}

// Listen binds every configured address and accepts tunnel connections
// until the context is cancelled. Any bind failure is returned before
// a single connection is accepted; after startup, all errors are
// session-local and only logged.
func (s *Server) Listen(ctx context.Context) error {
	if len(s.config.ListenAddresses) == 0 {
		return errors.New(errors.KindConfig, "start tcp2udp", "", errors.ErrNoListenAddrs)
	}

	listeners, err := createListeners(ctx, s.config.ListenAddresses)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, ln := range listeners {
		s.addrs = append(s.addrs, ln.Addr())
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		s.config.Logger.Info("TCP listener started",
			slog.String("address", ln.Addr().String()),
			slog.String("target", s.config.TargetAddress))
	}

	var acceptWg sync.WaitGroup
	for _, ln := range listeners {
		acceptWg.Add(1)
		go func(ln net.Listener) {
			defer acceptWg.Done()
			s.acceptLoop(ctx, ln)
		}(ln)
	}

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listeners")

	for _, ln := range listeners {
		ln.Close()
	}
	acceptWg.Wait()

	// Sessions observe the context through the bridge, so they are
	// already unwinding; wait for them to drain.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all sessions closed")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing session closure")
		s.sessions.CloseAll()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
		return ErrShutdownTimeout
	}
}

// acceptLoop accepts connections on one listener. The loop never
// terminates under normal operation; a single failed accept is logged
// and the loop continues.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Error("failed to accept connection",
				slog.String("listener", ln.Addr().String()),
				slog.String("error", err.Error()))
			continue
		}

		// Session setup runs in its own goroutine so a slow UDP
		// bind never blocks the accept loop.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn runs one session: UDP socket setup, bridge, teardown.
// Every exit path, panics included, releases both sockets and
// deregisters the session.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	logger := s.config.Logger.With(slog.String("client", conn.RemoteAddr().String()))

	defer func() {
		if r := recover(); r != nil {
			conn.Close()
			logger.Error("session panic", slog.Any("panic", r))
		}
	}()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := s.config.TCPOptions.Apply(tcpConn); err != nil {
			logger.Warn("failed to apply tcp options", slog.String("error", err.Error()))
		}
	}

	udpConn, err := createForwardingSocket(s.config.UDPBindIP, s.config.TargetAddress,
		s.config.UDPReadBuffer, s.config.UDPWriteBuffer)
	if err != nil {
		s.config.Metrics.SessionRejected(tunnelLabel, err)
		logger.Error("failed to create forwarding socket",
			slog.String("target", s.config.TargetAddress),
			slog.String("error", err.Error()))
		conn.Close()
		return
	}

	sess := &Session{
		ID:         uuid.New().String(),
		ClientAddr: conn.RemoteAddr(),
		Stream:     conn,
		Datagram:   udpConn,
		StartedAt:  time.Now(),
	}

	if err := s.sessions.Add(sess); err != nil {
		s.config.Metrics.SessionRejected(tunnelLabel, err)
		logger.Warn("session rejected", slog.String("error", err.Error()))
		sess.Close()
		return
	}
	defer func() {
		sess.Close()
		s.sessions.Remove(sess.ID)
	}()

	logger = logger.With(slog.String("session", sess.ID))
	logger.Debug("session started",
		slog.String("udp_local", udpConn.LocalAddr().String()),
		slog.String("udp_target", s.config.TargetAddress))

	s.config.Metrics.SessionStarted(tunnelLabel)
	traffic, err := bridge.Run(ctx, conn, udpConn, logger)
	s.config.Metrics.SessionEnded(tunnelLabel, time.Since(sess.StartedAt), traffic, err)

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
