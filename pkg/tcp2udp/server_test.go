// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp2udp

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/absmach/udptun/pkg/errors"
	"github.com/absmach/udptun/pkg/frame"
)

// startUDPEcho runs a UDP echo peer and returns its address.
func startUDPEcho(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to start UDP echo peer: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, frame.MaxPayloadSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], addr)
		}
	}()

	return conn.LocalAddr().String()
}

// startServer runs a server and waits for its listeners to be bound.
func startServer(t *testing.T, ctx context.Context, cfg Config) (*Server, []net.Addr, chan error) {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	server := New(cfg)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Listen(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addrs := server.Addrs(); len(addrs) == len(cfg.ListenAddresses) {
			return server, addrs, serverErr
		}
		select {
		case err := <-serverErr:
			t.Fatalf("server exited during startup: %v", err)
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not bind its listeners in time")
	return nil, nil, nil
}

// exchange sends payload as one frame and expects it echoed back.
func exchange(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()

	if err := frame.WriteFrame(conn, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, frame.MaxPayloadSize)
	n, err := frame.ReadFrame(conn, buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("echo mismatch: sent %d bytes, got %d bytes", len(payload), n)
	}
}

func TestEndToEndRelay(t *testing.T) {
	target := startUDPEcho(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, addrs, _ := startServer(t, ctx, Config{
		ListenAddresses: []string{"127.0.0.1:0"},
		TargetAddress:   target,
	})

	conn, err := net.Dial("tcp", addrs[0].String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	exchange(t, conn, []byte("ping"))
	exchange(t, conn, bytes.Repeat([]byte{0x55}, 1200))

	// Empty datagrams must round-trip as empty frames, not be
	// swallowed.
	exchange(t, conn, []byte{})
}

func TestSessionIsolation(t *testing.T) {
	target := startUDPEcho(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, addrs, _ := startServer(t, ctx, Config{
		ListenAddresses: []string{"127.0.0.1:0"},
		TargetAddress:   target,
	})

	connA, err := net.Dial("tcp", addrs[0].String())
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()

	connB, err := net.Dial("tcp", addrs[0].String())
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	exchange(t, connA, []byte("a"))
	exchange(t, connB, []byte("b"))

	// Kill session A with a truncated frame: header promising 65535
	// bytes followed by a close.
	connA.Write([]byte{0xff, 0xff, 0x01})
	connA.Close()

	// Session B must be unaffected.
	for i := 0; i < 10; i++ {
		exchange(t, connB, []byte{byte(i)})
	}

	// Session A's teardown must eventually be reflected in the
	// bookkeeping.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && server.SessionCount() > 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := server.SessionCount(); got != 1 {
		t.Errorf("SessionCount = %d, want 1", got)
	}
}

func TestMultiListenerStartupFailure(t *testing.T) {
	// Occupy a port so the second configured listener cannot bind.
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer occupied.Close()

	server := New(Config{
		ListenAddresses: []string{"127.0.0.1:0", occupied.Addr().String()},
		TargetAddress:   "127.0.0.1:9",
		Logger:          slog.New(slog.NewTextHandler(os.Stdout, nil)),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(context.Background())
	}()

	select {
	case err := <-errCh:
		if errors.KindOf(err) != errors.KindBind {
			t.Errorf("expected bind error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("startup with a conflicting listener must fail, not hang")
	}
}

func TestNoListenAddresses(t *testing.T) {
	server := New(Config{
		TargetAddress: "127.0.0.1:9",
		Logger:        slog.New(slog.NewTextHandler(os.Stdout, nil)),
	})

	err := server.Listen(context.Background())
	if errors.KindOf(err) != errors.KindConfig {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestSessionLimit(t *testing.T) {
	target := startUDPEcho(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, addrs, _ := startServer(t, ctx, Config{
		ListenAddresses: []string{"127.0.0.1:0"},
		TargetAddress:   target,
		MaxSessions:     1,
	})

	connA, err := net.Dial("tcp", addrs[0].String())
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	exchange(t, connA, []byte("a"))

	// The second connection must be rejected and closed.
	connB, err := net.Dial("tcp", addrs[0].String())
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	connB.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 16)
	if _, err := connB.Read(buf); err == nil {
		t.Error("expected rejected connection to be closed")
	}

	if got := server.SessionCount(); got != 1 {
		t.Errorf("SessionCount = %d, want 1", got)
	}

	// The surviving session keeps relaying.
	exchange(t, connA, []byte("still alive"))
}

func TestGracefulShutdown(t *testing.T) {
	target := startUDPEcho(t)

	ctx, cancel := context.WithCancel(context.Background())

	_, addrs, serverErr := startServer(t, ctx, Config{
		ListenAddresses: []string{"127.0.0.1:0"},
		TargetAddress:   target,
		ShutdownTimeout: 5 * time.Second,
	})

	conn, err := net.Dial("tcp", addrs[0].String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	exchange(t, conn, []byte("before shutdown"))

	cancel()

	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
