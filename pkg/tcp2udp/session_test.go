// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp2udp

import (
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/absmach/udptun/pkg/errors"
)

func newTestSession(id string) *Session {
	stream, _ := net.Pipe()
	datagram, _ := net.Pipe()
	return &Session{
		ID:         id,
		ClientAddr: stream.RemoteAddr(),
		Stream:     stream,
		Datagram:   datagram,
		StartedAt:  time.Now(),
	}
}

func TestSessionManagerAddRemove(t *testing.T) {
	sm := NewSessionManager(0)

	sess := newTestSession("one")
	if err := sm.Add(sess); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := sm.Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}

	sm.Remove(sess.ID)
	if got := sm.Count(); got != 0 {
		t.Errorf("Count after Remove = %d, want 0", got)
	}

	// Removing an unknown ID is a no-op.
	sm.Remove("missing")
}

func TestSessionManagerLimit(t *testing.T) {
	sm := NewSessionManager(2)

	if err := sm.Add(newTestSession("a")); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := sm.Add(newTestSession("b")); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	err := sm.Add(newTestSession("c"))
	if !stderrors.Is(err, errors.ErrSessionLimit) {
		t.Errorf("expected ErrSessionLimit, got %v", err)
	}
	if got := sm.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}

func TestSessionManagerCloseAll(t *testing.T) {
	sm := NewSessionManager(0)

	sess := newTestSession("a")
	if err := sm.Add(sess); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sm.CloseAll()

	if got := sm.Count(); got != 0 {
		t.Errorf("Count after CloseAll = %d, want 0", got)
	}

	// The session's sockets must be closed.
	buf := make([]byte, 1)
	sess.Stream.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := sess.Stream.Read(buf); err == nil {
		t.Error("expected closed stream after CloseAll")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess := newTestSession("a")
	sess.Close()
	sess.Close()
}
