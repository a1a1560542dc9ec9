// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp2udp

import (
	"net"
	"sync"
	"time"

	"github.com/absmach/udptun/pkg/errors"
)

// Session pairs one accepted TCP connection with its dedicated UDP
// socket. Both handles are owned exclusively by the session; no other
// component mutates them.
type Session struct {
	// ID is a unique identifier for this session.
	ID string

	// ClientAddr is the TCP peer address, kept for diagnostics.
	ClientAddr net.Addr

	// Stream is the accepted TCP connection.
	Stream net.Conn

	// Datagram is the UDP socket connected to the forward target.
	Datagram net.Conn

	// StartedAt is when the session was created.
	StartedAt time.Time
}

// Close releases both sockets. Safe to call more than once.
func (s *Session) Close() {
	s.Stream.Close()
	s.Datagram.Close()
}

// SessionManager tracks live sessions for diagnostics and enforces the
// optional session limit. It is not needed for relay correctness; the
// sessions themselves own their sockets.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// NewSessionManager creates a session manager. maxSessions of 0 means
// no limit.
func NewSessionManager(maxSessions int) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Add registers a session, enforcing the session limit.
func (sm *SessionManager) Add(sess *Session) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return errors.Wrap(errors.ErrSessionLimit, sess.ClientAddr.String())
	}
	sm.sessions[sess.ID] = sess
	return nil
}

// Remove deregisters a session.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll forcefully closes every live session's sockets. Used when
// graceful shutdown exceeds its timeout.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, sess := range sm.sessions {
		sess.Close()
		delete(sm.sessions, id)
	}
}
