// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for udptun.
//
// Every failure the tunnel can produce belongs to one of a closed set of
// kinds. Callers that need to react to a specific failure switch on the
// kind (via KindOf) rather than on the concrete error type, while the
// full cause chain stays available through errors.Is / errors.As.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a tunnel error.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that did not
	// originate in the tunnel.
	KindUnknown Kind = iota

	// KindConfig indicates invalid or missing configuration,
	// detected before any socket is bound. Fatal at startup.
	KindConfig

	// KindBind indicates a socket could not be bound to its address.
	// Fatal at startup for listeners, session-local for forwarding
	// sockets.
	KindBind

	// KindConnect indicates a socket could not be associated with its
	// peer address. Session-local.
	KindConnect

	// KindTruncatedFrame indicates the stream ended in the middle of
	// a length-prefixed frame. A protocol violation, session-local.
	KindTruncatedFrame

	// KindFrameTooLarge indicates a datagram that cannot be
	// represented in a 16-bit length header. Session-local.
	KindFrameTooLarge

	// KindTransport indicates a generic I/O failure on either
	// transport. Session-local.
	KindTransport
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindBind:
		return "bind"
	case KindConnect:
		return "connect"
	case KindTruncatedFrame:
		return "truncated_frame"
	case KindFrameTooLarge:
		return "frame_too_large"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Common base errors.
var (
	// ErrNoListenAddrs indicates no listen addresses were configured.
	ErrNoListenAddrs = errors.New("no listen addresses configured")

	// ErrSessionLimit indicates the session limit was reached.
	ErrSessionLimit = errors.New("session limit reached")
)

// Error wraps an underlying error with tunnel context.
type Error struct {
	Kind Kind   // failure classification
	Op   string // operation that failed
	Peer string // peer address, if known
	Err  error  // underlying error, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified tunnel error.
func New(kind Kind, op, peer string, err error) error {
	return &Error{
		Kind: kind,
		Op:   op,
		Peer: peer,
		Err:  err,
	}
}

// KindOf returns the kind of the outermost tunnel error in err's chain,
// or KindUnknown if the chain contains no tunnel error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrap wraps an error with a message, preserving the chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
