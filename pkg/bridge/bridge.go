// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/absmach/udptun/pkg/errors"
	"github.com/absmach/udptun/pkg/frame"
)

// Direction indicates which way a pump relays traffic.
type Direction int

const (
	// StreamToDatagram de-frames the stream and sends datagrams.
	StreamToDatagram Direction = iota

	// DatagramToStream frames received datagrams onto the stream.
	DatagramToStream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case StreamToDatagram:
		return "stream_to_datagram"
	case DatagramToStream:
		return "datagram_to_stream"
	default:
		return "unknown"
	}
}

// Traffic counts the payloads relayed by one bridge run. Each pump
// writes only its own pair of fields, so no synchronization is needed;
// the struct is complete once Run returns.
type Traffic struct {
	// ToDatagramFrames and ToDatagramBytes count payloads de-framed
	// from the stream and sent as datagrams.
	ToDatagramFrames uint64
	ToDatagramBytes  uint64

	// ToStreamFrames and ToStreamBytes count datagrams framed onto
	// the stream.
	ToStreamFrames uint64
	ToStreamBytes  uint64
}

type pumpResult struct {
	dir Direction
	err error
}

// Run relays traffic between stream and datagram until either side
// becomes unusable, then tears the other side down and waits for both
// pumps to stop. Both connections are closed by the time Run returns.
//
// A clean close of the stream at a frame boundary returns a nil error.
// Context cancellation closes both connections and is likewise reported
// as a clean termination.
func Run(ctx context.Context, stream, datagram net.Conn, logger *slog.Logger) (Traffic, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var traffic Traffic

	// Unblock both pumps if the caller cancels.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
			datagram.Close()
		case <-watchDone:
		}
	}()

	results := make(chan pumpResult, 2)
	go func() {
		results <- pumpResult{StreamToDatagram, pumpStreamToDatagram(stream, datagram, &traffic)}
	}()
	go func() {
		results <- pumpResult{DatagramToStream, pumpDatagramToStream(datagram, stream, &traffic)}
	}()

	first := <-results
	logger.Debug("pump stopped", slog.String("direction", first.dir.String()))

	// Closing both handles makes the sibling pump's pending read or
	// receive fail immediately, so it can never linger after its peer
	// has gone away.
	stream.Close()
	datagram.Close()

	second := <-results
	logger.Debug("pump stopped", slog.String("direction", second.dir.String()))

	if ctx.Err() != nil {
		return traffic, nil
	}

	err := first.err
	if err == nil && second.err != nil && !isClosed(second.err) {
		err = second.err
	}
	if isClosed(err) {
		// The losing pump failed only because we closed its handle.
		err = nil
	}
	return traffic, err
}

// isClosed reports whether err is the failure a pump sees when its own
// connection handle has been closed under it.
func isClosed(err error) bool {
	return stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, io.ErrClosedPipe)
}

// pumpStreamToDatagram de-frames the stream and sends each payload as a
// single datagram. End-of-stream at a frame boundary is a clean close.
func pumpStreamToDatagram(stream, datagram net.Conn, traffic *Traffic) error {
	buf := make([]byte, frame.MaxPayloadSize)
	for {
		n, err := frame.ReadFrame(stream, buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		// A zero-length frame produces an explicit empty datagram
		// send, not a no-op.
		if _, err := datagram.Write(buf[:n]); err != nil {
			return errors.New(errors.KindTransport, "send datagram", datagram.RemoteAddr().String(), err)
		}

		traffic.ToDatagramFrames++
		traffic.ToDatagramBytes += uint64(n)
	}
}

// pumpDatagramToStream frames each received datagram onto the stream.
func pumpDatagramToStream(datagram, stream net.Conn, traffic *Traffic) error {
	// One byte beyond the maximum so an oversized datagram is
	// detected instead of silently truncated.
	buf := make([]byte, frame.MaxPayloadSize+1)
	for {
		n, err := datagram.Read(buf)
		if err != nil {
			return errors.New(errors.KindTransport, "receive datagram", datagram.RemoteAddr().String(), err)
		}
		if n > frame.MaxPayloadSize {
			return errors.New(errors.KindFrameTooLarge, "receive datagram", datagram.RemoteAddr().String(),
				fmt.Errorf("datagram of at least %d bytes exceeds %d byte frame limit", n, frame.MaxPayloadSize))
		}

		if err := frame.WriteFrame(stream, buf[:n]); err != nil {
			return err
		}

		traffic.ToStreamFrames++
		traffic.ToStreamBytes += uint64(n)
	}
}
