// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the length-prefixed wire format that carries
// datagram payloads over a stream transport.
//
// Every datagram is encoded as a 2-byte big-endian unsigned length
// immediately followed by that many payload bytes. A zero-length payload
// is a valid frame (an empty datagram) and round-trips as such. There is
// no version byte, no checksum and no multiplexing field: one stream
// connection carries exactly one datagram flow.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/absmach/udptun/pkg/errors"
)

const (
	// HeaderSize is the size of the length prefix in bytes.
	HeaderSize = 2

	// MaxPayloadSize is the largest payload representable in the
	// 16-bit length header. Datagrams beyond this cannot be framed.
	MaxPayloadSize = 65535
)

// ReadFrame reads one frame from r into buf and returns the payload
// length. buf must be at least MaxPayloadSize bytes.
//
// io.EOF is returned as-is when the stream ends cleanly at a frame
// boundary. A stream that ends mid-header or mid-payload yields a
// KindTruncatedFrame error; any other read failure yields KindTransport.
func ReadFrame(r io.Reader, buf []byte) (int, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return 0, errors.New(errors.KindTruncatedFrame, "read frame header", "", err)
		}
		return 0, errors.New(errors.KindTransport, "read frame header", "", err)
	}

	n := int(binary.BigEndian.Uint16(header[:]))
	if n > len(buf) {
		return 0, errors.New(errors.KindFrameTooLarge, "read frame payload", "",
			fmt.Errorf("%d byte frame exceeds %d byte buffer", n, len(buf)))
	}

	// A zero-length frame carries no payload bytes; ReadFull on an
	// empty slice returns immediately.
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, errors.New(errors.KindTruncatedFrame, "read frame payload", "", err)
		}
		return 0, errors.New(errors.KindTransport, "read frame payload", "", err)
	}

	return n, nil
}

// WriteFrame writes payload to w as one frame, header and payload in a
// single Write call so a frame is never observably interleaved with
// another write on the same stream.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return errors.New(errors.KindFrameTooLarge, "write frame", "",
			fmt.Errorf("%d byte payload exceeds %d byte maximum", len(payload), MaxPayloadSize))
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return errors.New(errors.KindTransport, "write frame", "", err)
	}
	return nil
}
