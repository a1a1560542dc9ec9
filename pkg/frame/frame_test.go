// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"io"
	"testing"

	"github.com/absmach/udptun/pkg/errors"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		[]byte{0x00},
		bytes.Repeat([]byte{0xab}, 1000),
		bytes.Repeat([]byte{0xcd}, MaxPayloadSize),
		[]byte("after max"),
	}

	var stream bytes.Buffer
	for _, p := range payloads {
		if err := WriteFrame(&stream, p); err != nil {
			t.Fatalf("WriteFrame(%d bytes): %v", len(p), err)
		}
	}

	buf := make([]byte, MaxPayloadSize)
	for i, want := range payloads {
		n, err := ReadFrame(&stream, buf)
		if err != nil {
			t.Fatalf("ReadFrame #%d: %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Errorf("frame #%d: got %d bytes, want %d bytes", i, n, len(want))
		}
	}

	// Stream must end cleanly at the frame boundary.
	if _, err := ReadFrame(&stream, buf); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestZeroLengthFrame(t *testing.T) {
	var stream bytes.Buffer
	if err := WriteFrame(&stream, nil); err != nil {
		t.Fatalf("WriteFrame(nil): %v", err)
	}

	if got := stream.Len(); got != HeaderSize {
		t.Fatalf("empty frame should be exactly %d bytes, got %d", HeaderSize, got)
	}

	buf := make([]byte, MaxPayloadSize)
	n, err := ReadFrame(&stream, buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != 0 {
		t.Errorf("expected zero-length payload, got %d bytes", n)
	}
}

func TestTruncatedHeader(t *testing.T) {
	stream := bytes.NewReader([]byte{0x00})

	buf := make([]byte, MaxPayloadSize)
	_, err := ReadFrame(stream, buf)
	if errors.KindOf(err) != errors.KindTruncatedFrame {
		t.Errorf("expected truncated_frame error, got %v", err)
	}
}

func TestTruncatedPayload(t *testing.T) {
	// Header claims 10 bytes, only 3 arrive.
	stream := bytes.NewReader([]byte{0x00, 0x0a, 0x01, 0x02, 0x03})

	buf := make([]byte, MaxPayloadSize)
	_, err := ReadFrame(stream, buf)
	if errors.KindOf(err) != errors.KindTruncatedFrame {
		t.Errorf("expected truncated_frame error, got %v", err)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	var stream bytes.Buffer
	err := WriteFrame(&stream, make([]byte, MaxPayloadSize+1))
	if errors.KindOf(err) != errors.KindFrameTooLarge {
		t.Errorf("expected frame_too_large error, got %v", err)
	}
	if stream.Len() != 0 {
		t.Error("oversized frame must not be partially written")
	}
}

// singleWriteRecorder fails the test if a frame arrives in more than one
// Write call.
type singleWriteRecorder struct {
	writes [][]byte
}

func (r *singleWriteRecorder) Write(p []byte) (int, error) {
	r.writes = append(r.writes, append([]byte(nil), p...))
	return len(p), nil
}

func TestWriteFrameSingleWrite(t *testing.T) {
	rec := &singleWriteRecorder{}
	payload := []byte("one logical write")

	if err := WriteFrame(rec, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if len(rec.writes) != 1 {
		t.Fatalf("expected exactly one Write call, got %d", len(rec.writes))
	}
	if len(rec.writes[0]) != HeaderSize+len(payload) {
		t.Errorf("expected %d bytes in single write, got %d", HeaderSize+len(payload), len(rec.writes[0]))
	}
}
