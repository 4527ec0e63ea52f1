package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Control channel framing: every message is a 4-byte big-endian length
// followed by that many bytes of UTF-8 JSON.
const (
	FrameHeaderSize = 4
	MaxFrameSize    = 65536
)

// ErrFrameTooLarge is returned when a frame header announces a payload
// larger than MaxFrameSize. The connection must be closed.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ErrEmptyFrame is returned for a zero-length frame, which the protocol
// forbids. The connection must be closed.
var ErrEmptyFrame = errors.New("empty frame")

// WriteFrame writes one length-prefixed message to w.
// The write is whole-frame: header and payload in a single buffer so a
// partial socket write cannot interleave with another frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("writing frame of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}

	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:FrameHeaderSize], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message from r.
// io.ReadFull loops over partial reads until the frame is complete or the
// peer closes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes: %w", size, ErrFrameTooLarge)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}
