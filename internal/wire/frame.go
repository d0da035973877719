// ABOUTME: Reads whole length-prefixed frames off a byte stream
// ABOUTME: Partial frames are buffered until complete and never surfaced to callers

package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameReader splits a byte stream into frames. It is not safe for
// concurrent use.
type FrameReader struct {
	r   *bufio.Reader
	max uint32
}

// NewFrameReader returns a FrameReader that rejects frames larger than
// MaxFrameSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), max: MaxFrameSize}
}

// Next blocks until a complete frame is available and returns it, length
// prefix included. It returns io.EOF when the stream ends on a frame
// boundary and an ErrMalformedMessage error when it ends mid-frame or a
// frame announces an oversized length. Other errors come from the
// underlying reader unchanged.
func (fr *FrameReader) Next() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream ended inside length prefix: %w", ErrMalformedMessage, err)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > fr.max {
		return nil, fmt.Errorf("%w: frame length %d exceeds limit %d", ErrMalformedMessage, n, fr.max)
	}

	frame := make([]byte, 4+int(n))
	copy(frame, hdr[:])
	if _, err := io.ReadFull(fr.r, frame[4:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream ended inside %d byte frame: %w", ErrMalformedMessage, n, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return frame, nil
}
