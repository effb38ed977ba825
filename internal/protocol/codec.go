package protocol

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const frameHeaderBytes = 4

var (
	// ErrEmptyFrame is returned for a zero-length frame header.
	ErrEmptyFrame = errors.New("frame length zero")
	// ErrFrameTooLarge is returned when a frame exceeds the decoder limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Encoder writes length-prefixed frames.
type Encoder struct {
	writer io.Writer
}

// Decoder reads length-prefixed frames.
type Decoder struct {
	reader   *bufio.Reader
	maxBytes int
}

// NewEncoder creates a new encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// NewDecoder creates a new decoder for the given reader. A maxBytes of zero
// disables the size check.
func NewDecoder(r io.Reader, maxBytes int) *Decoder {
	return &Decoder{reader: bufio.NewReader(r), maxBytes: maxBytes}
}

// WriteFrame writes payload behind a 4-byte big-endian length header.
func (e *Encoder) WriteFrame(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame := make([]byte, frameHeaderBytes+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderBytes:], payload)

	_, err := e.writer.Write(frame)
	return err
}

// ReadFrame reads the next frame payload from the stream.
func (d *Decoder) ReadFrame(ctx context.Context) ([]byte, error) {
	header := make([]byte, frameHeaderBytes)
	if err := d.readFull(ctx, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if d.maxBytes > 0 && int64(length) > int64(d.maxBytes) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if err := d.readFull(ctx, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

func (d *Decoder) readFull(ctx context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.reader.Read(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) && read > 0 && read < len(buf) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}
