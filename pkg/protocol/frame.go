package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize is the default maximum allowed frame body size (1 MB)
	MaxFrameSize = 1024 * 1024

	// lengthPrefixSize is the size of the big-endian body length header
	lengthPrefixSize = 4
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrShutdown is returned by ReadFrame when the peer sends a zero-length
	// frame, the orderly shutdown signal.
	ErrShutdown = errors.New("peer requested shutdown")
)

// Frame format: [Length (4 bytes, big-endian)][Body (Length bytes)]
//
// After the handshake every body is IV || AES-256-CBC ciphertext. The
// handshake itself sends plain JSON bodies under the same prefix.

// WriteFrame writes a length-prefixed body in a single Write call so frames
// from concurrent writers sharing a lock never interleave.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[lengthPrefixSize:], body)

	_, err := w.Write(buf)
	return err
}

// WriteShutdown writes the zero-length frame that ends a session.
func WriteShutdown(w io.Writer) error {
	var buf [lengthPrefixSize]byte
	_, err := w.Write(buf[:])
	return err
}

// ReadFrame reads one length-prefixed body. Short reads are accumulated until
// the full body has arrived; a zero length yields ErrShutdown.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = MaxFrameSize
	}

	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrShutdown
	}
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}
