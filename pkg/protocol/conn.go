package protocol

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/aeolun/ninechess/pkg/secure"
)

// ErrDecrypt wraps cipher failures on an inbound frame. The framing and key
// state cannot be resynchronized afterwards, so it is fatal.
var ErrDecrypt = errors.New("failed to decrypt frame")

// SecureConn carries encrypted JSON messages over an established connection.
// Writes are serialized so notifications sent from other goroutines never
// interleave with responses; reads must come from a single goroutine.
type SecureConn struct {
	conn     net.Conn
	cipher   *secure.Cipher
	maxFrame uint32

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewSecureConn wraps conn with the session key produced by the handshake.
func NewSecureConn(conn net.Conn, key []byte, maxFrame uint32) (*SecureConn, error) {
	c, err := secure.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if maxFrame == 0 {
		maxFrame = MaxFrameSize
	}
	return &SecureConn{conn: conn, cipher: c, maxFrame: maxFrame}, nil
}

// Send encodes, seals and writes one message.
func (c *SecureConn) Send(m Message) error {
	plain, err := Encode(m)
	if err != nil {
		return err
	}

	sealed, err := c.cipher.Seal(plain)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	return WriteFrame(c.conn, sealed)
}

// Receive blocks until a full frame arrives and returns the decoded message.
// ErrShutdown reports an orderly close; IsRecoverable separates bad requests
// from protocol violations.
func (c *SecureConn) Receive() (Message, error) {
	body, err := ReadFrame(c.conn, c.maxFrame)
	if err != nil {
		return nil, err
	}

	plain, err := c.cipher.Open(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return Decode(plain)
}

// Shutdown sends the zero-length frame and closes the connection.
func (c *SecureConn) Shutdown() error {
	c.writeMu.Lock()
	if !c.closed.Load() {
		_ = WriteShutdown(c.conn)
	}
	c.writeMu.Unlock()
	return c.Close()
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *SecureConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *SecureConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsRecoverable reports whether a Receive error concerns only the one request
// (unknown type, wrong field types) and the connection may continue.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnknownType) || errors.Is(err, ErrInvalidFields)
}
