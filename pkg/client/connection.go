package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/ninechess/pkg/protocol"
)

const defaultTCPPort = "5555"

// ErrTimeout is returned when an expected message does not arrive in time.
var ErrTimeout = errors.New("timed out waiting for message")

// ErrClosed is returned once the server has ended the session.
var ErrClosed = errors.New("connection closed")

// Connection represents a client connection to the server
type Connection struct {
	addr string
	dial func() (net.Conn, error)

	mu        sync.RWMutex
	conn      *protocol.SecureConn
	connected bool

	handshake        protocol.HandshakeConfig
	handshakeTimeout time.Duration

	// Channels for communication
	incoming chan protocol.Message
	errors   chan error

	// backlog holds messages skipped by Expect; single consumer only
	backlog []protocol.Message

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	logger *zap.SugaredLogger
	wg     sync.WaitGroup
}

type dialConfig struct {
	display string
	dial    func() (net.Conn, error)
}

// NewConnection creates a new client connection. addr is host:port,
// tcp://host:port, or ws://host:port for the WebSocket transport.
func NewConnection(addr string) (*Connection, error) {
	dialConfig, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr:             dialConfig.display,
		dial:             dialConfig.dial,
		handshakeTimeout: 30 * time.Second,
		incoming:         make(chan protocol.Message, 100),
		errors:           make(chan error, 10),
		logger:           zap.NewNop().Sugar(),
	}, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *zap.SugaredLogger) {
	c.logger = logger
}

// SetKDFIterations must match the server's work factor.
func (c *Connection) SetKDFIterations(n int) {
	c.handshake.KDFIterations = n
}

// Connect dials, runs the key exchange and starts the reader.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	c.logger.Debugw("Connecting", "addr", c.addr)

	raw, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn := &countingConn{Conn: raw, sent: &c.bytesSent, received: &c.bytesReceived}

	conn.SetDeadline(time.Now().Add(c.handshakeTimeout))
	key, err := protocol.ClientHandshake(conn, c.handshake)
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetDeadline(time.Time{})

	secureConn, err := protocol.NewSecureConn(conn, key, 0)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = secureConn
	c.connected = true
	c.mu.Unlock()

	c.logger.Debugw("Connected", "addr", c.addr)

	c.wg.Add(1)
	go c.readLoop(secureConn)

	return nil
}

// Disconnect drops the connection without the shutdown frame, as a crashed
// client would.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// Close sends the shutdown frame and waits for the reader to stop
func (c *Connection) Close() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Shutdown()
	}
	c.wg.Wait()
}

// Send sends a message to the server
func (c *Connection) Send(msg protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.logger.Debugw("SEND", "type", msg.MessageType())
	return conn.Send(msg)
}

// Incoming returns the channel of messages from the server. It is closed
// when the connection ends.
func (c *Connection) Incoming() <-chan protocol.Message {
	return c.incoming
}

// Errors returns read errors other than an orderly close
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// IsConnected reports whether the session is up
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetAddress returns the server address
func (c *Connection) GetAddress() string {
	return c.addr
}

// GetBytesSent returns bytes written to the wire
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns bytes read from the wire
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// Expect returns the next message of one of the given types, keeping others
// for later calls. It must not be mixed with reading Incoming directly.
func (c *Connection) Expect(timeout time.Duration, types ...string) (protocol.Message, error) {
	for i, msg := range c.backlog {
		if matches(msg, types) {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return msg, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-c.incoming:
			if !ok {
				return nil, ErrClosed
			}
			if matches(msg, types) {
				return msg, nil
			}
			c.backlog = append(c.backlog, msg)
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrTimeout, strings.Join(types, ", "))
		}
	}
}

func matches(msg protocol.Message, types []string) bool {
	for _, t := range types {
		if msg.MessageType() == t {
			return true
		}
	}
	return false
}

func (c *Connection) readLoop(conn *protocol.SecureConn) {
	defer c.wg.Done()
	defer close(c.incoming)

	for {
		msg, err := conn.Receive()
		if err != nil {
			if protocol.IsRecoverable(err) {
				c.logger.Debugw("Skipping message", "error", err)
				continue
			}

			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			conn.Close()

			if errors.Is(err, protocol.ErrShutdown) || errors.Is(err, net.ErrClosed) {
				c.logger.Debugw("Connection closed", "addr", c.addr)
				return
			}
			c.logger.Debugw("Read error", "error", err)
			select {
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		c.logger.Debugw("RECV", "type", msg.MessageType())
		c.incoming <- msg
	}
}

// countingConn counts bytes on the wire
type countingConn struct {
	net.Conn
	sent     *atomic.Uint64
	received *atomic.Uint64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.received.Add(uint64(n))
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.sent.Add(uint64(n))
	return n, err
}

// parseServerAddress parses server address formats:
//   - host:port or host (TCP, default port 5555)
//   - tcp://host:port
//   - ws://host:port or wss://host:port (WebSocket on the HTTP side port)
func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		scheme = strings.ToLower(u.Scheme)
		hostPort = u.Host
	}

	switch scheme {
	case "tcp", "":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			dial: func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, 10*time.Second)
			},
		}, nil

	case "ws", "wss":
		if hostPort == "" {
			return nil, fmt.Errorf("invalid server address %q: missing host", raw)
		}
		useTLS := scheme == "wss"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s", scheme, hostPort),
			dial: func() (net.Conn, error) {
				conn, err := DialWebSocket(hostPort, useTLS)
				if err != nil {
					return nil, err
				}
				return conn, nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	if hostPort == "" {
		return "", "", errors.New("missing host")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		// No port given
		if strings.Contains(err.Error(), "missing port") {
			return strings.Trim(hostPort, "[]"), defaultPort, nil
		}
		return "", "", fmt.Errorf("invalid address %q: %w", hostPort, err)
	}
	if port == "" {
		port = defaultPort
	}
	return host, port, nil
}
