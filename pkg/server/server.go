package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/ninechess/pkg/chess"
	"github.com/aeolun/ninechess/pkg/protocol"
	"github.com/aeolun/ninechess/pkg/secure"
)

// Server represents the chess server
type Server struct {
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	sessions     *SessionManager
	queue        *Queue
	games        *GameTable
	accounts     AccountService
	archive      GameArchive
	metrics      *Metrics
	config       ServerConfig
	log          *zap.SugaredLogger
	newGame      func(chess.Options) *chess.Game
	startTime    time.Time
	shutdown     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup // accept loops
	conns        sync.WaitGroup // connection handlers

	pendingMu sync.Mutex
	pending   map[net.Conn]struct{} // connections still in the handshake
}

// ServerConfig holds server configuration
type ServerConfig struct {
	TCPPort                int // 0 picks a free port
	HTTPPort               int // 0 disables /health, /metrics and /ws
	MaxFrameSize           uint32
	HandshakeTimeout       time.Duration
	KDFIterations          int
	AllowPromotionChoice   bool
	CleanupDelay           time.Duration // finished games linger this long in the table
	LoginAttemptsPerMinute int
	RequestTimeout         time.Duration // bound on account and mail calls
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:                5555,
		MaxFrameSize:           protocol.MaxFrameSize,
		HandshakeTimeout:       30 * time.Second,
		KDFIterations:          secure.DefaultKDFIterations,
		AllowPromotionChoice:   true,
		CleanupDelay:           time.Second,
		LoginAttemptsPerMinute: 10,
		RequestTimeout:         15 * time.Second,
	}
}

// NewServer creates a new server instance. archive may be nil; a nil logger
// discards output.
func NewServer(config ServerConfig, accounts AccountService, archive GameArchive, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Server{
		sessions: NewSessionManager(config.LoginAttemptsPerMinute),
		games:    NewGameTable(),
		accounts: accounts,
		archive:  archive,
		metrics:  NewMetrics(),
		config:   config,
		log:      log,
		newGame:  chess.NewGame,
		shutdown: make(chan struct{}),
		pending:  make(map[net.Conn]struct{}),
	}
	s.queue = NewQueue(s.startMatch)

	s.sessions.SetMetrics(s.metrics)
	s.queue.SetMetrics(s.metrics)
	s.games.SetMetrics(s.metrics)
	return s
}

// Metrics returns the server's metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start starts the TCP listener and, if configured, the HTTP side port
func (s *Server) Start() error {
	s.startTime = time.Now()

	lc := net.ListenConfig{Control: reuseAddrControl}

	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.logListenBacklog(listener.Addr().String())

	if s.config.HTTPPort != 0 {
		httpAddr := fmt.Sprintf(":%d", s.config.HTTPPort)
		httpListener, err := lc.Listen(context.Background(), "tcp", httpAddr)
		if err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
		}
		s.httpListener = httpListener
		s.httpServer = &http.Server{
			Handler:           s.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Errorw("HTTP server failed", "error", err)
			}
		}()
		s.log.Infow("HTTP server listening", "addr", httpListener.Addr().String())
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.monitorListenOverflows()

	return nil
}

// Addr returns the TCP listener address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// HTTPAddr returns the HTTP listener address, or nil when disabled
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Stop gracefully stops the server. Connected clients get the shutdown frame
// and any game in progress ends as a disconnect.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Warnw("HTTP shutdown incomplete", "error", err)
			}
			cancel()
		}

		// Wait for accept loops to finish
		s.wg.Wait()

		s.closePending()
		s.sessions.CloseAll()
		s.conns.Wait()
	})
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				s.log.Warnw("Accept error", "error", err)
				continue
			}
		}

		s.conns.Add(1)
		go s.handleConnection(conn, "tcp")
	}
}

// handleConnection runs the key exchange and then the message loop for one
// connection. The caller has already added to s.conns.
func (s *Server) handleConnection(conn net.Conn, connType string) {
	defer s.conns.Done()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	key, err := s.handshake(conn)
	if err != nil {
		conn.Close()
		s.metrics.RecordHandshakeFailure()
		s.log.Debugw("Handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	secureConn, err := protocol.NewSecureConn(conn, key, s.config.MaxFrameSize)
	if err != nil {
		conn.Close()
		s.log.Errorw("Failed to set up session cipher", "error", err)
		return
	}

	sess := s.sessions.CreateSession(connType, secureConn)
	defer s.handleDisconnect(sess)

	s.log.Infow("New connection", "session", sess.ID, "remote", conn.RemoteAddr().String(), "transport", connType)

	select {
	case <-s.shutdown:
		secureConn.Shutdown()
		return
	default:
	}

	s.messageLoop(sess)
}

// handshake derives the session key under the handshake deadline. The
// connection is tracked so Stop can abort it.
func (s *Server) handshake(conn net.Conn) ([]byte, error) {
	s.pendingMu.Lock()
	select {
	case <-s.shutdown:
		s.pendingMu.Unlock()
		return nil, net.ErrClosed
	default:
	}
	s.pending[conn] = struct{}{}
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, conn)
		s.pendingMu.Unlock()
	}()

	if s.config.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.config.HandshakeTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	return protocol.ServerHandshake(conn, protocol.HandshakeConfig{KDFIterations: s.config.KDFIterations})
}

func (s *Server) closePending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for conn := range s.pending {
		conn.Close()
	}
}

// messageLoop reads and dispatches messages until the connection ends.
// Unknown types and bad fields are answered; anything else ends the session.
func (s *Server) messageLoop(sess *Session) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordProtocolError("panic")
			s.log.Errorw("Panic in session handler", "session", sess.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	for {
		msg, err := sess.Conn.Receive()
		if err != nil {
			if protocol.IsRecoverable(err) {
				s.metrics.RecordMessageReceived("invalid")
				s.log.Debugw("Rejected request", "session", sess.ID, "error", err)
				reply := ErrInvalidFields
				if errors.Is(err, protocol.ErrUnknownType) {
					reply = ErrUnknownType
				}
				if err := s.sendError(sess, reply); err != nil {
					return
				}
				continue
			}
			s.logReadError(sess, err)
			return
		}

		s.metrics.RecordMessageReceived(msg.MessageType())
		s.log.Debugw("RECV", "session", sess.ID, "type", msg.MessageType())

		if err := s.handleMessage(sess, msg); err != nil {
			s.log.Debugw("Reply failed", "session", sess.ID, "error", err)
			return
		}
	}
}

func (s *Server) logReadError(sess *Session, err error) {
	switch {
	case errors.Is(err, protocol.ErrShutdown):
		s.log.Infow("Client closed session", "session", sess.ID, "user", sess.Username())
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET):
		s.log.Infow("Client disconnected", "session", sess.ID, "user", sess.Username())
	case errors.Is(err, protocol.ErrDecrypt):
		s.metrics.RecordProtocolError("decrypt")
		s.log.Warnw("Dropping session after undecryptable frame", "session", sess.ID, "error", err)
	case errors.Is(err, protocol.ErrMalformed):
		s.metrics.RecordProtocolError("malformed")
		s.log.Warnw("Dropping session after malformed message", "session", sess.ID, "error", err)
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.metrics.RecordProtocolError("frame_too_large")
		s.log.Warnw("Dropping session after oversized frame", "session", sess.ID, "error", err)
	default:
		s.metrics.RecordProtocolError("io")
		s.log.Infow("Session read error", "session", sess.ID, "error", err)
	}
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
