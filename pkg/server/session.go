package server

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/aeolun/ninechess/pkg/protocol"
)

// Session represents an active client connection
type Session struct {
	ID       uint64
	ConnType string               // "tcp" or "websocket"
	Conn     *protocol.SecureConn // Encrypted transport with serialized writes

	authLimiter *rate.Limiter

	mu       sync.Mutex // Protects the fields below
	username string
	gameID   string
	closed   bool
}

// Username returns the bound identity, or "" before login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// GameID returns the active game's id, or "" when not in a game.
func (s *Session) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

// String identifies the session in logs.
func (s *Session) String() string {
	if name := s.Username(); name != "" {
		return name
	}
	return s.Conn.RemoteAddr().String()
}

// setGame assigns a game. It fails for a closed session so a disconnecting
// player is never put into a new game.
func (s *Session) setGame(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.gameID = id
	return true
}

// clearGame drops the game reference if it still points at id.
func (s *Session) clearGame(id string) {
	s.mu.Lock()
	if s.gameID == id {
		s.gameID = ""
	}
	s.mu.Unlock()
}

// markClosed flags the session as disconnecting and returns its game id.
func (s *Session) markClosed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.gameID
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SessionManager manages all active sessions
type SessionManager struct {
	sessions map[uint64]*Session
	byName   map[string]*Session
	nextID   uint64
	mu       sync.RWMutex
	metrics  *Metrics

	loginLimit rate.Limit
	loginBurst int
}

// NewSessionManager creates a new session manager. loginsPerMinute bounds
// login and reset_password attempts per connection; 0 disables the limit.
func NewSessionManager(loginsPerMinute int) *SessionManager {
	sm := &SessionManager{
		sessions:   make(map[uint64]*Session),
		byName:     make(map[string]*Session),
		nextID:     1,
		loginLimit: rate.Inf,
	}
	if loginsPerMinute > 0 {
		sm.loginLimit = rate.Limit(float64(loginsPerMinute) / 60)
		sm.loginBurst = loginsPerMinute
	}
	return sm
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession registers a connection that completed the handshake
func (sm *SessionManager) CreateSession(connType string, conn *protocol.SecureConn) *Session {
	sess := &Session{
		ID:          atomic.AddUint64(&sm.nextID, 1) - 1,
		ConnType:    connType,
		Conn:        conn,
		authLimiter: rate.NewLimiter(sm.loginLimit, sm.loginBurst),
	}

	sm.mu.Lock()
	sm.sessions[sess.ID] = sess
	count := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(count)
		sm.metrics.RecordSessionCreated()
	}

	return sess
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(sessionID uint64) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, ok := sm.sessions[sessionID]
	return sess, ok
}

// GetByUsername returns the live session bound to username
func (sm *SessionManager) GetByUsername(username string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, ok := sm.byName[username]
	return sess, ok
}

// Count returns the number of live sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// GetAllSessions returns all active sessions
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// BindUsername sets the session identity. A username may be bound to at most
// one live session.
func (sm *SessionManager) BindUsername(sess *Session, username string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, live := sm.sessions[sess.ID]; !live {
		return ErrAlreadyLoggedIn
	}
	if other, taken := sm.byName[username]; taken && other != sess {
		return ErrAlreadyLoggedIn
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.username != "" {
		return ErrAlreadyLoggedIn
	}
	sess.username = username
	sm.byName[username] = sess
	return nil
}

// RemoveSession removes a session and closes the connection
func (sm *SessionManager) RemoveSession(sess *Session) {
	sm.mu.Lock()
	if _, ok := sm.sessions[sess.ID]; !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sess.ID)
	if name := sess.Username(); name != "" && sm.byName[name] == sess {
		delete(sm.byName, name)
	}
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionDisconnected()
	}

	sess.Conn.Close()
}

// CloseAll shuts down every connection; their handlers run the cleanup.
func (sm *SessionManager) CloseAll() {
	for _, sess := range sm.GetAllSessions() {
		sess.Conn.Shutdown()
	}
}
