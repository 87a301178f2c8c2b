package server

import (
	"bytes"
	"net"
	"sync"
	"testing"

	"github.com/aeolun/ninechess/pkg/protocol"
)

// newTestConn returns a SecureConn over one end of a pipe. Nothing reads the
// other end, so only tests that never send may use it.
func newTestConn(t *testing.T) *protocol.SecureConn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	conn, err := protocol.NewSecureConn(a, bytes.Repeat([]byte{7}, 32), 0)
	if err != nil {
		t.Fatalf("NewSecureConn: %v", err)
	}
	return conn
}

// loggedIn creates a session bound to name.
func loggedIn(t *testing.T, sm *SessionManager, name string) *Session {
	t.Helper()
	sess := sm.CreateSession("tcp", newTestConn(t))
	if err := sm.BindUsername(sess, name); err != nil {
		t.Fatalf("BindUsername(%s): %v", name, err)
	}
	return sess
}

func TestSessionManagerCreateAndRemove(t *testing.T) {
	sm := NewSessionManager(0)
	sm.SetMetrics(NewMetrics())

	sess := sm.CreateSession("tcp", newTestConn(t))
	if sess.ID == 0 {
		t.Fatal("expected a non-zero session ID")
	}

	if got, ok := sm.GetSession(sess.ID); !ok || got != sess {
		t.Fatal("session should be retrievable by ID")
	}

	if sess.Username() != "" || sess.GameID() != "" {
		t.Fatal("new session should have no identity or game")
	}

	sm.RemoveSession(sess)
	sm.RemoveSession(sess) // idempotent

	if _, ok := sm.GetSession(sess.ID); ok {
		t.Fatal("session should be gone after RemoveSession")
	}
	if sm.Count() != 0 {
		t.Fatalf("expected 0 sessions, got %d", sm.Count())
	}
}

func TestSessionManagerUniqueIdentity(t *testing.T) {
	sm := NewSessionManager(0)

	alice := loggedIn(t, sm, "alice")
	other := sm.CreateSession("tcp", newTestConn(t))

	if err := sm.BindUsername(other, "alice"); err != ErrAlreadyLoggedIn {
		t.Fatalf("expected ErrAlreadyLoggedIn for a second alice, got %v", err)
	}

	if err := sm.BindUsername(alice, "bob"); err != ErrAlreadyLoggedIn {
		t.Fatalf("expected ErrAlreadyLoggedIn when rebinding, got %v", err)
	}

	if got, ok := sm.GetByUsername("alice"); !ok || got != alice {
		t.Fatal("alice should map to the first session")
	}

	// After alice disconnects the name is free again
	sm.RemoveSession(alice)
	if err := sm.BindUsername(other, "alice"); err != nil {
		t.Fatalf("expected name to be free after disconnect: %v", err)
	}
}

func TestSessionManagerBindAfterRemove(t *testing.T) {
	sm := NewSessionManager(0)
	sess := sm.CreateSession("tcp", newTestConn(t))
	sm.RemoveSession(sess)

	if err := sm.BindUsername(sess, "ghost"); err == nil {
		t.Fatal("a removed session must not claim a name")
	}
	if _, ok := sm.GetByUsername("ghost"); ok {
		t.Fatal("ghost should not be registered")
	}
}

func TestSessionManagerConcurrentCreate(t *testing.T) {
	sm := NewSessionManager(0)

	var wg sync.WaitGroup
	ids := make(chan uint64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- sm.CreateSession("tcp", newTestConn(t)).ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session ID %d", id)
		}
		seen[id] = true
	}
	if len(sm.GetAllSessions()) != 50 {
		t.Fatalf("expected 50 sessions, got %d", len(sm.GetAllSessions()))
	}
}

func TestLoginLimiter(t *testing.T) {
	sm := NewSessionManager(3)
	sess := sm.CreateSession("tcp", newTestConn(t))

	for i := 0; i < 3; i++ {
		if !sess.authLimiter.Allow() {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if sess.authLimiter.Allow() {
		t.Fatal("fourth attempt within a minute should be refused")
	}

	unlimited := NewSessionManager(0).CreateSession("tcp", newTestConn(t))
	for i := 0; i < 100; i++ {
		if !unlimited.authLimiter.Allow() {
			t.Fatal("limit 0 should never refuse")
		}
	}
}

func TestSessionGameLifecycle(t *testing.T) {
	sm := NewSessionManager(0)
	sess := loggedIn(t, sm, "carol")

	if !sess.setGame("g1") {
		t.Fatal("open session should accept a game")
	}

	sess.clearGame("other")
	if sess.GameID() != "g1" {
		t.Fatal("clearing a different game must not touch the current one")
	}

	sess.clearGame("g1")
	if sess.GameID() != "" {
		t.Fatal("game should be cleared")
	}

	sess.markClosed()
	if sess.setGame("g2") {
		t.Fatal("closed session must not accept a game")
	}
}
