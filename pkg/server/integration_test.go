package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aeolun/ninechess/pkg/accounts"
	"github.com/aeolun/ninechess/pkg/client"
	"github.com/aeolun/ninechess/pkg/database"
	"github.com/aeolun/ninechess/pkg/protocol"
)

// Integration test helpers

const (
	testKDFIterations = 1000
	testTimeout       = 5 * time.Second
)

// captureMailer keeps the last code sent to each address
type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendCode(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[email] = code
	return nil
}

func (m *captureMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type testEnv struct {
	srv  *Server
	db   *database.DB
	mail *captureMailer
}

// startTestServer starts a real server on a random port backed by a
// temporary database. configure may adjust the server before Start.
func startTestServer(t *testing.T, configure func(*Server)) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)

	mail := &captureMailer{}
	svc := accounts.NewService(db, accounts.NewMemoryCodeStore(), mail,
		accounts.Config{Pepper: "test-pepper", BcryptCost: bcrypt.MinCost}, nil)

	cfg := DefaultConfig()
	cfg.TCPPort = 0
	cfg.KDFIterations = testKDFIterations
	cfg.CleanupDelay = 10 * time.Millisecond
	cfg.HandshakeTimeout = 2 * time.Second

	srv := NewServer(cfg, svc, db.WriteBuffer, zap.NewNop().Sugar())
	if configure != nil {
		configure(srv)
	}
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		srv.Stop()
		db.Close()
	})

	return &testEnv{srv: srv, db: db, mail: mail}
}

func (e *testEnv) addr() string {
	return fmt.Sprintf("127.0.0.1:%d", e.srv.Addr().(*net.TCPAddr).Port)
}

// connect opens an encrypted session
func (e *testEnv) connect(t *testing.T) *client.Connection {
	t.Helper()

	conn, err := client.NewConnection(e.addr())
	require.NoError(t, err)
	conn.SetKDFIterations(testKDFIterations)
	require.NoError(t, conn.Connect())
	t.Cleanup(conn.Disconnect)
	return conn
}

// player registers and logs in a fresh account
func (e *testEnv) player(t *testing.T, name string) *client.Connection {
	t.Helper()

	conn := e.connect(t)
	reg, err := conn.Register(name, "pw-"+name, name+"@example.com")
	require.NoError(t, err)
	require.True(t, reg.Success, reg.Message)

	login, err := conn.Login(name, "pw-"+name)
	require.NoError(t, err)
	require.True(t, login.Success, login.Message)
	return conn
}

// pair queues two new players and returns them once the game has started
func (e *testEnv) pair(t *testing.T, whiteName, blackName string) (white, black *client.Connection, gameID string) {
	t.Helper()

	white = e.player(t, whiteName)
	black = e.player(t, blackName)

	resp, err := white.JoinQueue()
	require.NoError(t, err)
	require.True(t, resp.Success)

	resp, err = black.JoinQueue()
	require.NoError(t, err)
	require.True(t, resp.Success)

	ws, err := white.WaitGameStart(testTimeout)
	require.NoError(t, err)
	bs, err := black.WaitGameStart(testTimeout)
	require.NoError(t, err)

	require.Equal(t, "white", ws.Color)
	require.Equal(t, "black", bs.Color)
	require.Equal(t, blackName, ws.Opponent)
	require.Equal(t, whiteName, bs.Opponent)
	require.Equal(t, ws.GameID, bs.GameID)
	return white, black, ws.GameID
}

func (e *testEnv) account(t *testing.T, name string) *database.Account {
	t.Helper()
	acct, err := e.db.GetAccount(name)
	require.NoError(t, err)
	return acct
}

func cell(board protocol.Board, row, col int) string {
	if board[row][col] == nil {
		return ""
	}
	return *board[row][col]
}

func TestServerIntegration(t *testing.T) {
	env := startTestServer(t, nil)

	conn := env.connect(t)
	reg, err := conn.Register("alice", "secret", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, reg.Success)
	assert.Equal(t, "Registration successful", reg.Message)

	login, err := conn.Login("alice", "secret")
	require.NoError(t, err)
	require.True(t, login.Success)
	assert.Equal(t, "alice", login.Username)
	require.NotNil(t, login.Stats)
	assert.Equal(t, protocol.Stats{Rating: 1200}, *login.Stats)

	bob := env.player(t, "bob")

	resp, err := conn.JoinQueue()
	require.NoError(t, err)
	assert.Equal(t, "Joined queue", resp.Message)

	resp, err = bob.JoinQueue()
	require.NoError(t, err)
	assert.True(t, resp.Success)

	start, err := conn.WaitGameStart(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "white", start.Color)
	assert.Equal(t, "bob", start.Opponent)

	// Two-queen back ranks
	back := []string{"rook", "knight", "bishop", "queen", "king", "queen", "bishop", "knight", "rook"}
	require.Len(t, start.Board, 9)
	for col, kind := range back {
		assert.Equal(t, "white_"+kind, cell(start.Board, 8, col))
		assert.Equal(t, "black_"+kind, cell(start.Board, 0, col))
	}

	_, err = bob.WaitGameStart(testTimeout)
	require.NoError(t, err)

	// White pawn (7,4)->(6,4), black pawn (1,4)->(2,4)
	move, err := conn.Move([]int{7, 4}, []int{6, 4}, "")
	require.NoError(t, err)
	require.True(t, move.Success, move.Message)
	assert.Equal(t, "black", move.Turn)
	assert.Equal(t, "continue", move.GameStatus)
	assert.False(t, move.InCheck)
	assert.Equal(t, "white_pawn", cell(move.Board, 6, 4))
	assert.Equal(t, "", cell(move.Board, 7, 4))

	seen, err := bob.WaitOpponentMove(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 4}, seen.From)
	assert.Equal(t, []int{6, 4}, seen.To)
	assert.Equal(t, "black", seen.Turn)

	move, err = bob.Move([]int{1, 4}, []int{2, 4}, "")
	require.NoError(t, err)
	require.True(t, move.Success, move.Message)
	assert.Equal(t, "white", move.Turn)
	assert.Equal(t, "continue", move.GameStatus)

	seen, err = conn.WaitOpponentMove(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "white", seen.Turn)
	assert.Equal(t, "black_pawn", cell(seen.Board, 2, 4))

	assert.Equal(t, 2, env.srv.sessions.Count())
	assert.Equal(t, 1, env.srv.games.Len())
}

func TestAccountErrorsOverWire(t *testing.T) {
	env := startTestServer(t, nil)
	env.player(t, "alice")

	conn := env.connect(t)

	reg, err := conn.Register("alice", "x", "other@example.com")
	require.NoError(t, err)
	assert.False(t, reg.Success)
	assert.Equal(t, "Username already exists", reg.Message)

	reg, err = conn.Register("carol", "", "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Missing fields", reg.Message)

	login, err := conn.Login("alice", "wrong")
	require.NoError(t, err)
	assert.False(t, login.Success)
	assert.Equal(t, "Invalid credentials", login.Message)

	login, err = conn.Login("", "")
	require.NoError(t, err)
	assert.Equal(t, "Missing credentials", login.Message)

	// alice is already bound to the first connection
	login, err = conn.Login("alice", "pw-alice")
	require.NoError(t, err)
	assert.False(t, login.Success)
	assert.Equal(t, "Already logged in", login.Message)
}

func TestLoginRateLimit(t *testing.T) {
	env := startTestServer(t, func(s *Server) {
		s.sessions = NewSessionManager(2)
		s.sessions.SetMetrics(s.metrics)
	})

	conn := env.connect(t)
	for i := 0; i < 2; i++ {
		login, err := conn.Login("nobody", "nothing")
		require.NoError(t, err)
		assert.Equal(t, "Invalid credentials", login.Message)
	}

	login, err := conn.Login("nobody", "nothing")
	require.NoError(t, err)
	assert.Equal(t, "Too many login attempts", login.Message)
}

func TestResetPasswordRateLimit(t *testing.T) {
	env := startTestServer(t, func(s *Server) {
		s.sessions = NewSessionManager(2)
		s.sessions.SetMetrics(s.metrics)
	})
	env.player(t, "gina")

	conn := env.connect(t)
	reset, err := conn.RequestReset("gina@example.com")
	require.NoError(t, err)
	require.True(t, reset.Success)
	code := env.mail.code("gina@example.com")

	for i := 0; i < 2; i++ {
		done, err := conn.ResetPassword("gina@example.com", "000000", "guess")
		require.NoError(t, err)
		assert.Equal(t, "Invalid reset code", done.Message)
	}

	// The right code is refused too once the budget is spent
	done, err := conn.ResetPassword("gina@example.com", code, "new-secret")
	require.NoError(t, err)
	assert.False(t, done.Success)
	assert.Equal(t, "Too many reset attempts", done.Message)

	// A limited attempt does not consume the code
	other := env.connect(t)
	done, err = other.ResetPassword("gina@example.com", code, "new-secret")
	require.NoError(t, err)
	assert.True(t, done.Success, done.Message)
}

func TestRequestsRequiringLoginOrGame(t *testing.T) {
	env := startTestServer(t, nil)
	conn := env.connect(t)

	resp, err := conn.JoinQueue()
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Not logged in", resp.Message)

	resp, err = conn.LeaveQueue()
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Left queue", resp.Message)

	move, err := conn.Move([]int{7, 4}, []int{6, 4}, "")
	require.NoError(t, err)
	assert.False(t, move.Success)
	assert.Equal(t, "No active game", move.Message)

	_, err = conn.Resign()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No active game")
}

func TestMoveRejectionsOverWire(t *testing.T) {
	env := startTestServer(t, nil)
	white, black, _ := env.pair(t, "w", "b")

	tests := []struct {
		name string
		conn *client.Connection
		from []int
		to   []int
		want string
	}{
		{"black moves first", black, []int{1, 4}, []int{2, 4}, "Not your turn"},
		{"opponent piece", white, []int{1, 4}, []int{2, 4}, "Invalid piece selection"},
		{"empty square", white, []int{4, 4}, []int{3, 4}, "Invalid piece selection"},
		{"malformed origin", white, []int{7}, []int{6, 4}, "Invalid piece selection"},
		{"illegal shape", white, []int{7, 4}, []int{4, 4}, "Invalid move"},
		{"off board target", white, []int{7, 4}, []int{6, 9}, "Invalid move"},
		{"malformed target", white, []int{7, 4}, nil, "Invalid move"},
		{"rook through pawn", white, []int{8, 0}, []int{6, 0}, "Invalid move"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			move, err := tt.conn.Move(tt.from, tt.to, "")
			require.NoError(t, err)
			assert.False(t, move.Success)
			assert.Equal(t, tt.want, move.Message)
		})
	}

	// Rejections never change the turn
	move, err := white.Move([]int{7, 4}, []int{5, 4}, "")
	require.NoError(t, err)
	assert.True(t, move.Success, move.Message)
}

func TestResignationOverWire(t *testing.T) {
	env := startTestServer(t, nil)
	white, black, gameID := env.pair(t, "w", "b")

	move, err := white.Move([]int{7, 4}, []int{6, 4}, "")
	require.NoError(t, err)
	require.True(t, move.Success)
	_, err = black.WaitOpponentMove(testTimeout)
	require.NoError(t, err)

	// Black resigns on its own turn
	end, err := black.Resign()
	require.NoError(t, err)
	assert.Equal(t, protocol.GameEnd{Result: "loss", Reason: "resigned"}, *end)

	end, err = white.WaitGameEnd(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, protocol.GameEnd{Result: "win", Reason: "opponent_resigned"}, *end)

	w := env.account(t, "w")
	b := env.account(t, "b")
	assert.Equal(t, 1, w.Wins)
	assert.Equal(t, 1, w.GamesPlayed)
	assert.Equal(t, 1, b.Losses)
	assert.Greater(t, w.Rating, 1200)
	assert.Less(t, b.Rating, 1200)

	// The game is over for both sides immediately
	move, err = white.Move([]int{7, 3}, []int{6, 3}, "")
	require.NoError(t, err)
	assert.Equal(t, "No active game", move.Message)

	require.NoError(t, env.db.WriteBuffer.Flush())
	rec, err := env.db.GetGame(gameID)
	require.NoError(t, err)
	assert.Equal(t, "white", rec.Winner)
	assert.Equal(t, "resignation", rec.Reason)
	require.Len(t, rec.Moves, 1)
	assert.Equal(t, "e2", rec.Moves[0].From)
	assert.Equal(t, "e3", rec.Moves[0].To)

	// Both can queue again
	resp, err := white.JoinQueue()
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestResignOutOfTurn(t *testing.T) {
	env := startTestServer(t, nil)
	white, black, _ := env.pair(t, "w", "b")

	// Black resigns while white is to move
	end, err := black.Resign()
	require.NoError(t, err)
	assert.Equal(t, "loss", end.Result)

	end, err = white.WaitGameEnd(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "win", end.Result)
}

func TestDisconnectMidGame(t *testing.T) {
	env := startTestServer(t, nil)
	white, black, gameID := env.pair(t, "w", "b")

	black.Disconnect()

	end, err := white.WaitGameEnd(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, protocol.GameEnd{Result: "win", Reason: "opponent_disconnected"}, *end)

	assert.Equal(t, 1, env.account(t, "w").Wins)
	assert.Equal(t, 1, env.account(t, "b").Losses)

	require.NoError(t, env.db.WriteBuffer.Flush())
	rec, err := env.db.GetGame(gameID)
	require.NoError(t, err)
	assert.Equal(t, "disconnect", rec.Reason)

	// The finished game leaves the table after the cleanup delay
	assert.Eventually(t, func() bool { return env.srv.games.Len() == 0 }, testTimeout, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return env.srv.sessions.Count() == 1 }, testTimeout, 10*time.Millisecond)

	// The name is free for a new login
	again := env.connect(t)
	login, err := again.Login("b", "pw-b")
	require.NoError(t, err)
	assert.True(t, login.Success, login.Message)
	assert.Equal(t, 1, login.Stats.Losses)
}

func TestQueuedDisconnectIsNeverPaired(t *testing.T) {
	env := startTestServer(t, nil)

	gone := env.player(t, "gone")
	resp, err := gone.JoinQueue()
	require.NoError(t, err)
	require.True(t, resp.Success)

	gone.Disconnect()
	require.Eventually(t, func() bool { return env.srv.queue.Len() == 0 }, testTimeout, 10*time.Millisecond)

	// The next two players are paired with each other
	env.pair(t, "b", "c")
	assert.Equal(t, 1, env.srv.games.Len())
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	env := startTestServer(t, nil)
	conn := env.connect(t)

	require.NoError(t, conn.Send(&teleportRequest{To: []int{0, 0}}))
	msg, err := conn.Expect(testTimeout, protocol.TypeError)
	require.NoError(t, err)
	assert.Equal(t, "Unknown message type", msg.(*protocol.ErrorMessage).Message)

	// Server-to-client types are not accepted as requests
	require.NoError(t, conn.Send(&protocol.GameEnd{Result: "win", Reason: "checkmate"}))
	msg, err = conn.Expect(testTimeout, protocol.TypeError)
	require.NoError(t, err)
	assert.Equal(t, "Unknown message type", msg.(*protocol.ErrorMessage).Message)

	require.NoError(t, conn.Send(&badMoveRequest{From: "e2"}))
	msg, err = conn.Expect(testTimeout, protocol.TypeError)
	require.NoError(t, err)
	assert.Equal(t, "Invalid message fields", msg.(*protocol.ErrorMessage).Message)

	// The connection survives recoverable errors
	reg, err := conn.Register("dave", "pw", "dave@example.com")
	require.NoError(t, err)
	assert.True(t, reg.Success)
}

type teleportRequest struct {
	To []int `json:"to"`
}

func (*teleportRequest) MessageType() string { return "teleport" }

type badMoveRequest struct {
	From string `json:"from"`
}

func (*badMoveRequest) MessageType() string { return protocol.TypeMove }

func TestPasswordResetOverWire(t *testing.T) {
	env := startTestServer(t, nil)
	first := env.player(t, "erin")

	conn := env.connect(t)

	reset, err := conn.RequestReset("nobody@example.com")
	require.NoError(t, err)
	assert.False(t, reset.Success)
	assert.Equal(t, "Email not found", reset.Message)

	reset, err = conn.RequestReset("erin@example.com")
	require.NoError(t, err)
	require.True(t, reset.Success)
	assert.Equal(t, "Reset code sent to email", reset.Message)

	code := env.mail.code("erin@example.com")
	require.Len(t, code, 6)

	// Issued codes never start with zero
	done, err := conn.ResetPassword("erin@example.com", "000000", "new-secret")
	require.NoError(t, err)
	assert.False(t, done.Success)
	assert.Equal(t, "Invalid reset code", done.Message)

	done, err = conn.ResetPassword("erin@example.com", code, "new-secret")
	require.NoError(t, err)
	assert.True(t, done.Success)
	assert.Equal(t, "Password reset successful", done.Message)

	// Codes are single-use
	done, err = conn.ResetPassword("erin@example.com", code, "again")
	require.NoError(t, err)
	assert.False(t, done.Success)

	// erin is still bound to the first connection
	first.Close()
	assert.Eventually(t, func() bool {
		return env.srv.sessions.Count() == 1
	}, testTimeout, 10*time.Millisecond)

	other := env.connect(t)
	login, err := other.Login("erin", "new-secret")
	require.NoError(t, err)
	assert.True(t, login.Success, login.Message)
}

func TestStopEndsSessions(t *testing.T) {
	env := startTestServer(t, nil)
	white, black, _ := env.pair(t, "w", "b")

	require.NoError(t, env.srv.Stop())

	for _, conn := range []*client.Connection{white, black} {
		_, err := conn.Expect(testTimeout, protocol.TypeMoveResponse)
		assert.ErrorIs(t, err, client.ErrClosed)
	}
	assert.Equal(t, 0, env.srv.sessions.Count())

	// Stop is idempotent
	require.NoError(t, env.srv.Stop())
}
