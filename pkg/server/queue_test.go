package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/ninechess/pkg/chess"
)

// pairRecorder is a PairFunc that records the games it creates.
type pairRecorder struct {
	mu      sync.Mutex
	matches []*Match
}

func (p *pairRecorder) pair(white, black *Session) *Match {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := &Match{
		ID:        fmt.Sprintf("game-%d", len(p.matches)+1),
		Game:      chess.NewGame(chess.Options{}),
		White:     white,
		Black:     black,
		WhiteName: white.Username(),
		BlackName: black.Username(),
	}
	white.setGame(m.ID)
	black.setGame(m.ID)
	m.Game.Start()
	p.matches = append(p.matches, m)
	return m
}

func newTestQueue() (*Queue, *pairRecorder) {
	rec := &pairRecorder{}
	q := NewQueue(rec.pair)
	q.SetMetrics(NewMetrics())
	return q, rec
}

func TestQueueRequiresLogin(t *testing.T) {
	q, _ := newTestQueue()
	sm := NewSessionManager(0)
	anon := sm.CreateSession("tcp", newTestConn(t))

	_, err := q.Join(anon)
	assert.Equal(t, ErrNotLoggedIn, err)
	assert.Equal(t, 0, q.Len())
}

func TestQueuePairsFIFO(t *testing.T) {
	q, rec := newTestQueue()
	sm := NewSessionManager(0)
	a := loggedIn(t, sm, "a")
	b := loggedIn(t, sm, "b")
	c := loggedIn(t, sm, "c")

	m, err := q.Join(a)
	require.NoError(t, err)
	assert.Nil(t, m)

	// Joining twice keeps a single entry
	m, err = q.Join(a)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, 1, q.Len())

	m, err = q.Join(b)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Same(t, a, m.White, "earliest joiner plays white")
	assert.Same(t, b, m.Black)
	assert.Equal(t, m.ID, a.GameID())
	assert.Equal(t, m.ID, b.GameID())
	assert.Equal(t, chess.StatePlaying, m.Game.State())
	assert.Equal(t, 0, q.Len())

	m, err = q.Join(c)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Len(t, rec.matches, 1)
}

func TestQueueRejectsPlayerInGame(t *testing.T) {
	q, _ := newTestQueue()
	sm := NewSessionManager(0)
	a := loggedIn(t, sm, "a")
	b := loggedIn(t, sm, "b")

	_, err := q.Join(a)
	require.NoError(t, err)
	_, err = q.Join(b)
	require.NoError(t, err)

	_, err = q.Join(a)
	assert.Equal(t, ErrAlreadyInGame, err)
	assert.False(t, q.Contains(a), "a player is never queued and in a game at once")
}

func TestQueueLeave(t *testing.T) {
	q, _ := newTestQueue()
	sm := NewSessionManager(0)
	a := loggedIn(t, sm, "a")

	assert.False(t, q.Leave(a), "leaving when not queued is a no-op")

	_, err := q.Join(a)
	require.NoError(t, err)
	assert.True(t, q.Leave(a))
	assert.False(t, q.Leave(a))
	assert.Equal(t, 0, q.Len())
}

func TestQueueDisconnectBeforePairing(t *testing.T) {
	q, rec := newTestQueue()
	sm := NewSessionManager(0)
	gone := loggedIn(t, sm, "gone")
	b := loggedIn(t, sm, "b")
	c := loggedIn(t, sm, "c")

	_, err := q.Join(gone)
	require.NoError(t, err)

	assert.Equal(t, "", q.Remove(gone))
	assert.False(t, q.Contains(gone))

	m, err := q.Join(b)
	require.NoError(t, err)
	assert.Nil(t, m, "the disconnected player must not be paired")

	m, err = q.Join(c)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Same(t, b, m.White)
	assert.Same(t, c, m.Black)

	for _, match := range rec.matches {
		assert.NotSame(t, gone, match.White)
		assert.NotSame(t, gone, match.Black)
	}

	// A closed session cannot rejoin
	m, err = q.Join(gone)
	assert.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, q.Contains(gone))
}

func TestQueueRemoveReturnsGame(t *testing.T) {
	q, _ := newTestQueue()
	sm := NewSessionManager(0)
	a := loggedIn(t, sm, "a")
	b := loggedIn(t, sm, "b")

	_, err := q.Join(a)
	require.NoError(t, err)
	m, err := q.Join(b)
	require.NoError(t, err)

	assert.Equal(t, m.ID, q.Remove(a))
}

func TestQueueConcurrentJoins(t *testing.T) {
	q, rec := newTestQueue()
	sm := NewSessionManager(0)

	const players = 40
	sessions := make([]*Session, players)
	for i := range sessions {
		sessions[i] = loggedIn(t, sm, fmt.Sprintf("p%d", i))
	}

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_, err := q.Join(s)
			assert.NoError(t, err)
		}(sess)
	}
	wg.Wait()

	assert.Len(t, rec.matches, players/2)
	assert.Equal(t, 0, q.Len())

	seen := make(map[*Session]int)
	for _, m := range rec.matches {
		seen[m.White]++
		seen[m.Black]++
		assert.NotSame(t, m.White, m.Black)
	}
	for _, sess := range sessions {
		assert.Equal(t, 1, seen[sess], "every player is in exactly one game")
	}
}
