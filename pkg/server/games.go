package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aeolun/ninechess/pkg/accounts"
	"github.com/aeolun/ninechess/pkg/chess"
	"github.com/aeolun/ninechess/pkg/database"
	"github.com/aeolun/ninechess/pkg/protocol"
)

// Match binds a game to the two sessions playing it. The Game owns the board;
// sessions only hold the match id.
type Match struct {
	ID        string
	Game      *chess.Game
	White     *Session
	Black     *Session
	WhiteName string
	BlackName string
	StartedAt time.Time
}

// ColorOf returns the color sess plays, or NoColor for a spectator.
func (m *Match) ColorOf(sess *Session) chess.Color {
	switch sess {
	case m.White:
		return chess.White
	case m.Black:
		return chess.Black
	}
	return chess.NoColor
}

// Player returns the session playing c.
func (m *Match) Player(c chess.Color) *Session {
	if c == chess.White {
		return m.White
	}
	return m.Black
}

// GameTable holds the games being played, keyed by id.
type GameTable struct {
	mu      sync.RWMutex
	games   map[string]*Match
	metrics *Metrics
}

func NewGameTable() *GameTable {
	return &GameTable{games: make(map[string]*Match)}
}

// SetMetrics attaches metrics to the game table
func (t *GameTable) SetMetrics(metrics *Metrics) {
	t.metrics = metrics
}

func (t *GameTable) Add(m *Match) {
	t.mu.Lock()
	t.games[m.ID] = m
	n := len(t.games)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordActiveGames(n)
	}
}

func (t *GameTable) Get(id string) (*Match, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.games[id]
	return m, ok
}

func (t *GameTable) Remove(id string) {
	t.mu.Lock()
	delete(t.games, id)
	n := len(t.games)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordActiveGames(n)
	}
}

func (t *GameTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.games)
}

// outbound is a message queued for delivery once all locks are released.
type outbound struct {
	to  *Session
	msg protocol.Message
}

// startMatch is the queue's PairFunc. It runs under the queue lock.
func (s *Server) startMatch(white, black *Session) *Match {
	m := &Match{
		ID:        uuid.NewString(),
		Game:      s.newGame(chess.Options{AllowPromotionChoice: s.config.AllowPromotionChoice}),
		White:     white,
		Black:     black,
		WhiteName: white.Username(),
		BlackName: black.Username(),
		StartedAt: time.Now(),
	}

	s.games.Add(m)
	white.setGame(m.ID)
	black.setGame(m.ID)
	m.Game.Start()

	s.metrics.RecordGameStarted()
	s.log.Infow("Game created", "game", m.ID, "white", m.WhiteName, "black", m.BlackName)
	return m
}

// gameStarts builds the game_start notifications, white first.
func gameStarts(m *Match) []outbound {
	initial := m.Game.Board()
	board := protocol.Board(initial.Cells())
	return []outbound{
		{m.White, &protocol.GameStart{GameID: m.ID, Color: chess.White.String(), Opponent: m.BlackName, Board: board}},
		{m.Black, &protocol.GameStart{GameID: m.ID, Color: chess.Black.String(), Opponent: m.WhiteName, Board: board}},
	}
}

// endMatch applies a finished game: both sessions leave it immediately, stats
// and the archive are updated, and the table entry is dropped after the
// cleanup delay. Only the caller that finished the Game may call it. The
// returned game_end notifications must be sent after any move replies.
func (s *Server) endMatch(m *Match, o chess.Outcome) []outbound {
	m.White.clearGame(m.ID)
	m.Black.clearGame(m.ID)

	ended := time.Now()
	s.log.Infow("Game finished", "game", m.ID, "winner", winnerName(o), "reason", o.Reason,
		"moves", len(m.Game.History()), "duration", ended.Sub(m.StartedAt).Round(time.Second))

	s.metrics.RecordGameFinished(string(o.Reason))

	ctx, cancel := s.requestContext()
	defer cancel()
	if _, _, err := s.accounts.RecordGame(ctx, m.WhiteName, m.BlackName, resultOf(o)); err != nil {
		s.log.Errorw("Failed to record game result", "game", m.ID, "error", err)
	}

	if s.archive != nil {
		s.archive.ArchiveGame(m.record(o, ended))
	}

	time.AfterFunc(s.config.CleanupDelay, func() { s.games.Remove(m.ID) })

	var out []outbound
	for _, c := range []chess.Color{chess.White, chess.Black} {
		if end, ok := gameEndFor(o, c); ok {
			out = append(out, outbound{m.Player(c), end})
		}
	}
	return out
}

// gameEndFor returns the game_end for the player of color c. The player who
// disconnected gets nothing.
func gameEndFor(o chess.Outcome, c chess.Color) (*protocol.GameEnd, bool) {
	if o.Draw() {
		return &protocol.GameEnd{Result: protocol.ResultDraw, Reason: string(o.Reason)}, true
	}

	won := o.Winner == c
	result := protocol.ResultLoss
	if won {
		result = protocol.ResultWin
	}

	switch o.Reason {
	case chess.ReasonResignation:
		if won {
			return &protocol.GameEnd{Result: result, Reason: protocol.ReasonOpponentResigned}, true
		}
		return &protocol.GameEnd{Result: result, Reason: protocol.ReasonResigned}, true
	case chess.ReasonDisconnect:
		if !won {
			return nil, false
		}
		return &protocol.GameEnd{Result: result, Reason: protocol.ReasonOpponentDisconnected}, true
	}
	return &protocol.GameEnd{Result: result, Reason: string(o.Reason)}, true
}

func resultOf(o chess.Outcome) accounts.Result {
	switch o.Winner {
	case chess.White:
		return accounts.WhiteWins
	case chess.Black:
		return accounts.BlackWins
	}
	return accounts.Draw
}

func winnerName(o chess.Outcome) string {
	if o.Draw() {
		return "draw"
	}
	return o.Winner.String()
}

// record converts the finished game for the archive.
func (m *Match) record(o chess.Outcome, ended time.Time) *database.GameRecord {
	history := m.Game.History()
	moves := make([]database.MoveRecord, 0, len(history))
	for i, mv := range history {
		rec := database.MoveRecord{
			Ply:      i + 1,
			Color:    mv.Color.String(),
			From:     mv.From.String(),
			To:       mv.To.String(),
			Piece:    mv.Piece.String(),
			Captured: optional(mv.Captured.String()),
			PlayedAt: mv.At.UnixMilli(),
		}
		if mv.Promotion != chess.NoPiece {
			rec.Promotion = optional(mv.Promotion.String())
		}
		moves = append(moves, rec)
	}

	return &database.GameRecord{
		ID:        m.ID,
		White:     m.WhiteName,
		Black:     m.BlackName,
		Winner:    winnerName(o),
		Reason:    string(o.Reason),
		StartedAt: m.StartedAt.UnixMilli(),
		EndedAt:   ended.UnixMilli(),
		Moves:     moves,
	}
}
