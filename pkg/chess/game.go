package chess

import (
	"errors"
	"sync"
	"time"
)

// MoveError is a rejected move. Message is shown to the player verbatim.
type MoveError struct {
	Message string
}

func (e *MoveError) Error() string { return e.Message }

// Rejections returned by MakeMove, in the order they are checked.
var (
	ErrGameOver         = &MoveError{"Game is over"}
	ErrNotYourTurn      = &MoveError{"Not your turn"}
	ErrInvalidSelection = &MoveError{"Invalid piece selection"}
	ErrInvalidMove      = &MoveError{"Invalid move"}
	ErrKingInCheck      = &MoveError{"Move leaves king in check"}
)

// ErrNotStarted is returned for moves before the game is playing.
var ErrNotStarted = errors.New("game has not started")

// State is the lifecycle of a Game.
type State int

const (
	StateWaiting State = iota
	StatePlaying
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// EndReason says why a game finished.
type EndReason string

const (
	ReasonCheckmate   EndReason = "checkmate"
	ReasonStalemate   EndReason = "stalemate"
	ReasonResignation EndReason = "resignation"
	ReasonDisconnect  EndReason = "disconnect"
)

// Outcome is the final result. Winner is NoColor for a draw.
type Outcome struct {
	Winner Color
	Reason EndReason
}

// Draw reports whether neither side won.
func (o Outcome) Draw() bool { return o.Winner == NoColor }

// Options toggles rule variants.
type Options struct {
	// AllowPromotionChoice lets the mover pick the promotion piece. When
	// false, or when the choice is missing or invalid, pawns become queens.
	AllowPromotionChoice bool
}

// MoveRecord is one entry of the move history.
type MoveRecord struct {
	Color     Color
	From      Square
	To        Square
	Piece     Piece
	Captured  Piece
	Promotion PieceType
	Status    Status
	At        time.Time
}

// MoveResult reports an accepted move.
type MoveResult struct {
	Board     Board
	Captured  Piece
	Promotion PieceType // NoPiece unless the pawn promoted
	Turn      Color     // side to move next
	Status    Status    // opponent's position after the move
	InCheck   bool      // false on checkmate
	Outcome   *Outcome  // set when the move ended the game
}

// Game is the authoritative state machine for one match. All methods are
// safe for concurrent use; validation and commit of a move happen under one
// lock.
type Game struct {
	mu      sync.Mutex
	opts    Options
	board   Board
	turn    Color
	state   State
	history []MoveRecord
	outcome *Outcome
	now     func() time.Time
}

// NewGame returns a waiting game on the standard board with white to move.
func NewGame(opts Options) *Game {
	return &Game{
		opts:  opts,
		board: NewStandardBoard(),
		turn:  White,
		state: StateWaiting,
		now:   time.Now,
	}
}

// NewGameFromPosition starts a game from an arbitrary position.
func NewGameFromPosition(b Board, turn Color, opts Options) *Game {
	return &Game{
		opts:  opts,
		board: b,
		turn:  turn,
		state: StatePlaying,
		now:   time.Now,
	}
}

// Start moves a waiting game to playing. It is a no-op otherwise.
func (g *Game) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateWaiting {
		g.state = StatePlaying
	}
}

// Board returns a copy of the current position.
func (g *Game) Board() Board {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.board
}

// Turn returns the side to move.
func (g *Game) Turn() Color {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turn
}

// State returns the lifecycle state.
func (g *Game) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Outcome returns the result once finished.
func (g *Game) Outcome() (Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outcome == nil {
		return Outcome{}, false
	}
	return *g.outcome, true
}

// History returns a copy of the move records.
func (g *Game) History() []MoveRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]MoveRecord, len(g.history))
	copy(out, g.history)
	return out
}

// MakeMove validates and commits a move by color c. promotion names the
// requested piece type and may be empty.
func (g *Game) MakeMove(c Color, from, to Square, promotion string) (*MoveResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateFinished:
		return nil, ErrGameOver
	case StateWaiting:
		return nil, ErrNotStarted
	}
	if c != g.turn {
		return nil, ErrNotYourTurn
	}

	piece := g.board.At(from)
	if !from.InBounds() || piece.IsEmpty() || piece.Color != c {
		return nil, ErrInvalidSelection
	}
	if !g.board.ValidShape(from, to) {
		return nil, ErrInvalidMove
	}
	if !g.board.KeepsKingSafe(from, to) {
		return nil, ErrKingInCheck
	}

	captured := g.board.apply(from, to)

	promoted := NoPiece
	if piece.Type == Pawn && to.Row == c.promotionRow() {
		promoted = g.promotionType(promotion)
		g.board.Set(to, Piece{Type: promoted, Color: c})
	}

	g.turn = c.Opponent()
	status := g.board.Evaluate(g.turn)

	result := &MoveResult{
		Board:     g.board,
		Captured:  captured,
		Promotion: promoted,
		Turn:      g.turn,
		Status:    status,
		InCheck:   status == StatusCheck,
	}

	switch status {
	case StatusCheckmate:
		g.finish(Outcome{Winner: c, Reason: ReasonCheckmate})
		result.Outcome = g.outcome
	case StatusStalemate:
		g.finish(Outcome{Winner: NoColor, Reason: ReasonStalemate})
		result.Outcome = g.outcome
	}

	g.history = append(g.history, MoveRecord{
		Color:     c,
		From:      from,
		To:        to,
		Piece:     piece,
		Captured:  captured,
		Promotion: promoted,
		Status:    status,
		At:        g.now(),
	})

	return result, nil
}

func (g *Game) promotionType(requested string) PieceType {
	if !g.opts.AllowPromotionChoice {
		return Queen
	}
	t, err := ParsePieceType(requested)
	if err != nil || !t.Promotable() {
		return Queen
	}
	return t
}

// Resign ends the game with the opponent of c as winner, whoever's turn it is.
func (g *Game) Resign(c Color) (Outcome, error) {
	return g.forfeit(c, ReasonResignation)
}

// Abandon is Resign for a player who disconnected.
func (g *Game) Abandon(c Color) (Outcome, error) {
	return g.forfeit(c, ReasonDisconnect)
}

func (g *Game) forfeit(c Color, reason EndReason) (Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateFinished {
		return Outcome{}, ErrGameOver
	}
	g.finish(Outcome{Winner: c.Opponent(), Reason: reason})
	return *g.outcome, nil
}

func (g *Game) finish(o Outcome) {
	g.state = StateFinished
	g.outcome = &o
}
