package chess

// Move is a from/to pair.
type Move struct {
	From Square
	To   Square
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

// pathClear reports whether every square strictly between from and to is
// empty. from and to must share a rank, file or diagonal.
func (b *Board) pathClear(from, to Square) bool {
	dr, dc := sign(to.Row-from.Row), sign(to.Col-from.Col)
	for r, c := from.Row+dr, from.Col+dc; r != to.Row || c != to.Col; r, c = r+dr, c+dc {
		if !b[r][c].IsEmpty() {
			return false
		}
	}
	return true
}

// reaches applies the geometry shared by moves and attacks for every piece
// except the pawn, whose move and attack shapes differ.
func (b *Board) reaches(t PieceType, from, to Square) bool {
	dr, dc := abs(to.Row-from.Row), abs(to.Col-from.Col)
	if dr == 0 && dc == 0 {
		return false
	}

	switch t {
	case Rook:
		return (dr == 0 || dc == 0) && b.pathClear(from, to)
	case Bishop:
		return dr == dc && b.pathClear(from, to)
	case Queen:
		return (dr == 0 || dc == 0 || dr == dc) && b.pathClear(from, to)
	case Knight:
		return (dr == 2 && dc == 1) || (dr == 1 && dc == 2)
	case King:
		return dr <= 1 && dc <= 1
	}
	return false
}

// attacks reports whether the piece on from attacks to. Pawns attack
// diagonally forward whether or not the target is occupied.
func (b *Board) attacks(from, to Square) bool {
	p := b.At(from)
	if p.IsEmpty() || !to.InBounds() {
		return false
	}
	if p.Type == Pawn {
		return to.Row == from.Row+p.Color.forward() && abs(to.Col-from.Col) == 1
	}
	return b.reaches(p.Type, from, to)
}

// validPawnMove covers single and double advances onto empty squares and
// diagonal captures of an enemy piece.
func (b *Board) validPawnMove(from, to Square, c Color) bool {
	dir := c.forward()
	target := b.At(to)

	switch {
	case to.Col == from.Col && to.Row == from.Row+dir:
		return target.IsEmpty()
	case to.Col == from.Col && to.Row == from.Row+2*dir:
		return from.Row == c.pawnRow() &&
			target.IsEmpty() &&
			b[from.Row+dir][from.Col].IsEmpty()
	case abs(to.Col-from.Col) == 1 && to.Row == from.Row+dir:
		return !target.IsEmpty() && target.Color != c
	}
	return false
}

// ValidShape checks the piece-movement rule for from→to, ignoring king
// safety: bounds, no capture of an own piece, clear paths for sliders.
func (b *Board) ValidShape(from, to Square) bool {
	p := b.At(from)
	if p.IsEmpty() || !to.InBounds() || from == to {
		return false
	}
	if target := b.At(to); !target.IsEmpty() && target.Color == p.Color {
		return false
	}
	if p.Type == Pawn {
		return b.validPawnMove(from, to, p.Color)
	}
	return b.reaches(p.Type, from, to)
}

// IsAttacked reports whether any piece of color by attacks s.
func (b *Board) IsAttacked(s Square, by Color) bool {
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			if b[row][col].Color != by || b[row][col].IsEmpty() {
				continue
			}
			if b.attacks(Square{row, col}, s) {
				return true
			}
		}
	}
	return false
}

// InCheck reports whether the king of color c is attacked. A side without a
// king is never in check.
func (b *Board) InCheck(c Color) bool {
	king, ok := b.FindKing(c)
	if !ok {
		return false
	}
	return b.IsAttacked(king, c.Opponent())
}

// apply moves the piece without any validation and returns the captured
// piece.
func (b *Board) apply(from, to Square) Piece {
	captured := b.At(to)
	b.Set(to, b.At(from))
	b.Set(from, Piece{})
	return captured
}

// KeepsKingSafe simulates from→to on a copy and reports whether the mover's
// king is not attacked afterwards.
func (b *Board) KeepsKingSafe(from, to Square) bool {
	mover := b.At(from).Color
	next := *b
	next.apply(from, to)
	return !next.InCheck(mover)
}

// IsLegal combines the shape rule and king safety.
func (b *Board) IsLegal(from, to Square) bool {
	return b.ValidShape(from, to) && b.KeepsKingSafe(from, to)
}

// forEachLegalMove calls fn for every legal move of c until fn returns false.
func (b *Board) forEachLegalMove(c Color, fn func(Move) bool) {
	for fr := 0; fr < BoardSize; fr++ {
		for fc := 0; fc < BoardSize; fc++ {
			if p := b[fr][fc]; p.IsEmpty() || p.Color != c {
				continue
			}
			from := Square{fr, fc}
			for tr := 0; tr < BoardSize; tr++ {
				for tc := 0; tc < BoardSize; tc++ {
					to := Square{tr, tc}
					if b.IsLegal(from, to) && !fn(Move{From: from, To: to}) {
						return
					}
				}
			}
		}
	}
}

// LegalMoves enumerates every legal move for c.
func (b *Board) LegalMoves(c Color) []Move {
	var moves []Move
	b.forEachLegalMove(c, func(m Move) bool {
		moves = append(moves, m)
		return true
	})
	return moves
}

// HasLegalMove stops at the first legal move found.
func (b *Board) HasLegalMove(c Color) bool {
	found := false
	b.forEachLegalMove(c, func(Move) bool {
		found = true
		return false
	})
	return found
}

// Status is the position of the side to move.
type Status string

const (
	StatusContinue  Status = "continue"
	StatusCheck     Status = "check"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
)

// Terminal reports whether the status ends the game.
func (s Status) Terminal() bool {
	return s == StatusCheckmate || s == StatusStalemate
}

// Evaluate classifies the position for c, running the legal-move scan once.
func (b *Board) Evaluate(c Color) Status {
	inCheck := b.InCheck(c)
	hasMove := b.HasLegalMove(c)
	switch {
	case inCheck && !hasMove:
		return StatusCheckmate
	case !hasMove:
		return StatusStalemate
	case inCheck:
		return StatusCheck
	}
	return StatusContinue
}
