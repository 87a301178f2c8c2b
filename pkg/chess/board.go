package chess

import "fmt"

// backRank is the piece order on both home rows: king in the center file,
// flanked by the two queens.
var backRank = [BoardSize]PieceType{Rook, Knight, Bishop, Queen, King, Queen, Bishop, Knight, Rook}

// Board is a 9x9 grid indexed [row][col]. It is a value type: copying a
// Board copies the position.
type Board [BoardSize][BoardSize]Piece

// NewStandardBoard returns the starting position.
func NewStandardBoard() Board {
	var b Board
	for col, t := range backRank {
		b[0][col] = Piece{Type: t, Color: Black}
		b[1][col] = Piece{Type: Pawn, Color: Black}
		b[BoardSize-2][col] = Piece{Type: Pawn, Color: White}
		b[BoardSize-1][col] = Piece{Type: t, Color: White}
	}
	return b
}

// At returns the piece on s, or the empty piece when s is off the board.
func (b *Board) At(s Square) Piece {
	if !s.InBounds() {
		return Piece{}
	}
	return b[s.Row][s.Col]
}

// Set places p on s.
func (b *Board) Set(s Square, p Piece) {
	b[s.Row][s.Col] = p
}

// FindKing locates the king of color c.
func (b *Board) FindKing(c Color) (Square, bool) {
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			if p := b[row][col]; p.Type == King && p.Color == c {
				return Square{row, col}, true
			}
		}
	}
	return Square{}, false
}

// Count returns how many pieces of the given kind are on the board.
func (b *Board) Count(p Piece) int {
	n := 0
	for row := range b {
		for col := range b[row] {
			if b[row][col] == p {
				n++
			}
		}
	}
	return n
}

// Cells renders the grid for the wire: nil for empty squares, otherwise
// "<color>_<type>".
func (b *Board) Cells() [][]*string {
	out := make([][]*string, BoardSize)
	for row := range b {
		out[row] = make([]*string, BoardSize)
		for col, p := range b[row] {
			if p.IsEmpty() {
				continue
			}
			name := p.String()
			out[row][col] = &name
		}
	}
	return out
}

// ParseBoard rebuilds a Board from its wire form.
func ParseBoard(cells [][]*string) (Board, error) {
	var b Board
	if len(cells) != BoardSize {
		return b, fmt.Errorf("board has %d rows, want %d", len(cells), BoardSize)
	}
	for row, line := range cells {
		if len(line) != BoardSize {
			return b, fmt.Errorf("row %d has %d cells, want %d", row, len(line), BoardSize)
		}
		for col, cell := range line {
			if cell == nil {
				continue
			}
			p, err := ParsePiece(*cell)
			if err != nil {
				return b, fmt.Errorf("cell (%d,%d): %w", row, col, err)
			}
			b[row][col] = p
		}
	}
	return b, nil
}
