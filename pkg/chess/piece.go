package chess

import "fmt"

// BoardSize is the number of ranks and files.
const BoardSize = 9

// Color identifies a side. The zero value means no piece.
type Color uint8

const (
	NoColor Color = iota
	White
	Black
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return NoColor
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	}
	return "none"
}

// forward is the row delta of a pawn advance.
func (c Color) forward() int {
	if c == White {
		return -1
	}
	return 1
}

// pawnRow is where this side's pawns start (and may double-step from).
func (c Color) pawnRow() int {
	if c == White {
		return BoardSize - 2
	}
	return 1
}

// promotionRow is the opposite back rank.
func (c Color) promotionRow() int {
	if c == White {
		return 0
	}
	return BoardSize - 1
}

// ParseColor accepts "white" or "black".
func ParseColor(s string) (Color, error) {
	switch s {
	case "white":
		return White, nil
	case "black":
		return Black, nil
	}
	return NoColor, fmt.Errorf("unknown color %q", s)
}

// PieceType is the kind of a piece. The zero value means an empty square.
type PieceType uint8

const (
	NoPiece PieceType = iota
	Pawn
	Rook
	Knight
	Bishop
	Queen
	King
)

var pieceNames = [...]string{
	NoPiece: "none",
	Pawn:    "pawn",
	Rook:    "rook",
	Knight:  "knight",
	Bishop:  "bishop",
	Queen:   "queen",
	King:    "king",
}

func (t PieceType) String() string {
	if int(t) < len(pieceNames) {
		return pieceNames[t]
	}
	return fmt.Sprintf("PieceType(%d)", uint8(t))
}

// ParsePieceType maps a lowercase name to its type.
func ParsePieceType(s string) (PieceType, error) {
	for t, name := range pieceNames {
		if t != int(NoPiece) && name == s {
			return PieceType(t), nil
		}
	}
	return NoPiece, fmt.Errorf("unknown piece type %q", s)
}

// Promotable reports whether a pawn may become this type.
func (t PieceType) Promotable() bool {
	return t == Queen || t == Rook || t == Bishop || t == Knight
}

// Piece is a colored piece. The zero Piece is an empty square.
type Piece struct {
	Type  PieceType
	Color Color
}

// IsEmpty reports whether the square holds nothing.
func (p Piece) IsEmpty() bool {
	return p.Type == NoPiece
}

// String renders the wire name, e.g. "white_queen".
func (p Piece) String() string {
	if p.IsEmpty() {
		return ""
	}
	return p.Color.String() + "_" + p.Type.String()
}

// ParsePiece is the inverse of Piece.String.
func ParsePiece(s string) (Piece, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			continue
		}
		c, err := ParseColor(s[:i])
		if err != nil {
			return Piece{}, err
		}
		t, err := ParsePieceType(s[i+1:])
		if err != nil {
			return Piece{}, err
		}
		return Piece{Type: t, Color: c}, nil
	}
	return Piece{}, fmt.Errorf("invalid piece %q", s)
}

// Square is a (row, col) coordinate. Row 0 is black's back rank.
type Square struct {
	Row int
	Col int
}

// Sq is shorthand for Square{row, col}.
func Sq(row, col int) Square {
	return Square{Row: row, Col: col}
}

// InBounds reports whether the square lies on the board.
func (s Square) InBounds() bool {
	return s.Row >= 0 && s.Row < BoardSize && s.Col >= 0 && s.Col < BoardSize
}

// String renders algebraic notation, files a..i and ranks 1..9.
func (s Square) String() string {
	if !s.InBounds() {
		return fmt.Sprintf("(%d,%d)", s.Row, s.Col)
	}
	return fmt.Sprintf("%c%d", 'a'+s.Col, BoardSize-s.Row)
}

// ParseSquare is the inverse of String for squares on the board.
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return Square{}, fmt.Errorf("invalid square %q", s)
	}
	sq := Square{Row: BoardSize - int(s[1]-'0'), Col: int(s[0] - 'a')}
	if s[1] < '1' || s[1] > '9' || !sq.InBounds() {
		return Square{}, fmt.Errorf("invalid square %q", s)
	}
	return sq, nil
}

// SquareFromPair converts a wire [row, col] pair.
func SquareFromPair(pair []int) (Square, bool) {
	if len(pair) != 2 {
		return Square{}, false
	}
	return Square{Row: pair[0], Col: pair[1]}, true
}

// Pair is the wire [row, col] form.
func (s Square) Pair() []int {
	return []int{s.Row, s.Col}
}
