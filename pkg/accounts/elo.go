package accounts

import "math"

// EloK is the rating step factor.
const EloK = 32

// Elo returns both players' new ratings. whiteScore is 1 for a white win,
// 0.5 for a draw and 0 for a loss. Rating points are conserved.
func Elo(white, black int, whiteScore float64) (int, int) {
	expected := 1 / (1 + math.Pow(10, float64(black-white)/400))
	delta := int(math.Round(EloK * (whiteScore - expected)))
	return white + delta, black - delta
}
