// ABOUTME: Formatting utilities for headless clients and bots
// ABOUTME: Traffic counters and a text rendering of the board grid
package client

import (
	"fmt"
	"strings"

	"github.com/aeolun/ninechess/pkg/protocol"
)

// FormatBytes formats bytes into human-readable form (B, KB, MB, etc.)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var pieceLetters = map[string]byte{
	"pawn": 'p', "rook": 'r', "knight": 'n', "bishop": 'b', "queen": 'q', "king": 'k',
}

// FormatBoard renders the grid with white in upper case and ranks down the
// left, row 0 first.
func FormatBoard(board protocol.Board) string {
	var sb strings.Builder
	for r, row := range board {
		fmt.Fprintf(&sb, "%d ", len(board)-r)
		for _, cell := range row {
			sb.WriteByte(' ')
			sb.WriteByte(cellLetter(cell))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("  ")
	for c := 0; c < len(board); c++ {
		sb.WriteByte(' ')
		sb.WriteByte(byte('a' + c))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func cellLetter(cell *string) byte {
	if cell == nil {
		return '.'
	}
	color, kind, ok := strings.Cut(*cell, "_")
	letter, known := pieceLetters[kind]
	if !ok || !known {
		return '?'
	}
	if color == "white" {
		letter -= 'a' - 'A'
	}
	return letter
}
