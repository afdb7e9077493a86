// Package board holds a read-only 64-square view of a chess position and the
// fixed-length int8 encoding used for training rows.
package board

import (
	"fmt"
	"strings"
)

// Square indexing: a1 = 0, b1 = 1, ..., h8 = 63 (index = rank*8 + file).

// Kind is a piece kind code. Codes occupy 1-6 so that color*7+kind never
// collides with the empty value 0.
type Kind int8

const (
	NoKind Kind = 0
	Pawn   Kind = 1
	Knight Kind = 2
	Bishop Kind = 3
	Rook   Kind = 4
	Queen  Kind = 5
	King   Kind = 6
)

// NumKinds is the number of code slots per color, empty included.
const NumKinds = 7

// Color of a piece. White is the first player.
type Color int8

const (
	White Color = 0
	Black Color = 1
)

// Piece is a kind and color. The zero value is an empty square.
type Piece struct {
	Kind  Kind
	Color Color
}

// IsEmpty reports whether the square holds nothing.
func (p Piece) IsEmpty() bool {
	return p.Kind == NoKind
}

// Board is the content of all 64 squares plus the side to move.
type Board struct {
	Squares     [64]Piece
	BlackToMove bool
}

var fenKinds = map[byte]Kind{
	'p': Pawn,
	'n': Knight,
	'b': Bishop,
	'r': Rook,
	'q': Queen,
	'k': King,
}

// FromFEN builds a board from the placement and side-to-move fields of a FEN.
// Remaining fields are ignored.
func FromFEN(fen string) (Board, error) {
	var b Board
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return b, fmt.Errorf("fen %q: want at least 2 fields, got %d", fen, len(fields))
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return b, fmt.Errorf("fen %q: want 8 ranks, got %d", fen, len(ranks))
	}
	for i, row := range ranks {
		rank := 7 - i // FEN lists rank 8 first
		file := 0
		for j := 0; j < len(row); j++ {
			c := row[j]
			if c >= '1' && c <= '8' {
				file += int(c - '0')
				continue
			}
			lower := c | 0x20
			kind, ok := fenKinds[lower]
			if !ok {
				return b, fmt.Errorf("fen %q: invalid piece %q", fen, c)
			}
			if file > 7 {
				return b, fmt.Errorf("fen %q: rank %d overflows", fen, rank+1)
			}
			color := White
			if c == lower {
				color = Black
			}
			b.Squares[rank*8+file] = Piece{Kind: kind, Color: color}
			file++
		}
		if file != 8 {
			return b, fmt.Errorf("fen %q: rank %d has %d files", fen, rank+1, file)
		}
	}

	switch fields[1] {
	case "w":
	case "b":
		b.BlackToMove = true
	default:
		return b, fmt.Errorf("fen %q: invalid side to move %q", fen, fields[1])
	}
	return b, nil
}

// Occupied returns the number of non-empty squares.
func (b Board) Occupied() int {
	n := 0
	for _, p := range b.Squares {
		if !p.IsEmpty() {
			n++
		}
	}
	return n
}

// Mirror flips the board vertically and swaps the colors of every piece and
// of the side to move.
func Mirror(b Board) Board {
	var m Board
	for sq, p := range b.Squares {
		if p.IsEmpty() {
			continue
		}
		rank, file := sq/8, sq%8
		m.Squares[(7-rank)*8+file] = Piece{Kind: p.Kind, Color: 1 - p.Color}
	}
	m.BlackToMove = !b.BlackToMove
	return m
}

// InsufficientMaterial reports whether neither side can possibly deliver mate.
func (b Board) InsufficientMaterial() bool {
	return b.insufficientFor(White) && b.insufficientFor(Black)
}

// insufficientFor reports whether color c cannot mate with any sequence of
// legal moves.
func (b Board) insufficientFor(c Color) bool {
	var own, knights, bishops int
	var pawns, heavy bool
	var lightBishop, darkBishop, anyKnight bool
	var opponentHelpers bool

	for sq, p := range b.Squares {
		if p.IsEmpty() {
			continue
		}
		if p.Kind == Bishop {
			if (sq/8+sq%8)%2 == 0 {
				darkBishop = true
			} else {
				lightBishop = true
			}
		}
		if p.Kind == Pawn {
			pawns = true
		}
		if p.Kind == Knight {
			anyKnight = true
		}
		if p.Color != c {
			if p.Kind != King && p.Kind != Queen {
				opponentHelpers = true
			}
			continue
		}
		own++
		switch p.Kind {
		case Pawn, Rook, Queen:
			heavy = true
		case Knight:
			knights++
		case Bishop:
			bishops++
		}
	}
	if heavy {
		return false
	}
	if knights > 0 {
		// A lone knight mates only with help from opposing pieces other than
		// queens.
		return own <= 2 && !opponentHelpers
	}
	if bishops > 0 {
		sameColor := !darkBishop || !lightBishop
		return sameColor && !pawns && !anyKnight
	}
	return true
}
