package sample

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/chessgraph/datagen/internal/board"
)

// Node is one position of a replayed game.
type Node struct {
	FEN       string
	MovesLeft int  // plies from this position to the final one
	Flip      bool // black to move
	key       string
}

// Termination is why a final position ends the game.
type Termination int

const (
	NotTerminal Termination = iota
	Checkmate
	Stalemate
	InsufficientMaterial
	SeventyFiveMoves
	FivefoldRepetition
)

func (t Termination) String() string {
	switch t {
	case NotTerminal:
		return "none"
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case InsufficientMaterial:
		return "insufficient_material"
	case SeventyFiveMoves:
		return "seventy_five_moves"
	case FivefoldRepetition:
		return "fivefold_repetition"
	}
	return fmt.Sprintf("termination(%d)", int(t))
}

// Replay plays moves from the standard starting position and returns one node
// per position, start first, plus the final game state.
func Replay(moves []pgn.Mv) ([]Node, *pgn.GameState, error) {
	pos := pgn.NewStartingPosition()
	chain := make([]Node, 0, len(moves)+1)
	chain = append(chain, newNode(pos, len(moves)))
	for i, mv := range moves {
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return nil, nil, fmt.Errorf("%w: ply %d: %v", ErrIllegalMove, i+1, err)
		}
		chain = append(chain, newNode(pos, len(moves)-i-1))
	}
	return chain, pos, nil
}

func newNode(pos *pgn.GameState, movesLeft int) Node {
	fen := pos.ToFEN()
	return Node{
		FEN:       fen,
		MovesLeft: movesLeft,
		Flip:      sideToMove(fen) == "b",
		key:       repetitionKey(pos, fen),
	}
}

// positionAt replays the first ply moves.
func positionAt(moves []pgn.Mv, ply int) (*pgn.GameState, error) {
	pos := pgn.NewStartingPosition()
	for i := 0; i < ply; i++ {
		if err := pgn.ApplyMove(pos, moves[i]); err != nil {
			return nil, fmt.Errorf("%w: ply %d: %v", ErrIllegalMove, i+1, err)
		}
	}
	return pos, nil
}

// Terminal reports whether the last node of chain ends the game, final being
// its game state.
func Terminal(chain []Node, final *pgn.GameState) (Termination, error) {
	last := chain[len(chain)-1]

	if len(pgn.GenerateLegalMoves(final)) == 0 {
		if final.IsInCheck() {
			return Checkmate, nil
		}
		return Stalemate, nil
	}

	b, err := board.FromFEN(last.FEN)
	if err != nil {
		return NotTerminal, err
	}
	if b.InsufficientMaterial() {
		return InsufficientMaterial, nil
	}
	if halfmoveClock(last.FEN) >= 150 {
		return SeventyFiveMoves, nil
	}

	seen := 0
	for _, n := range chain {
		if n.key == last.key {
			seen++
		}
	}
	if seen >= 5 {
		return FivefoldRepetition, nil
	}
	return NotTerminal, nil
}

func sideToMove(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// repetitionKey keeps placement, side to move, castling and the en passant
// square. The square only counts while an en passant capture is legal.
func repetitionKey(pos *pgn.GameState, fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	if len(fields) == 4 && fields[3] != "-" && !canCaptureEnPassant(pos) {
		fields[3] = "-"
	}
	return strings.Join(fields, " ")
}

func canCaptureEnPassant(pos *pgn.GameState) bool {
	if pos.EP < 0 || pos.EP >= 64 {
		return false
	}
	for _, mv := range pgn.GenerateLegalMoves(pos) {
		if mv.To != pos.EP {
			continue
		}
		if p := pos.PieceAt(mv.From); p == 'P' || p == 'p' {
			return true
		}
	}
	return false
}

func halfmoveClock(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return 0
	}
	n, _ := strconv.Atoi(fields[4])
	return n
}
