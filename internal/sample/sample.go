// Package sample turns one recorded game into a single training tuple: a
// position picked uniformly between the first and last move, its predecessor,
// a random sibling of it, the plies left and the outcome seen from the side
// to move.
package sample

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/freeeve/chessgraph/datagen/internal/board"
)

// ErrSkip is wrapped by every reason a game yields no tuple.
var ErrSkip = errors.New("game skipped")

var (
	ErrUnknownResult = fmt.Errorf("%w: unrecognized result", ErrSkip)
	ErrNotTerminated = fmt.Errorf("%w: final position is not game over", ErrSkip)
	ErrTooShort      = fmt.Errorf("%w: no sampleable position", ErrSkip)
	ErrIllegalMove   = fmt.Errorf("%w: illegal move in record", ErrSkip)
	ErrRating        = fmt.Errorf("%w: rating below minimum", ErrSkip)
	ErrUnsupported   = fmt.Errorf("%w: unsupported variant or setup", ErrSkip)
)

var skipReasons = []struct {
	err  error
	name string
}{
	{ErrUnknownResult, "unknown_result"},
	{ErrNotTerminated, "not_terminated"},
	{ErrTooShort, "too_short"},
	{ErrIllegalMove, "illegal_move"},
	{ErrRating, "rating"},
	{ErrUnsupported, "unsupported"},
}

// Reason returns a short label for a skip error, for counters and logs.
func Reason(err error) string {
	for _, r := range skipReasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "other"
}

// TagSetUpFEN holds the value of a FEN tag that a reader renamed so the PGN
// parser replays the record from the standard position instead of failing on
// it.
const TagSetUpFEN = "SetUpFEN"

// Record is a parsed game: its PGN tags and its moves in order.
type Record struct {
	Tags  map[string]string
	Moves []pgn.Mv
}

// Tuple is one training row.
type Tuple struct {
	Current   board.Array
	Parent    board.Array
	Random    board.Array
	MovesLeft int
	Outcome   int8
}

var results = map[string]int8{
	"1-0":     1,
	"0-1":     -1,
	"1/2-1/2": 0,
}

// ParseResult maps a PGN result to +1 (white won), -1 (black won) or 0.
func ParseResult(s string) (int8, error) {
	y, ok := results[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownResult, s)
	}
	return y, nil
}

// Options filters games before sampling.
type Options struct {
	RatingMin int // both players must be rated at least this (0 = off)
}

// Sampler draws tuples with its own random source.
type Sampler struct {
	rng  *rand.Rand
	opts Options
}

// New returns a Sampler drawing from rng.
func New(rng *rand.Rand, opts Options) *Sampler {
	return &Sampler{rng: rng, opts: opts}
}

// NewSeeded returns a Sampler with a PCG source seeded from seed.
func NewSeeded(seed uint64, opts Options) *Sampler {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), opts)
}

// Sample derives a tuple from rec, or returns an error wrapping ErrSkip.
func (s *Sampler) Sample(rec Record) (Tuple, error) {
	y, err := ParseResult(rec.Tags["Result"])
	if err != nil {
		return Tuple{}, err
	}
	if err := s.filter(rec); err != nil {
		return Tuple{}, err
	}

	chain, final, err := Replay(rec.Moves)
	if err != nil {
		return Tuple{}, err
	}
	term, err := Terminal(chain, final)
	if err != nil {
		return Tuple{}, err
	}
	if term == NotTerminal {
		return Tuple{}, ErrNotTerminated
	}

	idx, ok := s.pick(len(rec.Moves))
	if !ok {
		return Tuple{}, ErrTooShort
	}
	return s.tupleAt(rec.Moves, chain, idx, y)
}

// pick chooses a node index uniformly among those with a predecessor,
// excluding the final position.
func (s *Sampler) pick(plies int) (int, bool) {
	if plies < 2 {
		return 0, false
	}
	return 1 + s.rng.IntN(plies-1), true
}

func (s *Sampler) tupleAt(moves []pgn.Mv, chain []Node, idx int, y int8) (Tuple, error) {
	node := chain[idx]
	cur, err := board.FromFEN(node.FEN)
	if err != nil {
		return Tuple{}, err
	}
	parent, err := board.FromFEN(chain[idx-1].FEN)
	if err != nil {
		return Tuple{}, err
	}
	if node.Flip {
		y = -y
	}

	random, err := s.randomChild(moves, idx-1)
	if err != nil {
		return Tuple{}, err
	}

	return Tuple{
		Current:   board.Encode(cur, node.Flip),
		Parent:    board.Encode(parent, !node.Flip),
		Random:    board.Encode(random, node.Flip),
		MovesLeft: node.MovesLeft,
		Outcome:   y,
	}, nil
}

// randomChild plays a uniformly chosen legal move from the position after ply
// plies.
func (s *Sampler) randomChild(moves []pgn.Mv, ply int) (board.Board, error) {
	pos, err := positionAt(moves, ply)
	if err != nil {
		return board.Board{}, err
	}
	legal := pgn.GenerateLegalMoves(pos)
	if len(legal) == 0 {
		return board.Board{}, fmt.Errorf("no legal moves at ply %d", ply)
	}
	mv := legal[s.rng.IntN(len(legal))]
	if err := pgn.ApplyMove(pos, mv); err != nil {
		return board.Board{}, fmt.Errorf("apply random move %v: %w", mv, err)
	}
	return board.FromFEN(pos.ToFEN())
}

func (s *Sampler) filter(rec Record) error {
	if v := rec.Tags["Variant"]; v != "" && !strings.EqualFold(v, "standard") {
		return fmt.Errorf("%w: variant %q", ErrUnsupported, v)
	}
	if rec.Tags["SetUp"] == "1" || rec.Tags["FEN"] != "" || rec.Tags[TagSetUpFEN] != "" {
		return fmt.Errorf("%w: custom start position", ErrUnsupported)
	}
	if s.opts.RatingMin > 0 {
		white := parseRating(rec.Tags["WhiteElo"])
		black := parseRating(rec.Tags["BlackElo"])
		if white < s.opts.RatingMin || black < s.opts.RatingMin {
			return fmt.Errorf("%w: %d/%d", ErrRating, white, black)
		}
	}
	return nil
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}
