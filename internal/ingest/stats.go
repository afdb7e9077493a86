package ingest

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/freeeve/chessgraph/datagen/internal/sample"
)

// FileStats summarizes one processed file.
type FileStats struct {
	File    string
	Games   int64            // records read from the PGN stream
	Rows    int64            // tuples written
	Skipped map[string]int64 // skipped games by reason
	Elapsed time.Duration

	// Outcome counts from the side to move at the sampled position.
	Wins, Draws, Losses int64

	MovesLeftMean float64
	MovesLeftStd  float64

	movesLeft []float64
}

func newFileStats(path string) FileStats {
	return FileStats{
		File:    filepath.Base(path),
		Skipped: make(map[string]int64),
	}
}

func (s *FileStats) add(t sample.Tuple) {
	s.Rows++
	switch t.Outcome {
	case 1:
		s.Wins++
	case 0:
		s.Draws++
	case -1:
		s.Losses++
	}
	s.movesLeft = append(s.movesLeft, float64(t.MovesLeft))
}

func (s *FileStats) summarize() {
	switch len(s.movesLeft) {
	case 0:
	case 1:
		s.MovesLeftMean = s.movesLeft[0]
	default:
		s.MovesLeftMean, s.MovesLeftStd = stat.MeanStdDev(s.movesLeft, nil)
	}
	s.movesLeft = nil
}

// SkippedTotal returns the number of games that produced no row.
func (s *FileStats) SkippedTotal() int64 {
	var n int64
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

func (s *FileStats) log(e *zerolog.Event) *zerolog.Event {
	skipped := zerolog.Dict()
	for reason, n := range s.Skipped {
		skipped.Int64(reason, n)
	}
	return e.
		Int64("games", s.Games).
		Int64("rows", s.Rows).
		Int64("skipped", s.SkippedTotal()).
		Dict("skip_reasons", skipped).
		Int64("wins", s.Wins).
		Int64("draws", s.Draws).
		Int64("losses", s.Losses).
		Float64("moves_left_mean", s.MovesLeftMean).
		Float64("moves_left_std", s.MovesLeftStd).
		Dur("elapsed", s.Elapsed).
		Float64("games_per_sec", float64(s.Games)/s.Elapsed.Seconds())
}
