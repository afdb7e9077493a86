package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/chessgraph/datagen/internal/dataset"
	"github.com/freeeve/chessgraph/datagen/internal/sample"
)

// OutputExt replaces the PGN extension of each input file.
const OutputExt = ".dset"

// Config configures a dataset build.
type Config struct {
	DataDir   string         // Directory holding PGN files
	OutDir    string         // Directory for outputs (default DataDir)
	Workers   int            // Files processed in parallel (default NumCPU)
	Seed      uint64         // Base random seed, 0 = seed from the runtime
	RatingMin int            // Minimum rating of both players, 0 = off
	MaxGames  int            // Games read per file, 0 = unlimited
	ChunkRows int            // Rows per storage chunk, 0 = table default
	Logger    zerolog.Logger // Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.OutDir == "" {
		cfg.OutDir = cfg.DataDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}
	return cfg
}

// Job pairs one input file with its output.
type Job struct {
	Input  string
	Output string
}

// Summary reports a whole run.
type Summary struct {
	Jobs       int   // files dispatched
	Existing   int   // files skipped because their output exists
	Duplicates int   // files skipped because another input owns their output
	Done       int   // files completed
	Failed     int   // files that hit a storage, context or input error
	Rows       int64 // rows written across completed files
}

// PlanResult lists the work found under a data directory.
type PlanResult struct {
	Jobs       []Job
	Existing   int      // inputs whose output already exists
	Duplicates []string // inputs whose output an earlier input already claims
}

// Plan lists the PGN files under cfg.DataDir that have no output yet. Inputs
// are taken in name order and two inputs never share an output, so games.pgn
// wins over games.pgn.zst. An unreadable directory is returned as an error.
func Plan(cfg Config) (PlanResult, error) {
	cfg = cfg.withDefaults()
	var plan PlanResult

	entries, err := os.ReadDir(cfg.DataDir)
	if err != nil {
		return plan, fmt.Errorf("read data dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isPGNFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	claimed := make(map[string]string, len(names))
	for _, name := range names {
		out := filepath.Join(cfg.OutDir, outputName(name))
		if first, dup := claimed[out]; dup {
			cfg.Logger.Warn().
				Str("file", name).
				Str("kept", first).
				Str("output", out).
				Msg("input shares its output with another file, skipping")
			plan.Duplicates = append(plan.Duplicates, filepath.Join(cfg.DataDir, name))
			continue
		}
		claimed[out] = name

		if _, err := os.Stat(out); err == nil {
			plan.Existing++
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return PlanResult{}, fmt.Errorf("stat %s: %w", out, err)
		}
		plan.Jobs = append(plan.Jobs, Job{Input: filepath.Join(cfg.DataDir, name), Output: out})
	}
	return plan, nil
}

// Run processes every planned file with a pool of cfg.Workers workers. Each
// worker owns one file at a time; a failing file does not stop the others.
func Run(ctx context.Context, cfg Config) (Summary, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger

	plan, err := Plan(cfg)
	if err != nil {
		return Summary{}, err
	}
	jobs := plan.Jobs
	summary := Summary{Jobs: len(jobs), Existing: plan.Existing, Duplicates: len(plan.Duplicates)}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("out_dir", cfg.OutDir).
		Int("files", len(jobs)).
		Int("existing", plan.Existing).
		Int("duplicates", len(plan.Duplicates)).
		Int("workers", cfg.Workers).
		Uint64("seed", cfg.Seed).
		Msg("dataset build started")

	if len(jobs) == 0 {
		return summary, nil
	}

	type fileResult struct {
		job   Job
		stats FileStats
		err   error
	}

	jobChan := make(chan Job, len(jobs))
	resultChan := make(chan fileResult, len(jobs))

	var g errgroup.Group
	for i := 0; i < min(cfg.Workers, len(jobs)); i++ {
		workerID := i
		g.Go(func() error {
			for job := range jobChan {
				if err := ctx.Err(); err != nil {
					resultChan <- fileResult{job: job, err: err}
					continue
				}
				stats, err := processFile(ctx, cfg, workerID, job)
				resultChan <- fileResult{job: job, stats: stats, err: err}
			}
			return nil
		})
	}

	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	go func() {
		g.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		if result.err != nil {
			log.Error().Err(result.err).Str("file", result.job.Input).Msg("file failed")
			summary.Failed++
			continue
		}
		summary.Done++
		summary.Rows += result.stats.Rows
	}

	log.Info().
		Int("done", summary.Done).
		Int("failed", summary.Failed).
		Int64("rows", summary.Rows).
		Msg("dataset build complete")
	return summary, nil
}

// ProcessFile builds the dataset for a single job.
func ProcessFile(ctx context.Context, cfg Config, job Job) (FileStats, error) {
	return processFile(ctx, cfg.withDefaults(), 0, job)
}

func processFile(ctx context.Context, cfg Config, workerID int, job Job) (FileStats, error) {
	log := cfg.Logger.With().Str("file", filepath.Base(job.Input)).Int("worker", workerID).Logger()
	stats := newFileStats(job.Input)
	startTime := time.Now()
	lastLog := startTime

	src, err := openSource(job.Input)
	if err != nil {
		return stats, fmt.Errorf("open input: %w", err)
	}
	w, err := dataset.Create(job.Output, dataset.Options{ChunkRows: cfg.ChunkRows})
	if err != nil {
		src.Close()
		return stats, err
	}
	seed := fileSeed(cfg.Seed, job.Input)
	sampler := sample.NewSeeded(seed, sample.Options{RatingMin: cfg.RatingMin})
	log.Info().Str("output", job.Output).Str("dataset_id", w.ID().String()).Uint64("seed", seed).Msg("starting file")

	// Files are the unit of parallelism, so each file gets one parse worker.
	input := newFENTagFilter(src)
	parser := pgn.GamesFromReader(input, 1)
	defer func() {
		parser.Stop()
		parser.Err()
		src.Close()
	}()

	for game := range parser.Games {
		if err := ctx.Err(); err != nil {
			parser.Stop()
			w.Abort()
			return stats, err
		}
		if cfg.MaxGames > 0 && stats.Games >= int64(cfg.MaxGames) {
			log.Info().Int64("games", stats.Games).Msg("reached max games limit")
			parser.Stop()
			break
		}
		stats.Games++

		tup, err := sampler.Sample(sample.Record{Tags: game.Tags, Moves: game.Moves})
		if err != nil {
			reason := sample.Reason(err)
			stats.Skipped[reason]++
			log.Debug().Err(err).Str("reason", reason).Int64("game", stats.Games).Msg("game skipped")
			continue
		}

		if err := w.Append(tup); err != nil {
			parser.Stop()
			w.Abort()
			return stats, fmt.Errorf("append row %d: %w", w.Rows(), err)
		}
		stats.add(tup)

		if time.Since(lastLog) > 10*time.Second {
			elapsed := time.Since(startTime)
			log.Info().
				Int64("games", stats.Games).
				Int64("rows", stats.Rows).
				Int("capacity", w.Capacity()).
				Float64("games_per_sec", float64(stats.Games)/elapsed.Seconds()).
				Msg("file progress")
			lastLog = time.Now()
		}
	}

	// A read or parse failure ends the stream early; rows read so far are kept.
	if err := parser.Err(); err != nil {
		log.Warn().Err(err).Int64("games", stats.Games).Msg("parser error")
	} else if err := input.Err(); err != nil {
		log.Warn().Err(err).Int64("games", stats.Games).Msg("input read error")
	}

	if err := w.Close(); err != nil {
		return stats, fmt.Errorf("close dataset %s: %w", job.Output, err)
	}

	stats.Elapsed = time.Since(startTime)
	stats.summarize()
	stats.log(log.Info()).Msg("file complete")
	return stats, nil
}

func isPGNFile(name string) bool {
	ext := filepath.Ext(name)
	if ext == ".pgn" {
		return true
	}
	if ext == ".zst" {
		// Check for .pgn.zst
		base := name[:len(name)-4]
		return filepath.Ext(base) == ".pgn"
	}
	return false
}

// outputName swaps the .pgn or .pgn.zst suffix for OutputExt.
func outputName(name string) string {
	name = strings.TrimSuffix(name, ".zst")
	return strings.TrimSuffix(name, ".pgn") + OutputExt
}

// fileSeed derives a per-file seed so output does not depend on which worker
// picks the file up.
func fileSeed(seed uint64, path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(filepath.Base(path)))
	return seed ^ h.Sum64()
}
