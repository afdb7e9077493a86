package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/freeeve/chessgraph/datagen/internal/ingest"
	"github.com/freeeve/chessgraph/datagen/internal/logx"
	"github.com/freeeve/chessgraph/datagen/internal/table"
)

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func main() {
	var (
		dataDir   = flag.String("data", envString("DATAGEN_DATA", "Data/800-999"), "Directory of PGN files (.pgn, .pgn.zst)")
		outDir    = flag.String("out", "", "Output directory (default: same as -data)")
		workers   = flag.Int("workers", envInt("DATAGEN_WORKERS", runtime.NumCPU()), "Files processed in parallel")
		seed      = flag.Uint64("seed", envUint64("DATAGEN_SEED", 0), "Base random seed (0 = random)")
		ratingMin = flag.Int("rating-min", 0, "Skip games where either player is rated below this (0 = off)")
		maxGames  = flag.Int("max-games", 0, "Maximum games read per file (0 = unlimited)")
		chunkRows = flag.Int("chunk-rows", table.DefaultChunkRows, "Rows per storage chunk")
		logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger, err := logx.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "datagen: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startTime := time.Now()
	summary, err := ingest.Run(ctx, ingest.Config{
		DataDir:   *dataDir,
		OutDir:    *outDir,
		Workers:   *workers,
		Seed:      *seed,
		RatingMin: *ratingMin,
		MaxGames:  *maxGames,
		ChunkRows: *chunkRows,
		Logger:    logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("dataset build failed")
		os.Exit(1)
	}

	logger.Info().
		Int("files", summary.Jobs).
		Int("existing", summary.Existing).
		Int("duplicates", summary.Duplicates).
		Int("done", summary.Done).
		Int("failed", summary.Failed).
		Int64("rows", summary.Rows).
		Dur("elapsed", time.Since(startTime)).
		Msg("datagen finished")

	if summary.Failed > 0 || ctx.Err() != nil {
		os.Exit(1)
	}
}
