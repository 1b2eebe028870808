// Command ingredient-bench replays a labelled catalogue through a fresh
// in-memory resolver and reports how often each tier answered correctly.
//
// It reads the same environment as ingredientd, plus:
//
//	BENCH_DATASET        catalogue file; the built-in catalogue when empty
//	BENCH_HOLDOUT_EVERY  hold out every Nth entry (default 3)
//	BENCH_OUTPUT_DIR     where the metrics JSON is written (default ".")
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/FrenchMajesty/ingredient-filter/internal/app"
	"github.com/FrenchMajesty/ingredient-filter/internal/config"
	"github.com/FrenchMajesty/ingredient-filter/pkg/benchmark"
	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/seed"
	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dataset, err := loadDataset()
	if err != nil {
		fatal(logger, "failed to load dataset", err)
	}

	embedder, err := app.NewEmbedder(cfg)
	if err != nil {
		fatal(logger, "failed to create embedder", err)
	}
	classifier, err := app.NewClassifier(cfg, logger)
	if err != nil {
		fatal(logger, "failed to create classifier", err)
	}

	res, err := resolver.New(resolver.Config{
		Store:            store.NewMemoryStore(),
		EmbeddingClient:  embedder,
		ClassifierClient: classifier,
		MinSimilarity:    float32(cfg.MinSimilarity),
		FlightTimeout:    cfg.ResolveTimeout,
		Logger:           logger,
	})
	if err != nil {
		fatal(logger, "failed to create resolver", err)
	}
	defer res.Close()

	holdout, _ := strconv.Atoi(os.Getenv("BENCH_HOLDOUT_EVERY"))
	m, err := benchmark.Run(ctx, benchmark.Config{
		Resolver:     res,
		Dataset:      dataset,
		HoldoutEvery: holdout,
		Logger:       logger,
	})
	if err != nil {
		fatal(logger, "benchmark failed", err)
	}

	outDir := os.Getenv("BENCH_OUTPUT_DIR")
	if outDir == "" {
		outDir = "."
	}
	path, err := benchmark.SaveMetricsToFile(outDir, m)
	if err != nil {
		fatal(logger, "failed to save metrics", err)
	}

	logger.Info("benchmark finished",
		"held_out", m.HeldOut,
		"tiers", m.TierCounts,
		"false_passes", m.FalsePasses,
		"false_fails", m.FalseFails,
		"p50", m.LatencyP50,
		"p95", m.LatencyP95,
		"threshold", cfg.MinSimilarity,
		"metrics_file", path,
	)
}

func loadDataset() ([]seed.Entry, error) {
	if path := os.Getenv("BENCH_DATASET"); path != "" {
		return seed.LoadFile(path)
	}
	return seed.Default()
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
