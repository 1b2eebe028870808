package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/FrenchMajesty/ingredient-filter/internal/app"
	"github.com/FrenchMajesty/ingredient-filter/internal/config"
	"github.com/FrenchMajesty/ingredient-filter/internal/gateway"
	"github.com/FrenchMajesty/ingredient-filter/internal/metrics"
	"github.com/FrenchMajesty/ingredient-filter/pkg/jobs"
	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ingredientd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := app.NewEmbedder(cfg)
	if err != nil {
		return err
	}

	classifier, err := app.NewClassifier(cfg, logger)
	if err != nil {
		return err
	}

	index, err := app.NewIndex(cfg, st, logger)
	if err != nil {
		return err
	}

	res, err := resolver.New(resolver.Config{
		Store:            st,
		Index:            index,
		EmbeddingClient:  embedder,
		ClassifierClient: classifier,
		MinSimilarity:    float32(cfg.MinSimilarity),
		FlightTimeout:    cfg.ResolveTimeout,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	orch := jobs.New(res,
		jobs.WithWorkers(cfg.Workers),
		jobs.WithQueueSize(cfg.QueueSize),
		jobs.WithJobTimeout(cfg.JobTimeout),
		jobs.WithIngredientConcurrency(cfg.IngredientConcurrency),
		jobs.WithRetention(jobs.TTL(cfg.JobTTL)),
		jobs.WithLogger(logger),
	)
	if cfg.JobTTL > 0 {
		orch.StartSweeper(ctx, cfg.SweepInterval)
	}

	seeder := func(ctx context.Context) (seed.Result, error) {
		entries, err := app.Catalogue(cfg)
		if err != nil {
			return seed.Result{}, err
		}
		return seed.Load(ctx, seed.Config{Learner: res, Logger: logger}, entries)
	}

	srv, err := gateway.New(gateway.Config{
		Jobs:      orch,
		Store:     res,
		Seeder:    seeder,
		Registry:  metrics.NewRegistry(metrics.NewCollector(res, orch)),
		AccessLog: cfg.IsDev(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if cfg.SeedOnStart {
		go func() {
			if _, err := seeder(ctx); err != nil {
				logger.Error("startup seeding failed", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.ServerAddr)
	}()
	logger.Info("ingredientd listening",
		"addr", cfg.ServerAddr,
		"store", cfg.StoreBackend,
		"embeddings", cfg.EmbeddingProvider,
		"pinecone", cfg.UsePinecone(),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("jobs: %w", err))
	}
	if err := res.Close(); err != nil {
		errs = append(errs, fmt.Errorf("resolver: %w", err))
	}
	return errors.Join(errs...)
}
