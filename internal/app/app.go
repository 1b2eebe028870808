// Package app builds the daemon's collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FrenchMajesty/ingredient-filter/internal/config"
	"github.com/FrenchMajesty/ingredient-filter/pkg/adapters"
	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/seed"
	"github.com/FrenchMajesty/ingredient-filter/pkg/similarity"
	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
)

// OpenStore connects the configured store backend, applying migrations for Postgres
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		if cfg.RunMigrations {
			if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			logger.Info("database migrations applied")
		}
		return store.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	case config.StoreRedis:
		s := store.NewRedisStore(cfg.RedisURL)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		logger.Warn("using in-memory store; ingredient knowledge is lost on restart")
		return store.NewMemoryStore(), nil
	}
}

// NewEmbedder creates the configured embedding provider
func NewEmbedder(cfg *config.Config) (resolver.EmbeddingClient, error) {
	switch cfg.EmbeddingProvider {
	case config.EmbeddingOpenAI:
		e, err := adapters.NewOpenAIEmbeddingAdapter(optional(cfg.OpenAIAPIKey), cfg.OpenAIEmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai embeddings: %w", err)
		}
		return e, nil
	default:
		e, err := adapters.NewVoyageEmbeddingAdapter(optional(cfg.VoyageAPIKey), cfg.VoyageModel, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to create voyage embeddings: %w", err)
		}
		return e, nil
	}
}

// NewClassifier creates the chat-completions classifier
func NewClassifier(cfg *config.Config, logger *slog.Logger) (resolver.ClassifierClient, error) {
	c, err := adapters.NewDefaultLLMClient(adapters.LLMClientConfig{
		APIKey:         optional(cfg.ClassifierAPIKey),
		Model:          cfg.ClassifierModel,
		BaseURL:        cfg.ClassifierBaseURL,
		Temperature:    temperature(cfg.ClassifierTemperature),
		JSONObjectMode: cfg.ClassifierJSONObject,
		DumpRequests:   cfg.ClassifierDumpRequests,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier client: %w", err)
	}
	return c, nil
}

// NewIndex returns nil when Pinecone is off, so the resolver scans the store
func NewIndex(cfg *config.Config, st store.Store, logger *slog.Logger) (similarity.Index, error) {
	if !cfg.UsePinecone() {
		return nil, nil
	}
	vectors, err := adapters.NewPineconeVectorAdapter(optional(cfg.PineconeAPIKey), optional(cfg.PineconeHost), cfg.PineconeNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone: %w", err)
	}
	return similarity.NewPineconeIndex(vectors, st, logger), nil
}

// Catalogue returns SEED_FILE when set, otherwise the built-in catalogue
func Catalogue(cfg *config.Config) ([]seed.Entry, error) {
	if cfg.SeedFile != "" {
		return seed.LoadFile(cfg.SeedFile)
	}
	return seed.Default()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// temperature leaves the host default in place for negative values
func temperature(t float64) *float32 {
	if t < 0 {
		return nil
	}
	v := float32(t)
	return &v
}
