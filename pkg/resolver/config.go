package resolver

import (
	"log/slog"
	"time"

	"github.com/FrenchMajesty/ingredient-filter/pkg/similarity"
	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
)

const (
	// DefaultMinSimilarity is the cosine threshold for reusing a neighbour's flags
	DefaultMinSimilarity = 0.85

	// DefaultFlightTimeout bounds one shared resolution, independent of its callers
	DefaultFlightTimeout = 2 * time.Minute
)

// Config holds configuration for the Resolver
type Config struct {
	// Store is the durable name -> record mapping. Required.
	Store store.Store

	// Index answers similarity queries. If nil, an exact scan over Store is used.
	Index similarity.Index

	// EmbeddingClient embeds ingredient names. Required.
	EmbeddingClient EmbeddingClient

	// ClassifierClient decides flags for novel ingredients. Required.
	ClassifierClient ClassifierClient

	// MinSimilarity is the threshold for similarity matches, within [0, 1]. If 0, uses DefaultMinSimilarity.
	MinSimilarity float32

	// FlightTimeout bounds a resolution shared by concurrent callers. If 0, uses DefaultFlightTimeout.
	FlightTimeout time.Duration

	Logger *slog.Logger
}

// applyDefaults fills in default values for unset config fields
func (c *Config) applyDefaults() {
	if c.MinSimilarity == 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.FlightTimeout <= 0 {
		c.FlightTimeout = DefaultFlightTimeout
	}
	if c.Index == nil && c.Store != nil {
		c.Index = similarity.NewScanIndex(c.Store)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
