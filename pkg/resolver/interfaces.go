package resolver

import (
	"context"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// EmbeddingClient generates vector embeddings for ingredient names
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ClassifierClient decides the dietary flags of one ingredient. Implementations
// return a flag for every filter in types.AllFilters.
type ClassifierClient interface {
	Classify(ctx context.Context, name string) (types.FlagSet, error)
}
