package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

const staleOverfetch = 4

// VectorClient performs vector similarity search and storage operations
type VectorClient interface {
	Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error)
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Delete(ctx context.Context, ids []string) error
}

// RecordGetter is the part of store.Store used to hydrate remote matches
type RecordGetter interface {
	GetExact(ctx context.Context, name string) (types.IngredientRecord, error)
}

// PineconeIndex delegates nearest-neighbour search to a remote vector database.
// Matches are hydrated from the store, so flags always come from the source of
// truth and vectors whose record was cleared are ignored.
type PineconeIndex struct {
	vectors VectorClient
	records RecordGetter
	logger  *slog.Logger
}

var _ Index = (*PineconeIndex)(nil)

// NewPineconeIndex creates a remote index backed by vectors and hydrated from records
func NewPineconeIndex(vectors VectorClient, records RecordGetter, logger *slog.Logger) *PineconeIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PineconeIndex{vectors: vectors, records: records, logger: logger}
}

// VectorID is the remote id for an ingredient name. Names are hashed because
// vector ids must be ASCII.
func VectorID(name string) string {
	return fmt.Sprintf("ing-%016x", xxhash.Sum64String(types.NormalizeName(name)))
}

// FindSimilar implements Index
func (p *PineconeIndex) FindSimilar(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]Match, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}

	// Vectors can outlive their records, so fetch extra to keep topK live hits
	hits, err := p.vectors.Search(ctx, query, topK*staleOverfetch)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Match, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < minSimilarity {
			continue
		}
		name, _ := hit.Metadata["name"].(string)
		if name == "" {
			p.logger.Warn("vector match missing name metadata", "id", hit.ID)
			continue
		}

		rec, err := p.records.GetExact(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Debug("skipping stale vector", "id", hit.ID, "name", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Match{Record: rec, Score: hit.Score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Add implements Index. Records without an embedding are not indexed.
func (p *PineconeIndex) Add(ctx context.Context, record types.IngredientRecord) error {
	if len(record.Embedding) == 0 {
		return nil
	}
	metadata := map[string]any{
		"name":   record.Name,
		"source": string(record.Source),
	}
	if err := p.vectors.Upsert(ctx, VectorID(record.Name), record.Embedding, metadata); err != nil {
		return fmt.Errorf("vector upsert failed: %w", err)
	}
	return nil
}

// Remove implements Index by deleting the vectors for names
func (p *PineconeIndex) Remove(ctx context.Context, names ...string) error {
	ids := make([]string, len(names))
	for i, n := range names {
		ids[i] = VectorID(n)
	}
	return p.vectors.Delete(ctx, ids)
}
