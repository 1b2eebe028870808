package similarity

import (
	"context"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// Scanner is the part of store.Store the scan index needs
type Scanner interface {
	Scan(ctx context.Context, fn func(types.IngredientRecord) error) error
}

// ScanIndex computes exact cosine similarity against every stored embedding.
// It reads the store directly, so it never drifts from it.
type ScanIndex struct {
	store Scanner
}

var _ Index = (*ScanIndex)(nil)

// NewScanIndex creates a brute-force index over s
func NewScanIndex(s Scanner) *ScanIndex {
	return &ScanIndex{store: s}
}

// FindSimilar implements Index. Records whose embedding has a different
// dimension than query, or zero norm, are skipped.
func (s *ScanIndex) FindSimilar(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]Match, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}

	best := newTopK(topK)
	err := s.store.Scan(ctx, func(rec types.IngredientRecord) error {
		score, ok := Cosine(query, rec.Embedding)
		if !ok || score < minSimilarity {
			return nil
		}
		best.offer(Match{Record: rec, Score: score})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return best.result(), nil
}

// Add implements Index; the store is the index
func (s *ScanIndex) Add(context.Context, types.IngredientRecord) error {
	return nil
}

// Remove implements Index; records leave with the store
func (s *ScanIndex) Remove(context.Context, ...string) error {
	return nil
}
