package similarity

import (
	"context"
	"math"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// Match is one nearest-neighbour hit
type Match struct {
	Record types.IngredientRecord
	Score  float32
}

// Index answers nearest-neighbour queries over stored ingredient embeddings.
// Results are sorted by descending score, every score is >= minSimilarity and
// at most topK matches are returned.
type Index interface {
	FindSimilar(ctx context.Context, query []float32, topK int, minSimilarity float32) ([]Match, error)
	// Add makes a freshly persisted record visible to later queries
	Add(ctx context.Context, record types.IngredientRecord) error
	// Remove forgets names, ahead of their records leaving the store
	Remove(ctx context.Context, names ...string) error
}

// Cosine returns the cosine similarity of a and b. ok is false when the
// vectors differ in length or either has zero norm.
func Cosine(a, b []float32) (score float32, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), true
}

// topK keeps the best k matches seen so far, sorted descending. Equal scores
// keep insertion order.
type topK struct {
	k       int
	matches []Match
}

func newTopK(k int) *topK {
	return &topK{k: k, matches: make([]Match, 0, k)}
}

func (t *topK) offer(m Match) {
	if len(t.matches) == t.k && m.Score <= t.matches[len(t.matches)-1].Score {
		return
	}
	i := len(t.matches)
	for i > 0 && t.matches[i-1].Score < m.Score {
		i--
	}
	if len(t.matches) < t.k {
		t.matches = append(t.matches, Match{})
	}
	copy(t.matches[i+1:], t.matches[i:len(t.matches)-1])
	t.matches[i] = m
}

func (t *topK) result() []Match {
	return t.matches
}
