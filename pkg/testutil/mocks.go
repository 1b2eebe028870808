package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// MockEmbeddingClient is a mock implementation of EmbeddingClient for testing
type MockEmbeddingClient struct {
	GenerateEmbeddingFunc func(ctx context.Context, text string) ([]float32, error)
	mu                    sync.Mutex
	CallCount             int
	LastText              string
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastText = text
	m.mu.Unlock()

	if m.GenerateEmbeddingFunc != nil {
		return m.GenerateEmbeddingFunc(ctx, text)
	}
	return TextEmbedding(text), nil
}

// Calls returns CallCount under the lock
func (m *MockEmbeddingClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// TextEmbedding is the default mock embedding: a letter histogram, so equal
// texts map to identical vectors and unrelated texts rarely score high.
func TextEmbedding(text string) []float32 {
	embedding := make([]float32, 27)
	for _, r := range types.NormalizeName(text) {
		if r >= 'a' && r <= 'z' {
			embedding[r-'a']++
		} else {
			embedding[26]++
		}
	}
	return embedding
}

// MockVectorClient is an in-memory similarity.VectorClient
type MockVectorClient struct {
	SearchFunc func(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error)
	UpsertFunc func(ctx context.Context, id string, vector []float32, metadata map[string]any) error

	mu          sync.Mutex
	CallCount   int
	UpsertCount int
	Storage     map[string]StoredVector
}

// StoredVector is one entry in MockVectorClient.Storage
type StoredVector struct {
	Vector   []float32
	Metadata map[string]any
}

func NewMockVectorClient() *MockVectorClient {
	return &MockVectorClient{Storage: make(map[string]StoredVector)}
}

// Search returns the stored vectors ranked by dot product unless SearchFunc is set
func (m *MockVectorClient) Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, vector, topK)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.VectorMatch
	for id, sv := range m.Storage {
		if len(sv.Vector) != len(vector) {
			continue
		}
		var dot float32
		for i := range vector {
			dot += vector[i] * sv.Vector[i]
		}
		out = append(out, types.VectorMatch{ID: id, Score: dot, Metadata: sv.Metadata})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MockVectorClient) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if m.UpsertFunc != nil {
		if err := m.UpsertFunc(ctx, id, vector, metadata); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.UpsertCount++
	m.Storage[id] = StoredVector{Vector: vector, Metadata: metadata}
	m.mu.Unlock()
	return nil
}

func (m *MockVectorClient) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.Storage, id)
	}
	return nil
}

// MockClassifierClient is a mock implementation of ClassifierClient for testing
type MockClassifierClient struct {
	ClassifyFunc func(ctx context.Context, name string) (types.FlagSet, error)

	mu        sync.Mutex
	CallCount int
	LastName  string
	Names     []string
}

func (m *MockClassifierClient) Classify(ctx context.Context, name string) (types.FlagSet, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastName = name
	m.Names = append(m.Names, name)
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, name)
	}

	return AllPass(), nil
}

// Calls returns CallCount under the lock
func (m *MockClassifierClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockStore wraps a MemoryStore and lets tests inject failures
type MockStore struct {
	*store.MemoryStore

	GetExactFunc func(ctx context.Context, name string) (types.IngredientRecord, error)
	UpsertFunc   func(ctx context.Context, record types.IngredientRecord) error
	PingFunc     func(ctx context.Context) error

	mu          sync.Mutex
	GetCount    int
	UpsertCount int
	Upserted    []types.IngredientRecord
}

func NewMockStore() *MockStore {
	return &MockStore{MemoryStore: store.NewMemoryStore()}
}

func (m *MockStore) GetExact(ctx context.Context, name string) (types.IngredientRecord, error) {
	m.mu.Lock()
	m.GetCount++
	m.mu.Unlock()

	if m.GetExactFunc != nil {
		return m.GetExactFunc(ctx, name)
	}
	return m.MemoryStore.GetExact(ctx, name)
}

func (m *MockStore) Upsert(ctx context.Context, record types.IngredientRecord) error {
	m.mu.Lock()
	m.UpsertCount++
	m.Upserted = append(m.Upserted, record.Clone())
	m.mu.Unlock()

	if m.UpsertFunc != nil {
		if err := m.UpsertFunc(ctx, record); err != nil {
			return err
		}
	}
	return m.MemoryStore.Upsert(ctx, record)
}

func (m *MockStore) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Upserts returns UpsertCount under the lock
func (m *MockStore) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UpsertCount
}

// Flags builds a FlagSet from filter/flag pairs
func Flags(pairs ...any) types.FlagSet {
	flags := make(types.FlagSet, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		flags[pairs[i].(types.Filter)] = pairs[i+1].(types.Flag)
	}
	return flags
}

// AllPass returns a FlagSet with every filter passing
func AllPass() types.FlagSet {
	flags := make(types.FlagSet, len(types.AllFilters))
	for _, f := range types.AllFilters {
		flags[f] = types.FlagPass
	}
	return flags
}

// MockResolver is a mock implementation of the orchestrator's Resolver.
// Without ResolveFunc every name resolves to an all-pass exact record.
type MockResolver struct {
	ResolveFunc func(ctx context.Context, name string) (resolver.Resolution, error)

	mu        sync.Mutex
	CallCount int
	Names     []string
}

func (m *MockResolver) Resolve(ctx context.Context, name string) (resolver.Resolution, error) {
	m.mu.Lock()
	m.CallCount++
	m.Names = append(m.Names, name)
	m.mu.Unlock()

	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, name)
	}
	return ExactResolution(name, AllPass()), nil
}

// Calls returns CallCount under the lock
func (m *MockResolver) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// ResolvedNames returns a sorted copy of the names seen so far
func (m *MockResolver) ResolvedNames() []string {
	m.mu.Lock()
	out := append([]string(nil), m.Names...)
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// ExactResolution builds the Resolution an exact store hit would produce
func ExactResolution(name string, flags types.FlagSet) resolver.Resolution {
	return resolver.Resolution{
		Record: types.IngredientRecord{
			Name:   types.NormalizeName(name),
			Flags:  flags,
			Source: types.SourceExact,
		},
		Source: types.SourceExact,
	}
}
