package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

const defaultShardCount = 16

type memoryShard struct {
	mu      sync.RWMutex
	records map[string]types.IngredientRecord
}

// MemoryStore is an in-process Store. Keys are spread over independently locked
// shards so writers for unrelated ingredients never wait on each other.
type MemoryStore struct {
	shards []*memoryShard
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	shards := make([]*memoryShard, defaultShardCount)
	for i := range shards {
		shards[i] = &memoryShard{records: make(map[string]types.IngredientRecord)}
	}
	return &MemoryStore{shards: shards}
}

func (m *MemoryStore) shardFor(name string) *memoryShard {
	return m.shards[xxhash.Sum64String(name)%uint64(len(m.shards))]
}

// GetExact implements Store
func (m *MemoryStore) GetExact(ctx context.Context, name string) (types.IngredientRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.IngredientRecord{}, err
	}
	name = types.NormalizeName(name)
	s := m.shardFor(name)

	s.mu.RLock()
	rec, ok := s.records[name]
	s.mu.RUnlock()

	if !ok {
		return types.IngredientRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// Upsert implements Store
func (m *MemoryStore) Upsert(ctx context.Context, record types.IngredientRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := validateRecord(record)
	if err != nil {
		return err
	}
	s := m.shardFor(record.Name)

	s.mu.Lock()
	s.records[record.Name] = record.Clone()
	s.mu.Unlock()
	return nil
}

// ListAll implements Store
func (m *MemoryStore) ListAll(ctx context.Context) ([]types.IngredientRecord, error) {
	var out []types.IngredientRecord
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.RLock()
		for _, rec := range s.records {
			out = append(out, rec.Clone())
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Clear implements Store
func (m *MemoryStore) Clear(ctx context.Context) (int, error) {
	deleted := 0
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		s.mu.Lock()
		deleted += len(s.records)
		s.records = make(map[string]types.IngredientRecord)
		s.mu.Unlock()
	}
	return deleted, nil
}

// Scan implements Store. Each shard is copied under its read lock and fn runs
// unlocked, so fn may call back into the store.
func (m *MemoryStore) Scan(ctx context.Context, fn func(types.IngredientRecord) error) error {
	for _, s := range m.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		batch := make([]types.IngredientRecord, 0, len(s.records))
		for _, rec := range s.records {
			if len(rec.Embedding) > 0 {
				batch = append(batch, rec.Clone())
			}
		}
		s.mu.RUnlock()

		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ping implements Store
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store
func (m *MemoryStore) Close() error { return nil }
