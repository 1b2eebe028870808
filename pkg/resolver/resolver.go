package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FrenchMajesty/ingredient-filter/pkg/similarity"
	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// Resolver maps ingredient names to dietary flags through three tiers: the
// exact store, a similarity search over stored embeddings, and finally the
// external classifier whose answer is written back to the store.
type Resolver struct {
	store         store.Store
	index         similarity.Index
	embedding     EmbeddingClient
	classifier    ClassifierClient
	minSimilarity float32
	logger        *slog.Logger

	flights       singleflight.Group
	flightTimeout time.Duration
	flightsMu     sync.Mutex
	flightCtx     map[string]*flight

	metrics     Metrics
	metricsLock sync.RWMutex

	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeLock sync.RWMutex
	closing   bool
}

// New creates a Resolver with the given configuration
func New(cfg Config) (*Resolver, error) {
	cfg.applyDefaults()

	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.EmbeddingClient == nil {
		return nil, fmt.Errorf("EmbeddingClient is required")
	}
	if cfg.ClassifierClient == nil {
		return nil, fmt.Errorf("ClassifierClient is required")
	}
	if cfg.MinSimilarity < 0 || cfg.MinSimilarity > 1 {
		return nil, fmt.Errorf("MinSimilarity must be within [0, 1] (0 selects the default), got %v", cfg.MinSimilarity)
	}

	return &Resolver{
		store:         cfg.Store,
		index:         cfg.Index,
		embedding:     cfg.EmbeddingClient,
		classifier:    cfg.ClassifierClient,
		minSimilarity: cfg.MinSimilarity,
		flightTimeout: cfg.FlightTimeout,
		flightCtx:     make(map[string]*flight),
		logger:        cfg.Logger,
	}, nil
}

// MinSimilarity returns the configured similarity threshold
func (r *Resolver) MinSimilarity() float32 {
	return r.minSimilarity
}

// enter registers an in-flight call, failing once Close has started
func (r *Resolver) enter() error {
	r.closeLock.RLock()
	defer r.closeLock.RUnlock()
	if r.closing {
		return ErrClosed
	}
	r.inflight.Add(1)
	return nil
}

// Resolve returns the flags for name. Concurrent calls for the same normalized
// name share one resolution, so a novel ingredient costs one classifier call.
// A caller whose ctx ends stops waiting; the shared work is cancelled only once
// no caller is left.
func (r *Resolver) Resolve(ctx context.Context, name string) (Resolution, error) {
	if err := r.enter(); err != nil {
		return Resolution{}, err
	}
	defer r.inflight.Done()

	normalized := types.NormalizeName(name)
	if normalized == "" {
		return Resolution{}, ErrEmptyName
	}

	for attempt := 0; ; attempt++ {
		res, err := r.await(ctx, normalized)
		if errors.Is(err, context.Canceled) && ctx.Err() == nil && attempt < maxFlightRejoins {
			// joined a flight every earlier caller had abandoned
			continue
		}
		if err != nil {
			r.recordError()
			return Resolution{}, err
		}
		// Shared flights hand every caller the same value
		res.Record = res.Record.Clone()
		r.recordResolution(res.Source)
		return res, nil
	}
}

// maxFlightRejoins bounds how often a live caller starts over after landing on
// an abandoned flight
const maxFlightRejoins = 3

// flight is the context one shared resolution runs on. It ends when the last
// waiting caller leaves or the flight timeout passes, never because a single
// caller gave up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// await joins (or starts) the flight for name and waits for its result or
// for ctx to end, whichever comes first
func (r *Resolver) await(ctx context.Context, name string) (Resolution, error) {
	f := r.joinFlight(ctx, name)
	defer r.leaveFlight(name, f)

	ch := r.flights.DoChan(name, func() (any, error) {
		if err := r.enter(); err != nil {
			return Resolution{}, err
		}
		defer r.inflight.Done()
		return r.resolve(f.ctx, name)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Resolution{}, res.Err
		}
		return res.Val.(Resolution), nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

func (r *Resolver) joinFlight(ctx context.Context, name string) *flight {
	r.flightsMu.Lock()
	defer r.flightsMu.Unlock()

	f, ok := r.flightCtx[name]
	if !ok {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.flightTimeout)
		f = &flight{ctx: fctx, cancel: cancel}
		r.flightCtx[name] = f
	}
	f.waiters++
	return f
}

func (r *Resolver) leaveFlight(name string, f *flight) {
	r.flightsMu.Lock()
	defer r.flightsMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flightCtx[name] == f {
		delete(r.flightCtx, name)
	}
}

func (r *Resolver) resolve(ctx context.Context, name string) (Resolution, error) {
	// Tier 1: exact
	rec, err := r.store.GetExact(ctx, name)
	if err == nil {
		return Resolution{Record: rec, Source: types.SourceExact}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Resolution{}, err
	}

	// Tier 2: similarity
	embedding, err := r.embedding.GenerateEmbedding(ctx, name)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(embedding) == 0 {
		return Resolution{}, fmt.Errorf("embedding provider returned an empty vector for %q", name)
	}

	matches, err := r.index.FindSimilar(ctx, embedding, 1, r.minSimilarity)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to search similar ingredients: %w", err)
	}
	if len(matches) > 0 && matches[0].Score >= r.minSimilarity {
		match := matches[0]
		r.logger.Debug("inferred ingredient flags", "ingredient", name, "matched", match.Record.Name, "score", match.Score)
		return Resolution{
			Record: types.IngredientRecord{
				Name:      name,
				Flags:     match.Record.Flags.Clone(),
				Embedding: embedding,
				Source:    types.SourceInferred,
			},
			Source:      types.SourceInferred,
			MatchedName: match.Record.Name,
			Score:       match.Score,
		}, nil
	}

	// Tier 3: classifier, written back
	flags, err := r.classify(ctx, name)
	if err != nil {
		var classErr *ClassificationError
		if !errors.As(err, &classErr) {
			return Resolution{}, err
		}
		r.logger.Warn("classification failed, storing fail-safe flags", "ingredient", name, "error", classErr.Cause)
		r.recordFallback()
		flags = types.AllFail()
	}

	record := types.IngredientRecord{
		Name:      name,
		Flags:     flags,
		Embedding: embedding,
		Source:    types.SourceClassified,
	}
	if err := r.store.Upsert(ctx, record); err != nil {
		return Resolution{}, err
	}
	if err := r.index.Add(ctx, record); err != nil {
		// The store already holds the record, so exact lookups still see it
		r.logger.Warn("failed to index classified ingredient", "ingredient", name, "error", err)
	}

	return Resolution{Record: record, Source: types.SourceClassified}, nil
}

// classify calls the classifier and checks the answer covers every filter.
// Cancellation is returned as-is so an aborted job never stores a fail-safe record.
func (r *Resolver) classify(ctx context.Context, name string) (types.FlagSet, error) {
	flags, err := r.classifier.Classify(ctx, name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ClassificationError{Name: name, Cause: err}
	}

	out := make(types.FlagSet, len(types.AllFilters))
	for _, f := range types.AllFilters {
		flag := flags.Get(f)
		if flag != types.FlagPass && flag != types.FlagFail {
			return nil, &ClassificationError{Name: name, Cause: fmt.Errorf("no decision for filter %s", f)}
		}
		out[f] = flag
	}
	return out, nil
}

// Learn stores known flags for name with a fresh embedding, making it an
// exact hit from now on and a neighbour for similar names.
func (r *Resolver) Learn(ctx context.Context, name string, flags types.FlagSet) error {
	if err := r.enter(); err != nil {
		return err
	}
	defer r.inflight.Done()

	normalized := types.NormalizeName(name)
	if normalized == "" {
		return ErrEmptyName
	}

	embedding, err := r.embedding.GenerateEmbedding(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	record := types.IngredientRecord{
		Name:      normalized,
		Flags:     flags.Clone(),
		Embedding: embedding,
		Source:    types.SourceExact,
	}
	if err := r.store.Upsert(ctx, record); err != nil {
		return err
	}
	if err := r.index.Add(ctx, record); err != nil {
		return fmt.Errorf("failed to index %q: %w", normalized, err)
	}
	return nil
}

// ListAll returns every cached ingredient, sorted by name
func (r *Resolver) ListAll(ctx context.Context) ([]types.IngredientRecord, error) {
	return r.store.ListAll(ctx)
}

// Ping checks the store is reachable
func (r *Resolver) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Clear empties the ingredient cache and returns how many records it held.
// Index entries are removed first so a failure never leaves vectors pointing
// at records that are gone.
func (r *Resolver) Clear(ctx context.Context) (int, error) {
	if err := r.enter(); err != nil {
		return 0, err
	}
	defer r.inflight.Done()

	records, err := r.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) > 0 {
		names := make([]string, len(records))
		for i, rec := range records {
			names[i] = rec.Name
		}
		if err := r.index.Remove(ctx, names...); err != nil {
			return 0, fmt.Errorf("failed to remove indexed ingredients: %w", err)
		}
	}

	n, err := r.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info("ingredient cache cleared", "deleted", n)
	return n, nil
}

// Close rejects new calls and flights and waits for running ones to finish
func (r *Resolver) Close() error {
	r.closeOnce.Do(func() {
		r.closeLock.Lock()
		r.closing = true
		r.closeLock.Unlock()

		r.inflight.Wait()
	})
	return nil
}

// GetMetrics returns current resolution metrics
func (r *Resolver) GetMetrics() Metrics {
	r.metricsLock.RLock()
	defer r.metricsLock.RUnlock()

	m := r.metrics
	if m.TotalResolutions > 0 {
		m.CacheHitRate = float32(m.ExactHits+m.InferredHits) / float32(m.TotalResolutions) * 100
	}
	return m
}

func (r *Resolver) recordResolution(source types.Source) {
	r.metricsLock.Lock()
	defer r.metricsLock.Unlock()
	r.metrics.TotalResolutions++
	switch source {
	case types.SourceExact:
		r.metrics.ExactHits++
	case types.SourceInferred:
		r.metrics.InferredHits++
	case types.SourceClassified:
		r.metrics.Classified++
	}
}

func (r *Resolver) recordFallback() {
	r.metricsLock.Lock()
	defer r.metricsLock.Unlock()
	r.metrics.Fallbacks++
}

func (r *Resolver) recordError() {
	r.metricsLock.Lock()
	defer r.metricsLock.Unlock()
	r.metrics.Errors++
}
