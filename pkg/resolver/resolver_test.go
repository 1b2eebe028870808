package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/similarity"
	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
	"github.com/FrenchMajesty/ingredient-filter/pkg/testutil"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// fixedEmbeddings returns the vector registered for each name, or a vector
// orthogonal to all of them.
func fixedEmbeddings(vectors map[string][]float32) *testutil.MockEmbeddingClient {
	return &testutil.MockEmbeddingClient{
		GenerateEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			if v, ok := vectors[text]; ok {
				return v, nil
			}
			return []float32{0, 0, 1}, nil
		},
	}
}

type fixture struct {
	store      *testutil.MockStore
	embedding  *testutil.MockEmbeddingClient
	classifier *testutil.MockClassifierClient
	resolver   *resolver.Resolver
}

func newFixture(t *testing.T, embedding *testutil.MockEmbeddingClient, classifier *testutil.MockClassifierClient) *fixture {
	t.Helper()
	if embedding == nil {
		embedding = &testutil.MockEmbeddingClient{}
	}
	if classifier == nil {
		classifier = &testutil.MockClassifierClient{}
	}
	s := testutil.NewMockStore()
	r, err := resolver.New(resolver.Config{
		Store:            s,
		EmbeddingClient:  embedding,
		ClassifierClient: classifier,
	})
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}
	return &fixture{store: s, embedding: embedding, classifier: classifier, resolver: r}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	s := store.NewMemoryStore()
	emb := &testutil.MockEmbeddingClient{}
	clf := &testutil.MockClassifierClient{}

	if _, err := resolver.New(resolver.Config{EmbeddingClient: emb, ClassifierClient: clf}); err == nil {
		t.Error("Expected error without Store")
	}
	if _, err := resolver.New(resolver.Config{Store: s, ClassifierClient: clf}); err == nil {
		t.Error("Expected error without EmbeddingClient")
	}
	if _, err := resolver.New(resolver.Config{Store: s, EmbeddingClient: emb}); err == nil {
		t.Error("Expected error without ClassifierClient")
	}
	if _, err := resolver.New(resolver.Config{Store: s, EmbeddingClient: emb, ClassifierClient: clf, MinSimilarity: 1.5}); err == nil {
		t.Error("Expected error for threshold above 1")
	}
	if _, err := resolver.New(resolver.Config{Store: s, EmbeddingClient: emb, ClassifierClient: clf, MinSimilarity: -0.1}); err == nil {
		t.Error("Expected error for negative threshold")
	} else if !strings.Contains(err.Error(), "[0, 1]") {
		t.Errorf("Expected the accepted range in the error, got: %v", err)
	}

	r, err := resolver.New(resolver.Config{Store: s, EmbeddingClient: emb, ClassifierClient: clf})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if r.MinSimilarity() != resolver.DefaultMinSimilarity {
		t.Errorf("Expected default threshold %v, got %v", resolver.DefaultMinSimilarity, r.MinSimilarity())
	}
}

// TestResolve_ExactHitShortCircuits checks that an exact record answers without embedding or classifying
func TestResolve_ExactHitShortCircuits(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.store.MemoryStore.Upsert(ctx, types.IngredientRecord{
		Name:  "milk",
		Flags: testutil.Flags(types.FilterVegan, types.FlagFail),
	})

	res, err := f.resolver.Resolve(ctx, "  Milk ")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Source != types.SourceExact {
		t.Errorf("Expected exact source, got %s", res.Source)
	}
	if res.Record.Flags.Get(types.FilterVegan) != types.FlagFail {
		t.Errorf("Expected stored flags, got %v", res.Record.Flags)
	}
	if f.embedding.Calls() != 0 {
		t.Errorf("Expected no embedding call on exact hit, got %d", f.embedding.Calls())
	}
	if f.classifier.Calls() != 0 {
		t.Errorf("Expected no classifier call on exact hit, got %d", f.classifier.Calls())
	}
}

// TestResolve_SimilarityInheritsWithoutPersisting covers near-identical embeddings
// where only one name has a record.
func TestResolve_SimilarityInheritsWithoutPersisting(t *testing.T) {
	embedding := fixedEmbeddings(map[string][]float32{
		"whole milk":  {1, 0, 0},
		"whole milks": {0.9, 0.43589, 0}, // cosine 0.9 with whole milk
	})
	f := newFixture(t, embedding, nil)
	ctx := context.Background()

	if err := f.resolver.Learn(ctx, "whole milk", testutil.Flags(types.FilterVegan, types.FlagFail, types.FilterHalal, types.FlagPass)); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}
	upsertsBefore := f.store.Upserts()

	for i := 0; i < 2; i++ {
		res, err := f.resolver.Resolve(ctx, "whole milks")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if res.Source != types.SourceInferred {
			t.Fatalf("Expected inferred source, got %s", res.Source)
		}
		if res.MatchedName != "whole milk" {
			t.Errorf("Expected match on whole milk, got %q", res.MatchedName)
		}
		if res.Score < 0.85 {
			t.Errorf("Expected score above threshold, got %v", res.Score)
		}
		if res.Record.Name != "whole milks" || res.Record.Flags.Get(types.FilterVegan) != types.FlagFail {
			t.Errorf("Expected inherited flags under queried name, got %+v", res.Record)
		}
	}

	if f.store.Upserts() != upsertsBefore {
		t.Errorf("Expected no store write for inferred match, got %d new upserts", f.store.Upserts()-upsertsBefore)
	}
	if _, err := f.store.GetExact(ctx, "whole milks"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected no exact record for inferred name, got: %v", err)
	}
	if f.classifier.Calls() != 0 {
		t.Errorf("Expected no classifier calls, got %d", f.classifier.Calls())
	}
}

func TestResolve_BelowThresholdFallsThroughToClassifier(t *testing.T) {
	embedding := fixedEmbeddings(map[string][]float32{
		"sugar":       {1, 0, 0},
		"brown sugar": {0.8, 0.6, 0}, // cosine 0.8
	})
	f := newFixture(t, embedding, nil)
	ctx := context.Background()
	f.resolver.Learn(ctx, "sugar", testutil.AllPass())

	res, err := f.resolver.Resolve(ctx, "brown sugar")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Source != types.SourceClassified {
		t.Errorf("Expected classified source, got %s", res.Source)
	}
	if f.classifier.Calls() != 1 {
		t.Errorf("Expected one classifier call, got %d", f.classifier.Calls())
	}
}

func TestResolve_ClassifiedRecordIsWrittenBack(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	first, err := f.resolver.Resolve(ctx, "tofu")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.Source != types.SourceClassified {
		t.Fatalf("Expected classified source, got %s", first.Source)
	}

	stored, err := f.store.GetExact(ctx, "tofu")
	if err != nil {
		t.Fatalf("Expected record to be persisted: %v", err)
	}
	if stored.Source != types.SourceClassified || len(stored.Embedding) == 0 {
		t.Errorf("Expected classified record with embedding, got %+v", stored)
	}

	second, err := f.resolver.Resolve(ctx, "tofu")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if second.Source != types.SourceExact {
		t.Errorf("Expected exact hit on second resolve, got %s", second.Source)
	}
	if f.classifier.Calls() != 1 {
		t.Errorf("Expected classifier called once, got %d", f.classifier.Calls())
	}
}

// TestResolve_MalformedClassifierFallsBackToAllFail covers an unknown ingredient
// whose classifier answer is unusable.
func TestResolve_MalformedClassifierFallsBackToAllFail(t *testing.T) {
	classifier := &testutil.MockClassifierClient{
		ClassifyFunc: func(ctx context.Context, name string) (types.FlagSet, error) {
			return nil, errors.New("invalid classifier output: not JSON")
		},
	}
	f := newFixture(t, nil, classifier)
	ctx := context.Background()

	res, err := f.resolver.Resolve(ctx, "xylitol-extract")
	if err != nil {
		t.Fatalf("Expected classifier failure to be absorbed, got: %v", err)
	}
	for _, filter := range types.AllFilters {
		if res.Record.Flags.Get(filter) != types.FlagFail {
			t.Errorf("Expected %s to fail, got %s", filter, res.Record.Flags.Get(filter))
		}
	}

	stored, err := f.store.GetExact(ctx, "xylitol-extract")
	if err != nil {
		t.Fatalf("Expected fail-safe record to be persisted: %v", err)
	}
	if stored.Flags.Get(types.FilterLowSugar) != types.FlagFail {
		t.Errorf("Expected persisted all-fail flags, got %v", stored.Flags)
	}

	again, err := f.resolver.Resolve(ctx, "xylitol-extract")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if again.Source != types.SourceExact {
		t.Errorf("Expected fail-safe record reused as exact hit, got %s", again.Source)
	}
	if classifier.Calls() != 1 {
		t.Errorf("Expected classifier called once, got %d", classifier.Calls())
	}
	if m := f.resolver.GetMetrics(); m.Fallbacks != 1 {
		t.Errorf("Expected 1 fallback, got %d", m.Fallbacks)
	}
}

func TestResolve_IncompleteClassifierAnswerFallsBack(t *testing.T) {
	classifier := &testutil.MockClassifierClient{
		ClassifyFunc: func(ctx context.Context, name string) (types.FlagSet, error) {
			return testutil.Flags(types.FilterVegan, types.FlagPass), nil
		},
	}
	f := newFixture(t, nil, classifier)

	res, err := f.resolver.Resolve(context.Background(), "seitan")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Record.Flags.Get(types.FilterVegan) != types.FlagFail {
		t.Errorf("Expected partial answer to be replaced by all-fail, got %v", res.Record.Flags)
	}
}

func TestResolve_CancelledClassificationIsNotPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	classifier := &testutil.MockClassifierClient{
		ClassifyFunc: func(ctx context.Context, name string) (types.FlagSet, error) {
			// The only caller leaves, which cancels the shared flight
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, nil, classifier)

	_, err := f.resolver.Resolve(ctx, "saffron")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if _, err := f.store.GetExact(context.Background(), "saffron"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected nothing persisted after cancellation, got: %v", err)
	}
}

func TestResolve_PersistenceErrorPropagates(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.store.UpsertFunc = func(ctx context.Context, record types.IngredientRecord) error {
		return &store.PersistenceError{Op: "upsert", Name: record.Name, Cause: errors.New("connection reset")}
	}

	_, err := f.resolver.Resolve(context.Background(), "tofu")
	var perr *store.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected PersistenceError, got: %v", err)
	}
	if m := f.resolver.GetMetrics(); m.Errors != 1 {
		t.Errorf("Expected 1 error recorded, got %d", m.Errors)
	}
}

func TestResolve_StoreReadErrorPropagates(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.store.GetExactFunc = func(ctx context.Context, name string) (types.IngredientRecord, error) {
		return types.IngredientRecord{}, &store.PersistenceError{Op: "get", Name: name, Cause: errors.New("timeout")}
	}

	if _, err := f.resolver.Resolve(context.Background(), "tofu"); err == nil {
		t.Fatal("Expected error")
	}
	if f.classifier.Calls() != 0 {
		t.Errorf("Expected no classifier call after store failure, got %d", f.classifier.Calls())
	}
}

func TestResolve_EmbeddingErrorPropagates(t *testing.T) {
	embedding := &testutil.MockEmbeddingClient{
		GenerateEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("provider down")
		},
	}
	f := newFixture(t, embedding, nil)

	_, err := f.resolver.Resolve(context.Background(), "tofu")
	if err == nil {
		t.Fatal("Expected embedding error to propagate")
	}
	if f.classifier.Calls() != 0 {
		t.Errorf("Expected classifier not to be called, got %d", f.classifier.Calls())
	}
}

func TestResolve_EmptyName(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.resolver.Resolve(context.Background(), "   "); !errors.Is(err, resolver.ErrEmptyName) {
		t.Errorf("Expected ErrEmptyName, got: %v", err)
	}
}

// TestResolve_ConcurrentSameNameSharesClassification checks that duplicate
// concurrent lookups of a novel name cost one classifier call.
func TestResolve_ConcurrentSameNameSharesClassification(t *testing.T) {
	release := make(chan struct{})
	classifier := &testutil.MockClassifierClient{
		ClassifyFunc: func(ctx context.Context, name string) (types.FlagSet, error) {
			<-release
			return testutil.AllPass(), nil
		},
	}
	f := newFixture(t, nil, classifier)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.resolver.Resolve(context.Background(), "Quinoa")
			errs <- err
		}()
	}

	// Let every goroutine reach the shared flight before the classifier returns
	for f.classifier.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}
	if classifier.Calls() != 1 {
		t.Errorf("Expected a single classifier call, got %d", classifier.Calls())
	}
}

// TestResolve_CallerLeavingDoesNotFailSharedFlight checks that one caller
// giving up does not cancel the resolution another caller is waiting on.
func TestResolve_CallerLeavingDoesNotFailSharedFlight(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	release := make(chan struct{})
	classifier := &testutil.MockClassifierClient{
		ClassifyFunc: func(ctx context.Context, name string) (types.FlagSet, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
				return testutil.AllPass(), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	f := newFixture(t, nil, classifier)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.resolver.Resolve(ctxA, "saffron")
		errA <- err
	}()
	<-started

	type result struct {
		res resolver.Resolution
		err error
	}
	resB := make(chan result, 1)
	go func() {
		res, err := f.resolver.Resolve(context.Background(), "Saffron")
		resB <- result{res, err}
	}()
	// Let B join the flight before A leaves
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the leaving caller to see context.Canceled, got: %v", err)
	}
	close(release)

	b := <-resB
	if b.err != nil {
		t.Fatalf("Remaining caller failed: %v", b.err)
	}
	if b.res.Source != types.SourceClassified {
		t.Errorf("Expected classified result, got %s", b.res.Source)
	}
	if classifier.Calls() != 1 {
		t.Errorf("Expected one classifier call, got %d", classifier.Calls())
	}
	if _, err := f.store.GetExact(context.Background(), "saffron"); err != nil {
		t.Errorf("Expected the shared result persisted: %v", err)
	}
}

func TestResolve_FlightTimeout(t *testing.T) {
	classifier := &testutil.MockClassifierClient{
		ClassifyFunc: func(ctx context.Context, name string) (types.FlagSet, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	r, err := resolver.New(resolver.Config{
		Store:            testutil.NewMockStore(),
		EmbeddingClient:  &testutil.MockEmbeddingClient{},
		ClassifierClient: classifier,
		FlightTimeout:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}

	if _, err := r.Resolve(context.Background(), "saffron"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context.DeadlineExceeded, got: %v", err)
	}
}

func TestClear_RemovesIndexedVectors(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewMockStore()
	vectors := testutil.NewMockVectorClient()
	r, err := resolver.New(resolver.Config{
		Store:            s,
		Index:            similarity.NewPineconeIndex(vectors, s, nil),
		EmbeddingClient:  &testutil.MockEmbeddingClient{},
		ClassifierClient: &testutil.MockClassifierClient{},
	})
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}
	r.Learn(ctx, "milk", testutil.AllPass())
	r.Learn(ctx, "salt", testutil.AllPass())

	n, err := r.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 cleared, got %d", n)
	}
	if len(vectors.Storage) != 0 {
		t.Errorf("Expected no vectors left, got %d", len(vectors.Storage))
	}
	if all, _ := r.ListAll(ctx); len(all) != 0 {
		t.Errorf("Expected empty store, got %d records", len(all))
	}
}

func TestClear_IndexFailureKeepsStore(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewMockStore()
	r, err := resolver.New(resolver.Config{
		Store:            s,
		Index:            failingRemoveIndex{similarity.NewScanIndex(s)},
		EmbeddingClient:  &testutil.MockEmbeddingClient{},
		ClassifierClient: &testutil.MockClassifierClient{},
	})
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}
	r.Learn(ctx, "milk", testutil.AllPass())

	if _, err := r.Clear(ctx); err == nil {
		t.Fatal("Expected Clear to fail when the index cannot remove")
	}
	if _, err := s.GetExact(ctx, "milk"); err != nil {
		t.Errorf("Expected store untouched, got: %v", err)
	}
}

type failingRemoveIndex struct {
	*similarity.ScanIndex
}

func (failingRemoveIndex) Remove(context.Context, ...string) error {
	return errors.New("vector database unavailable")
}

func TestResolve_ConcurrentDistinctNames(t *testing.T) {
	// One-hot vectors keep every name out of every other's neighbourhood
	vectors := make(map[string][]float32)
	for i := 0; i < 20; i++ {
		v := make([]float32, 20)
		v[i] = 1
		vectors[fmt.Sprintf("ingredient %d", i)] = v
	}
	f := newFixture(t, fixedEmbeddings(vectors), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.resolver.Resolve(context.Background(), fmt.Sprintf("ingredient %d", i)); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	all, _ := f.store.ListAll(context.Background())
	if len(all) != 20 {
		t.Errorf("Expected 20 persisted records, got %d", len(all))
	}
}

func TestLearn_StoresExactRecord(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	if err := f.resolver.Learn(ctx, "Butter", testutil.Flags(types.FilterVegan, types.FlagFail)); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}
	rec, err := f.store.GetExact(ctx, "butter")
	if err != nil {
		t.Fatalf("Expected learned record: %v", err)
	}
	if rec.Source != types.SourceExact || len(rec.Embedding) == 0 {
		t.Errorf("Expected exact record with embedding, got %+v", rec)
	}
}

func TestGetMetrics(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.resolver.Learn(ctx, "water", testutil.AllPass())

	f.resolver.Resolve(ctx, "water")
	f.resolver.Resolve(ctx, "tofu")
	f.resolver.Resolve(ctx, "tofu")

	m := f.resolver.GetMetrics()
	if m.TotalResolutions != 3 {
		t.Errorf("Expected 3 resolutions, got %d", m.TotalResolutions)
	}
	if m.ExactHits != 2 || m.Classified != 1 {
		t.Errorf("Expected 2 exact and 1 classified, got %+v", m)
	}
	if m.CacheHitRate < 66 || m.CacheHitRate > 67 {
		t.Errorf("Expected cache hit rate ~66.7%%, got %v", m.CacheHitRate)
	}
}

func TestClose_RejectsNewWork(t *testing.T) {
	f := newFixture(t, nil, nil)

	if err := f.resolver.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.resolver.Resolve(context.Background(), "tofu"); !errors.Is(err, resolver.ErrClosed) {
		t.Errorf("Expected ErrClosed, got: %v", err)
	}
	if err := f.resolver.Learn(context.Background(), "tofu", testutil.AllPass()); !errors.Is(err, resolver.ErrClosed) {
		t.Errorf("Expected ErrClosed from Learn, got: %v", err)
	}
	// Idempotent
	if err := f.resolver.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestClose_WaitsForInflight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	classifier := &testutil.MockClassifierClient{
		ClassifyFunc: func(ctx context.Context, name string) (types.FlagSet, error) {
			close(started)
			<-release
			return testutil.AllPass(), nil
		},
	}
	f := newFixture(t, nil, classifier)

	done := make(chan error, 1)
	go func() {
		_, err := f.resolver.Resolve(context.Background(), "tofu")
		done <- err
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		f.resolver.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a resolution was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed
	if err := <-done; err != nil {
		t.Errorf("In-flight resolution failed: %v", err)
	}
}

func TestClassificationError_Unwrap(t *testing.T) {
	cause := errors.New("bad json")
	err := &resolver.ClassificationError{Name: "x", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Expected ClassificationError to unwrap to its cause")
	}
}
