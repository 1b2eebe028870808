package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FrenchMajesty/ingredient-filter/pkg/jobs"
	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/seed"
	"github.com/FrenchMajesty/ingredient-filter/pkg/similarity"
	"github.com/FrenchMajesty/ingredient-filter/pkg/testutil"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

var discard = slog.New(slog.DiscardHandler)

type fixture struct {
	server   *Server
	jobs     *jobs.Orchestrator
	store    *testutil.MockStore
	resolver *testutil.MockResolver
}

func newFixture(t *testing.T, opts ...jobs.Option) *fixture {
	t.Helper()
	r := &testutil.MockResolver{
		ResolveFunc: func(ctx context.Context, name string) (resolver.Resolution, error) {
			if name == "milk" {
				return testutil.ExactResolution(name, testutil.Flags(
					types.FilterVegan, types.FlagFail, types.FilterGlutenFree, types.FlagPass)), nil
			}
			return testutil.ExactResolution(name, testutil.AllPass()), nil
		},
	}
	o := jobs.New(r, append([]jobs.Option{jobs.WithLogger(discard)}, opts...)...)
	st := testutil.NewMockStore()

	s, err := New(Config{Jobs: o, Store: st, Registry: prometheus.NewRegistry(), Logger: discard})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		_ = o.Shutdown(ctx)
	})
	return &fixture{server: s, jobs: o, store: st, resolver: r}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.App.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func (f *fixture) waitDone(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, err := f.jobs.Get(id); err == nil && job.Status.Terminal() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
}

func TestAnalyze_Flow(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/analyze",
		`{"ingredients": ["milk", "water"], "filters": ["vegan", "gluten-free"]}`)
	if code != http.StatusAccepted {
		t.Fatalf("analyze = %d %v", code, body)
	}
	id, _ := body["job_id"].(string)
	if id == "" || body["status"] != "pending" {
		t.Fatalf("unexpected body %v", body)
	}
	f.waitDone(t, id)

	code, body = f.do(t, http.MethodGet, "/api/results/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("results = %d %v", code, body)
	}
	results := body["results"].(map[string]any)
	if results["vegan"] != "fail" || results["gluten-free"] != "pass" {
		t.Errorf("results = %v", results)
	}
	failing := body["failing"].(map[string]any)
	if vegan := failing["vegan"].([]any); len(vegan) != 1 || vegan[0] != "milk" {
		t.Errorf("failing vegan = %v", vegan)
	}
	if ings := body["ingredients"].([]any); len(ings) != 2 {
		t.Errorf("ingredients = %v", ings)
	}

	code, body = f.do(t, http.MethodGet, "/api/status/"+id, "")
	if code != http.StatusOK || body["status"] != "complete" || body["results"] == nil {
		t.Errorf("status = %d %v", code, body)
	}
}

func TestAnalyze_IngredientText(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/analyze",
		`{"job_id": "label-1", "ingredient_text": "Water, MILK , ", "filters": ["vegan"]}`)
	if code != http.StatusAccepted || body["job_id"] != "label-1" {
		t.Fatalf("analyze = %d %v", code, body)
	}
	f.waitDone(t, "label-1")

	job, _ := f.jobs.Get("label-1")
	if len(job.Ingredients) != 2 || job.Ingredients[0] != "water" || job.Ingredients[1] != "milk" {
		t.Errorf("ingredients = %q", job.Ingredients)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"filters": [`, http.StatusBadRequest},
		{"empty filters", `{"ingredients": ["milk"], "filters": []}`, http.StatusBadRequest},
		{"unknown filter", `{"ingredients": ["milk"], "filters": ["keto"]}`, http.StatusBadRequest},
		{"no ingredients", `{"filters": ["vegan"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, "/api/analyze", tt.body)
			if code != tt.code {
				t.Fatalf("code = %d, want %d (%v)", code, tt.code, body)
			}
			if body["error"] == nil {
				t.Error("expected an error message")
			}
		})
	}

	req := `{"job_id": "dup", "ingredients": ["salt"], "filters": ["vegan"]}`
	if code, _ := f.do(t, http.MethodPost, "/api/analyze", req); code != http.StatusAccepted {
		t.Fatalf("first submit = %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/analyze", req); code != http.StatusConflict {
		t.Fatalf("duplicate submit = %d, want 409", code)
	}
}

func TestAnalyze_ShuttingDown(t *testing.T) {
	f := newFixture(t)
	if err := f.jobs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	code, _ := f.do(t, http.MethodPost, "/api/analyze", `{"ingredients": ["salt"], "filters": ["vegan"]}`)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", code)
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/status/nope", "/api/results/nope"} {
		if code, _ := f.do(t, http.MethodGet, path, ""); code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, code)
		}
	}
	if code, _ := f.do(t, http.MethodDelete, "/api/jobs/nope", ""); code != http.StatusNotFound {
		t.Errorf("abort unknown = %d, want 404", code)
	}
}

func TestResults_RunningAndFailed(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.resolver.ResolveFunc = func(ctx context.Context, name string) (resolver.Resolution, error) {
		select {
		case <-release:
			return resolver.Resolution{}, errors.New("embedding provider unavailable")
		case <-ctx.Done():
			return resolver.Resolution{}, ctx.Err()
		}
	}

	code, body := f.do(t, http.MethodPost, "/api/analyze", `{"ingredients": ["gum"], "filters": ["vegan"]}`)
	if code != http.StatusAccepted {
		t.Fatalf("analyze = %d", code)
	}
	id := body["job_id"].(string)

	code, body = f.do(t, http.MethodGet, "/api/results/"+id, "")
	if code != http.StatusAccepted || body["results"] != nil {
		t.Fatalf("running results = %d %v", code, body)
	}

	close(release)
	f.waitDone(t, id)

	code, body = f.do(t, http.MethodGet, "/api/results/"+id, "")
	if code != http.StatusInternalServerError {
		t.Fatalf("failed results = %d, want 500", code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "embedding provider unavailable") {
		t.Errorf("error = %q", msg)
	}
}

func TestAbort(t *testing.T) {
	f := newFixture(t)
	f.resolver.ResolveFunc = func(ctx context.Context, name string) (resolver.Resolution, error) {
		<-ctx.Done()
		return resolver.Resolution{}, ctx.Err()
	}

	_, body := f.do(t, http.MethodPost, "/api/analyze", `{"ingredients": ["gum"], "filters": ["vegan"]}`)
	id := body["job_id"].(string)

	code, body := f.do(t, http.MethodDelete, "/api/jobs/"+id, "")
	if code != http.StatusOK || body["status"] != "error" || body["error"] != "job aborted" {
		t.Fatalf("abort = %d %v", code, body)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	if code, body := f.do(t, http.MethodGet, "/api/health", ""); code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health = %d %v", code, body)
	}

	f.store.PingFunc = func(ctx context.Context) error { return errors.New("connection refused") }
	if code, body := f.do(t, http.MethodGet, "/api/health", ""); code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Fatalf("health = %d %v", code, body)
	}
}

func TestIngredients_ListAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"salt", "milk"} {
		if err := f.store.Upsert(ctx, types.IngredientRecord{Name: name, Flags: testutil.AllPass(), Embedding: []float32{1, 0}}); err != nil {
			t.Fatal(err)
		}
	}

	code, body := f.do(t, http.MethodGet, "/api/ingredients", "")
	if code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("list = %d %v", code, body)
	}
	first := body["ingredients"].([]any)[0].(map[string]any)
	if first["name"] != "milk" || first["source"] != "exact" {
		t.Errorf("first = %v", first)
	}
	if _, ok := first["embedding"]; ok {
		t.Error("embeddings should not be exposed")
	}

	code, body = f.do(t, http.MethodDelete, "/api/ingredients", "")
	if code != http.StatusOK || body["deleted"] != float64(2) {
		t.Fatalf("clear = %d %v", code, body)
	}
	if _, body = f.do(t, http.MethodGet, "/api/ingredients", ""); body["count"] != float64(0) {
		t.Errorf("after clear: %v", body)
	}
}

func TestSeed(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, http.MethodPost, "/api/seed", ""); code != http.StatusNotImplemented {
		t.Fatalf("seed without seeder = %d, want 501", code)
	}

	var runs atomic.Int32
	done := make(chan struct{})
	f.server.seeder = func(ctx context.Context) (seed.Result, error) {
		runs.Add(1)
		close(done)
		return seed.Result{Loaded: 3}, nil
	}
	if code, body := f.do(t, http.MethodPost, "/api/seed", ""); code != http.StatusAccepted || body["status"] != "started" {
		t.Fatalf("seed = %d %v", code, body)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("seeder never ran")
	}
	if runs.Load() != 1 {
		t.Errorf("seeder ran %d times", runs.Load())
	}
}

func TestIngredients_ClearDropsIndexedVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vectors := testutil.NewMockVectorClient()
	res, err := resolver.New(resolver.Config{
		Store:            f.store,
		Index:            similarity.NewPineconeIndex(vectors, f.store, discard),
		EmbeddingClient:  &testutil.MockEmbeddingClient{},
		ClassifierClient: &testutil.MockClassifierClient{},
		Logger:           discard,
	})
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	defer res.Close()
	for _, name := range []string{"milk", "butter"} {
		if err := res.Learn(ctx, name, testutil.AllPass()); err != nil {
			t.Fatalf("Learn(%s): %v", name, err)
		}
	}

	s, err := New(Config{Jobs: f.jobs, Store: res, Logger: discard})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := s.App.Test(httptest.NewRequest(http.MethodDelete, "/api/ingredients", nil))
	if err != nil {
		t.Fatalf("DELETE /api/ingredients: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body["deleted"] != float64(2) {
		t.Fatalf("clear = %d %v", resp.StatusCode, body)
	}
	if len(vectors.Storage) != 0 {
		t.Errorf("expected indexed vectors removed, %d left", len(vectors.Storage))
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := f.server.App.Test(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Store: testutil.NewMockStore()}); err == nil {
		t.Error("expected error without Jobs")
	}
	if _, err := New(Config{Jobs: &jobs.Orchestrator{}}); err == nil {
		t.Error("expected error without Store")
	}
}
