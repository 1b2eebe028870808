package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/FrenchMajesty/ingredient-filter/internal/config"
	"github.com/FrenchMajesty/ingredient-filter/pkg/store"
)

var discard = slog.New(slog.DiscardHandler)

func TestOpenStore_Memory(t *testing.T) {
	st, err := OpenStore(context.Background(), &config.Config{StoreBackend: config.StoreMemory}, discard)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.MemoryStore); !ok {
		t.Fatalf("got %T, want *store.MemoryStore", st)
	}
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(&config.Config{EmbeddingProvider: config.EmbeddingVoyage, VoyageAPIKey: "vk-test"})
	if err != nil || e == nil {
		t.Fatalf("voyage: %v", err)
	}
	e, err = NewEmbedder(&config.Config{EmbeddingProvider: config.EmbeddingOpenAI, OpenAIAPIKey: "sk-test"})
	if err != nil || e == nil {
		t.Fatalf("openai: %v", err)
	}
}

func TestNewEmbedder_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewEmbedder(&config.Config{EmbeddingProvider: config.EmbeddingOpenAI}); err == nil {
		t.Fatal("expected an error without an api key")
	}
}

func TestNewClassifier(t *testing.T) {
	c, err := NewClassifier(&config.Config{ClassifierAPIKey: "sk-test", ClassifierTemperature: -1}, discard)
	if err != nil || c == nil {
		t.Fatalf("NewClassifier: %v", err)
	}
}

func TestNewIndex_ScanWithoutPinecone(t *testing.T) {
	idx, err := NewIndex(&config.Config{}, store.NewMemoryStore(), discard)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if idx != nil {
		t.Fatalf("expected nil index so the resolver falls back to scanning, got %T", idx)
	}
}

func TestCatalogue(t *testing.T) {
	entries, err := Catalogue(&config.Config{})
	if err != nil || len(entries) == 0 {
		t.Fatalf("default catalogue: %d entries, %v", len(entries), err)
	}

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("saffron: {vegan: 1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err = Catalogue(&config.Config{SeedFile: path})
	if err != nil || len(entries) != 1 || entries[0].Name != "saffron" {
		t.Fatalf("custom catalogue = %+v, %v", entries, err)
	}
}

func TestTemperature(t *testing.T) {
	if temperature(-0.5) != nil {
		t.Error("negative temperature should be omitted")
	}
	if v := temperature(0.2); v == nil || *v != float32(0.2) {
		t.Errorf("temperature(0.2) = %v", v)
	}
}
