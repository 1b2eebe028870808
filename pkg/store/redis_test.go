package store

import (
	"testing"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

func TestRedisDocumentRoundTrip(t *testing.T) {
	rec := types.IngredientRecord{
		Name:      "honey",
		Flags:     types.FlagSet{types.FilterVegan: types.FlagFail, types.FilterLowSugar: types.FlagFail},
		Embedding: []float32{0.5, -0.5},
		Source:    types.SourceClassified,
	}

	data, err := encodeDocument(rec)
	if err != nil {
		t.Fatalf("encodeDocument failed: %v", err)
	}
	got, err := decodeDocument(data)
	if err != nil {
		t.Fatalf("decodeDocument failed: %v", err)
	}

	if got.Name != "honey" || got.Source != types.SourceClassified {
		t.Errorf("Unexpected record: %+v", got)
	}
	if got.Flags.Get(types.FilterVegan) != types.FlagFail {
		t.Errorf("Expected vegan fail, got %s", got.Flags.Get(types.FilterVegan))
	}
	if len(got.Embedding) != 2 || got.Embedding[1] != -0.5 {
		t.Errorf("Embedding did not survive: %v", got.Embedding)
	}
	if redisKey("honey") != "ingredient:honey" {
		t.Errorf("Unexpected key %q", redisKey("honey"))
	}
}
