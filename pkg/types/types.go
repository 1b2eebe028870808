package types

import (
	"fmt"
	"strings"
)

// Filter is a named dietary restriction
type Filter string

const (
	FilterVegan             Filter = "vegan"
	FilterVegetarian        Filter = "vegetarian"
	FilterHalal             Filter = "halal"
	FilterGlutenFree        Filter = "gluten-free"
	FilterLactoseIntolerant Filter = "lactose-intolerant"
	FilterNutAllergy        Filter = "nut-allergy"
	FilterAntiInflammatory  Filter = "anti-inflammatory"
	FilterLowSugar          Filter = "low-sugar"
)

// AllFilters is the closed filter key space, in canonical order
var AllFilters = []Filter{
	FilterVegan,
	FilterVegetarian,
	FilterHalal,
	FilterGlutenFree,
	FilterLactoseIntolerant,
	FilterNutAllergy,
	FilterAntiInflammatory,
	FilterLowSugar,
}

// Valid reports whether f belongs to the closed filter key space
func (f Filter) Valid() bool {
	for _, known := range AllFilters {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFilter normalizes and validates a filter name
func ParseFilter(name string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(name)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown filter %q", name)
	}
	return f, nil
}

// Flag is the tri-state compatibility of an ingredient with a filter
type Flag string

const (
	FlagPass    Flag = "pass"
	FlagFail    Flag = "fail"
	FlagUnknown Flag = "unknown"
)

// FlagFromInt maps the 1/0 wire encoding used by classifiers and seed files
func FlagFromInt(v int) (Flag, error) {
	switch v {
	case 1:
		return FlagPass, nil
	case 0:
		return FlagFail, nil
	default:
		return "", fmt.Errorf("flag value must be 0 or 1, got %d", v)
	}
}

// FlagSet maps filters to flags. Missing filters read as FlagUnknown.
type FlagSet map[Filter]Flag

// Get returns the flag for f, or FlagUnknown when absent
func (fs FlagSet) Get(f Filter) Flag {
	if v, ok := fs[f]; ok && v != "" {
		return v
	}
	return FlagUnknown
}

// Clone returns an independent copy
func (fs FlagSet) Clone() FlagSet {
	if fs == nil {
		return nil
	}
	out := make(FlagSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

// AllFail returns the conservative flag set used when classification is indeterminate
func AllFail() FlagSet {
	out := make(FlagSet, len(AllFilters))
	for _, f := range AllFilters {
		out[f] = FlagFail
	}
	return out
}

// Source records where an ingredient's flags came from
type Source string

const (
	SourceExact      Source = "exact"
	SourceInferred   Source = "inferred"
	SourceClassified Source = "classified"
)

// IngredientRecord is the cached dietary knowledge for one ingredient name
type IngredientRecord struct {
	Name      string    `json:"name"`
	Flags     FlagSet   `json:"flags"`
	Embedding []float32 `json:"embedding,omitempty"`
	Source    Source    `json:"source"`
}

// Clone returns a deep copy so callers cannot mutate stored state
func (r IngredientRecord) Clone() IngredientRecord {
	out := r
	out.Flags = r.Flags.Clone()
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	return out
}

// VectorMatch represents a single match from a vector search
type VectorMatch struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// NormalizeName trims and lower-cases an ingredient name
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SplitIngredients turns extracted label text ("Milk, Sugar, ...") into the
// ordered lowercase-trimmed list the resolver consumes. Empty items are dropped.
func SplitIngredients(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := NormalizeName(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}
