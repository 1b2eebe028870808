// Package seed preloads the property store with known ingredients.
//
// Catalogues map an ingredient name to its filters, each encoded as 1 (passes)
// or 0 (fails):
//
//	milk: {vegan: 0, vegetarian: 1, gluten-free: 1}
//
// JSON files in the same shape parse as well. Filters left out of an entry are
// stored as unknown.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

const defaultConcurrency = 4

// Entry is one ingredient to preload
type Entry struct {
	Name  string
	Flags types.FlagSet
}

// Learner stores an ingredient with known flags. *resolver.Resolver satisfies it.
type Learner interface {
	Learn(ctx context.Context, name string, flags types.FlagSet) error
}

// Default returns the built-in catalogue of common ingredients
func Default() ([]Entry, error) {
	return Parse(defaultCatalogue)
}

// LoadFile reads and parses a catalogue file
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Parse decodes a catalogue. Entries come back sorted by normalized name.
func Parse(data []byte) ([]Entry, error) {
	var raw map[string]map[string]int
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for name, values := range raw {
		normalized := types.NormalizeName(name)
		if normalized == "" {
			return nil, errors.New("catalogue contains an empty ingredient name")
		}
		if seen[normalized] {
			return nil, fmt.Errorf("ingredient %q appears more than once", normalized)
		}
		seen[normalized] = true

		flags := make(types.FlagSet, len(values))
		for key, v := range values {
			f, err := types.ParseFilter(key)
			if err != nil {
				return nil, fmt.Errorf("ingredient %q: %w", normalized, err)
			}
			flag, err := types.FlagFromInt(v)
			if err != nil {
				return nil, fmt.Errorf("ingredient %q, filter %s: %w", normalized, f, err)
			}
			flags[f] = flag
		}
		entries = append(entries, Entry{Name: normalized, Flags: flags})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Config holds configuration for Load
type Config struct {
	// Learner receives every entry. Required.
	Learner Learner

	// Concurrency bounds parallel Learn calls. If 0, uses 4.
	Concurrency int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result summarises a Load
type Result struct {
	Loaded int
	Failed int
}

// Load teaches every entry to the learner. A failing entry does not stop the
// others; all failures are returned joined. Cancelling ctx stops scheduling
// new entries.
func Load(ctx context.Context, cfg Config, entries []Entry) (Result, error) {
	if cfg.Learner == nil {
		return Result{}, errors.New("seed: Learner is required")
	}
	cfg.applyDefaults()

	var (
		loaded, failed atomic.Int64
		mu             sync.Mutex
		errs           []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, e := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := cfg.Learner.Learn(gctx, e.Name, e.Flags); err != nil {
				failed.Add(1)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
				mu.Unlock()
				cfg.Logger.Warn("failed to seed ingredient", "ingredient", e.Name, "error", err)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Loaded: int(loaded.Load()), Failed: int(failed.Load())}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	cfg.Logger.Info("seeded ingredients", "loaded", res.Loaded, "failed", res.Failed)
	return res, errors.Join(errs...)
}
