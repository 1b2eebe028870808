// Package benchmark measures how well the resolver reproduces a labelled
// catalogue. Part of the catalogue is taught as exact records; the rest is
// resolved cold and compared filter by filter against its labels.
package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/seed"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

const defaultHoldoutEvery = 3

// Resolver is what a benchmark run drives
type Resolver interface {
	seed.Learner
	Resolve(ctx context.Context, name string) (resolver.Resolution, error)
}

// Config holds configuration for Run
type Config struct {
	Resolver Resolver
	Dataset  []seed.Entry

	// HoldoutEvery holds out every Nth entry (by position) for resolution; the
	// rest are learned first. If 0, uses 3.
	HoldoutEvery int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.HoldoutEvery <= 0 {
		c.HoldoutEvery = defaultHoldoutEvery
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the outcome for one held-out ingredient
type Result struct {
	Ingredient  string         `json:"ingredient"`
	Source      types.Source   `json:"source"`
	MatchedName string         `json:"matched_name,omitempty"`
	Score       float32        `json:"score,omitempty"`
	Latency     time.Duration  `json:"latency"`
	Mismatched  []types.Filter `json:"mismatched,omitempty"`
}

// Metrics summarises a run
type Metrics struct {
	TotalDuration time.Duration `json:"total_duration"`
	Learned       int           `json:"learned"`
	HeldOut       int           `json:"held_out"`

	// TierCounts counts held-out ingredients by the tier that answered
	TierCounts map[types.Source]int `json:"tier_counts"`

	// FilterAccuracy is the share of held-out ingredients whose flag matched the label
	FilterAccuracy map[types.Filter]float64 `json:"filter_accuracy"`

	// FalsePasses counts labelled fails that came back as pass; the costly error
	FalsePasses int `json:"false_passes"`
	FalseFails  int `json:"false_fails"`

	LatencyP50 time.Duration `json:"latency_p50"`
	LatencyP95 time.Duration `json:"latency_p95"`

	Results []Result `json:"results"`
}

// Run teaches the learned split, resolves the held-out split one by one and
// scores the answers
func Run(ctx context.Context, cfg Config) (Metrics, error) {
	if cfg.Resolver == nil {
		return Metrics{}, errors.New("benchmark: Resolver is required")
	}
	if len(cfg.Dataset) == 0 {
		return Metrics{}, errors.New("benchmark: dataset is empty")
	}
	cfg.applyDefaults()

	learn, holdout := split(cfg.Dataset, cfg.HoldoutEvery)
	start := time.Now()

	if _, err := seed.Load(ctx, seed.Config{Learner: cfg.Resolver, Logger: cfg.Logger}, learn); err != nil {
		return Metrics{}, fmt.Errorf("failed to learn known split: %w", err)
	}
	cfg.Logger.Info("learned known split", "count", len(learn))

	m := Metrics{
		Learned:        len(learn),
		HeldOut:        len(holdout),
		TierCounts:     make(map[types.Source]int),
		FilterAccuracy: make(map[types.Filter]float64),
	}
	correct := make(map[types.Filter]int)
	latencies := make([]time.Duration, 0, len(holdout))

	for _, entry := range holdout {
		t0 := time.Now()
		res, err := cfg.Resolver.Resolve(ctx, entry.Name)
		if err != nil {
			return m, fmt.Errorf("resolve %q: %w", entry.Name, err)
		}
		latency := time.Since(t0)
		latencies = append(latencies, latency)

		r := Result{
			Ingredient:  entry.Name,
			Source:      res.Source,
			MatchedName: res.MatchedName,
			Score:       res.Score,
			Latency:     latency,
		}
		m.TierCounts[res.Source]++

		for _, f := range types.AllFilters {
			want := entry.Flags.Get(f)
			if want == types.FlagUnknown {
				continue
			}
			got := res.Record.Flags.Get(f)
			if got == want {
				correct[f]++
				continue
			}
			r.Mismatched = append(r.Mismatched, f)
			switch {
			case want == types.FlagFail && got != types.FlagFail:
				m.FalsePasses++
			case want == types.FlagPass && got == types.FlagFail:
				m.FalseFails++
			}
		}
		m.Results = append(m.Results, r)
	}

	for _, f := range types.AllFilters {
		labelled := 0
		for _, entry := range holdout {
			if entry.Flags.Get(f) != types.FlagUnknown {
				labelled++
			}
		}
		if labelled > 0 {
			m.FilterAccuracy[f] = float64(correct[f]) / float64(labelled)
		}
	}

	m.LatencyP50 = percentile(latencies, 50)
	m.LatencyP95 = percentile(latencies, 95)
	m.TotalDuration = time.Since(start)
	return m, nil
}

func split(dataset []seed.Entry, every int) (learn, holdout []seed.Entry) {
	for i, e := range dataset {
		if i%every == every-1 {
			holdout = append(holdout, e)
		} else {
			learn = append(learn, e)
		}
	}
	return learn, holdout
}

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

// SaveMetricsToFile writes m as JSON into dir and returns the file path
func SaveMetricsToFile(dir string, m Metrics) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	random := uuid.New().String()[:8]
	path := filepath.Join(dir, fmt.Sprintf("metrics_%s_%s.json", timestamp, random))

	jsonData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", err
	}
	return path, nil
}
