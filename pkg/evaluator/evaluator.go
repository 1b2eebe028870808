// Package evaluator folds per-ingredient flags into a per-filter verdict.
package evaluator

import (
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// Outcome is the verdict for one filter
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
)

// Item is one ingredient as submitted, with its resolved flags
type Item struct {
	Ingredient string
	Flags      types.FlagSet
}

// Verdict holds one outcome per requested filter and, for each filter, the
// ingredients that failed it in input order. Results[f] is Fail exactly when
// Failing[f] is non-empty.
type Verdict struct {
	Results map[types.Filter]Outcome  `json:"results"`
	Failing map[types.Filter][]string `json:"failing"`
}

// Evaluate applies every filter to every item. Only FlagFail fails a filter;
// FlagUnknown is treated as passing.
func Evaluate(items []Item, filters []types.Filter) Verdict {
	v := Verdict{
		Results: make(map[types.Filter]Outcome, len(filters)),
		Failing: make(map[types.Filter][]string, len(filters)),
	}
	for _, f := range filters {
		v.Results[f] = Pass
		v.Failing[f] = []string{}
	}

	for _, item := range items {
		for _, f := range filters {
			if item.Flags.Get(f) == types.FlagFail {
				v.Results[f] = Fail
				v.Failing[f] = append(v.Failing[f], item.Ingredient)
			}
		}
	}
	return v
}
