package resolver

import (
	"errors"
	"fmt"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

var (
	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("resolver is shutting down")

	// ErrEmptyName is returned for names that normalize to nothing
	ErrEmptyName = errors.New("cannot resolve empty ingredient name")
)

// Resolution is the outcome of resolving one ingredient name
type Resolution struct {
	// Record holds the flags used for evaluation. For inferred resolutions it
	// carries the neighbour's flags under the queried name.
	Record types.IngredientRecord

	// Source says which tier answered
	Source types.Source

	// MatchedName is the neighbour whose flags were borrowed; set only when inferred
	MatchedName string

	// Score is the similarity of the neighbour; 0 unless inferred
	Score float32
}

// Metrics provides statistics about resolution outcomes
type Metrics struct {
	TotalResolutions int64
	ExactHits        int64
	InferredHits     int64
	Classified       int64

	// Fallbacks counts classifications that failed and were stored as all-fail
	Fallbacks int64

	// Errors counts resolutions that returned an error to the caller
	Errors int64

	// CacheHitRate is the percentage of resolutions answered without the classifier
	CacheHitRate float32
}

// ClassificationError reports a classifier failure or an answer that does not
// cover the filter space. The resolver absorbs it by storing an all-fail record.
type ClassificationError struct {
	Name  string
	Cause error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification of %q failed: %v", e.Name, e.Cause)
}

func (e *ClassificationError) Unwrap() error {
	return e.Cause
}
