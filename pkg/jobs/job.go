package jobs

import (
	"time"

	"github.com/FrenchMajesty/ingredient-filter/pkg/evaluator"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition can happen
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Request is what a caller submits for analysis
type Request struct {
	// ID is optional; a random one is generated when empty
	ID          string
	Ingredients []string
	Filters     []string
}

// Job is an immutable snapshot of one analysis. Results and Failing are set only
// once the job is complete, Error only once it failed.
type Job struct {
	ID          string                             `json:"job_id"`
	Status      Status                             `json:"status"`
	Ingredients []string                           `json:"ingredients"`
	Filters     []types.Filter                     `json:"filters"`
	Results     map[types.Filter]evaluator.Outcome `json:"results,omitempty"`
	Failing     map[types.Filter][]string          `json:"failing,omitempty"`
	Error       string                             `json:"error,omitempty"`
	CreatedAt   time.Time                          `json:"created_at"`
	StartedAt   time.Time                          `json:"started_at,omitzero"`
	FinishedAt  time.Time                          `json:"finished_at,omitzero"`
}

// clone copies the slices and maps so callers cannot reach into the published snapshot
func (j Job) clone() Job {
	out := j
	out.Ingredients = append([]string(nil), j.Ingredients...)
	out.Filters = append([]types.Filter(nil), j.Filters...)
	if j.Results != nil {
		out.Results = make(map[types.Filter]evaluator.Outcome, len(j.Results))
		for k, v := range j.Results {
			out.Results[k] = v
		}
	}
	if j.Failing != nil {
		out.Failing = make(map[types.Filter][]string, len(j.Failing))
		for k, v := range j.Failing {
			out.Failing[k] = append([]string{}, v...)
		}
	}
	return out
}

// Stats counts jobs by status
type Stats struct {
	Pending    int
	Analyzing  int
	Complete   int
	Error      int
	QueueDepth int

	// Rejected counts submissions turned away because the queue was full
	Rejected int64
}
