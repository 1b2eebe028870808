package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every *ValidationError
	ErrValidation = errors.New("invalid analysis request")

	// ErrNotFound is returned for job ids the orchestrator does not know
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when a caller-supplied id is already taken
	ErrDuplicateJob = errors.New("job id already exists")

	// ErrQueueFull is returned when the submission queue has no free slot
	ErrQueueFull = errors.New("job queue is full")

	// ErrShuttingDown is returned by Submit after Shutdown
	ErrShuttingDown = errors.New("orchestrator is shutting down")

	errAborted = errors.New("job aborted")
)

// ValidationError describes why a request was rejected before a job existed
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ExecutionError wraps whatever stopped a job in the background. Its cause's
// message is what the job reports as Error.
type ExecutionError struct {
	JobID string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.JobID, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
