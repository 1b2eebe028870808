package jobs

import (
	"log/slog"
	"time"
)

const (
	defaultWorkers               = 4
	defaultQueueSize             = 256
	defaultJobTimeout            = 3 * time.Minute
	defaultIngredientConcurrency = 8
)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithWorkers sets how many jobs run at once
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets how many submitted jobs may wait for a worker
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithJobTimeout bounds the time one job may spend analysing
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithIngredientConcurrency bounds how many ingredients of a single job are
// resolved in parallel
func WithIngredientConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.ingredientConcurrency = n
		}
	}
}

// WithRetention sets the policy applied by Sweep
func WithRetention(p RetentionPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.retention = p
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
