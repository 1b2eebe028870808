// Package jobs runs ingredient analyses in the background. Submissions go onto
// a bounded queue drained by a fixed worker pool; callers poll job snapshots.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FrenchMajesty/ingredient-filter/pkg/evaluator"
	"github.com/FrenchMajesty/ingredient-filter/pkg/resolver"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// Resolver turns one ingredient name into its flags
type Resolver interface {
	Resolve(ctx context.Context, name string) (resolver.Resolution, error)
}

// entry owns one job. Transitions happen under mu; readers only load snap.
type entry struct {
	mu     sync.Mutex
	snap   atomic.Pointer[Job]
	cancel context.CancelFunc

	// callerID is set when the id came from the request rather than uuid
	callerID bool
}

// Orchestrator owns the job table and the worker pool
type Orchestrator struct {
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time

	workers               int
	queueSize             int
	jobTimeout            time.Duration
	ingredientConcurrency int
	retention             RetentionPolicy

	jobs    sync.Map // id -> *entry
	retired sync.Map // caller-supplied ids of swept jobs
	queue   chan *entry

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	rejected atomic.Int64
}

// New creates an Orchestrator and starts its workers. r must not be nil.
func New(r Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:              r,
		logger:                slog.Default(),
		now:                   time.Now,
		workers:               defaultWorkers,
		queueSize:             defaultQueueSize,
		jobTimeout:            defaultJobTimeout,
		ingredientConcurrency: defaultIngredientConcurrency,
		retention:             KeepForever{},
	}
	for _, opt := range opts {
		opt(o)
	}

	o.queue = make(chan *entry, o.queueSize)
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())

	for i := range o.workers {
		o.wg.Add(1)
		go o.worker(i)
	}
	return o
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	o.logger.Debug("worker started", "worker_id", id)
	for e := range o.queue {
		o.run(e)
	}
	o.logger.Debug("worker stopped", "worker_id", id)
}

// Submit validates req, stores a pending job and queues it. It never waits for
// a worker.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filters, err := parseFilters(req.Filters)
	if err != nil {
		return "", err
	}
	if err := validateIngredients(req.Ingredients); err != nil {
		return "", err
	}

	id := strings.TrimSpace(req.ID)
	callerID := id != ""
	if !callerID {
		id = uuid.NewString()
	}
	if _, ok := o.retired.Load(id); ok {
		return "", ErrDuplicateJob
	}

	e := &entry{callerID: callerID}
	e.snap.Store(&Job{
		ID:          id,
		Status:      StatusPending,
		Ingredients: append([]string(nil), req.Ingredients...),
		Filters:     filters,
		CreatedAt:   o.now(),
	})

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return "", ErrShuttingDown
	}
	if _, loaded := o.jobs.LoadOrStore(id, e); loaded {
		return "", ErrDuplicateJob
	}
	if _, ok := o.retired.Load(id); ok {
		// swept between the first check and the store
		o.jobs.Delete(id)
		return "", ErrDuplicateJob
	}

	select {
	case o.queue <- e:
	default:
		o.jobs.Delete(id)
		o.rejected.Add(1)
		o.logger.Warn("job rejected, queue full", "job_id", id, "queue_size", o.queueSize)
		return "", ErrQueueFull
	}

	o.logger.Info("job submitted", "job_id", id,
		"ingredients", len(req.Ingredients), "filters", len(filters))
	return id, nil
}

func parseFilters(raw []string) ([]types.Filter, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Field: "filters", Reason: "at least one filter is required"}
	}
	seen := make(map[types.Filter]bool, len(raw))
	out := make([]types.Filter, 0, len(raw))
	for _, name := range raw {
		f, err := types.ParseFilter(name)
		if err != nil {
			return nil, &ValidationError{Field: "filters", Reason: err.Error()}
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

func validateIngredients(ingredients []string) error {
	for _, ing := range ingredients {
		if types.NormalizeName(ing) != "" {
			return nil
		}
	}
	return &ValidationError{Field: "ingredients", Reason: "at least one non-blank ingredient is required"}
}

// run moves one job through analyzing to a terminal state
func (o *Orchestrator) run(e *entry) {
	e.mu.Lock()
	job := e.snap.Load()
	if job.Status.Terminal() {
		// aborted while queued
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(o.baseCtx, o.jobTimeout)
	e.cancel = cancel
	started := *job
	started.Status = StatusAnalyzing
	started.StartedAt = o.now()
	e.snap.Store(&started)
	e.mu.Unlock()
	defer cancel()

	o.logger.Info("job started", "job_id", job.ID)

	verdict, err := o.analyze(ctx, &started)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", o.jobTimeout, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel = nil

	cur := e.snap.Load()
	if cur.Status.Terminal() {
		// aborted mid-flight; partial work is discarded
		return
	}

	final := *cur
	final.FinishedAt = o.now()
	if err != nil {
		execErr := &ExecutionError{JobID: cur.ID, Cause: err}
		final.Status = StatusError
		final.Error = execErr.Cause.Error()
		o.logger.Warn("job failed", "job_id", cur.ID, "error", execErr)
	} else {
		final.Status = StatusComplete
		final.Results = verdict.Results
		final.Failing = verdict.Failing
		o.logger.Info("job completed", "job_id", cur.ID,
			"duration", final.FinishedAt.Sub(cur.StartedAt))
	}
	e.snap.Store(&final)
}

// analyze resolves every distinct ingredient once, then evaluates the job's
// filters over the original ingredient list
func (o *Orchestrator) analyze(ctx context.Context, job *Job) (_ evaluator.Verdict, err error) {
	defer o.recoverPanic(job.ID, &err)

	names := uniqueNames(job.Ingredients)
	flags := make(map[string]types.FlagSet, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.ingredientConcurrency)
	for _, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			defer o.recoverPanic(job.ID, &err)

			res, err := o.resolver.Resolve(gctx, name)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", name, err)
			}
			mu.Lock()
			flags[name] = res.Record.Flags
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return evaluator.Verdict{}, err
	}
	if err := ctx.Err(); err != nil {
		return evaluator.Verdict{}, err
	}

	items := make([]evaluator.Item, 0, len(job.Ingredients))
	for _, ing := range job.Ingredients {
		key := types.NormalizeName(ing)
		if key == "" {
			continue
		}
		items = append(items, evaluator.Item{Ingredient: ing, Flags: flags[key]})
	}
	return evaluator.Evaluate(items, job.Filters), nil
}

// recoverPanic turns a panic in the current goroutine into *err so the job
// fails instead of the process
func (o *Orchestrator) recoverPanic(jobID string, err *error) {
	if p := recover(); p != nil {
		o.logger.Error("job panicked", "job_id", jobID, "panic", p, "stack", string(debug.Stack()))
		*err = fmt.Errorf("panic: %v", p)
	}
}

// uniqueNames normalizes ingredients and drops blanks and repeats, keeping
// first-seen order
func uniqueNames(ingredients []string) []string {
	seen := make(map[string]bool, len(ingredients))
	out := make([]string, 0, len(ingredients))
	for _, ing := range ingredients {
		name := types.NormalizeName(ing)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (o *Orchestrator) lookup(id string) (*entry, bool) {
	v, ok := o.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Get returns the current snapshot of a job
func (o *Orchestrator) Get(id string) (Job, error) {
	e, ok := o.lookup(id)
	if !ok {
		return Job{}, ErrNotFound
	}
	return e.snap.Load().clone(), nil
}

// Abort ends a pending or analysing job with an error. Terminal jobs are left
// as they are.
func (o *Orchestrator) Abort(id string) error {
	e, ok := o.lookup(id)
	if !ok {
		return ErrNotFound
	}
	if o.fail(e, errAborted) {
		o.logger.Info("job aborted", "job_id", id)
	}
	return nil
}

// fail publishes an error snapshot unless the job already finished, and
// cancels its running work. It reports whether the job changed.
func (o *Orchestrator) fail(e *entry, cause error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	if cur.Status.Terminal() {
		return false
	}
	failed := *cur
	failed.Status = StatusError
	failed.Error = cause.Error()
	failed.FinishedAt = o.now()
	e.snap.Store(&failed)

	if e.cancel != nil {
		e.cancel()
	}
	return true
}

// Shutdown stops intake, aborts every unfinished job and waits for the
// workers to drain or ctx to end
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	aborted := 0
	o.jobs.Range(func(_, v any) bool {
		if o.fail(v.(*entry), errAborted) {
			aborted++
		}
		return true
	})
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("job orchestrator stopped", "aborted", aborted)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep drops terminal jobs the retention policy considers expired and
// returns how many were removed. Caller-supplied ids of swept jobs stay
// reserved so they are never given to a new job.
func (o *Orchestrator) Sweep(now time.Time) int {
	removed := 0
	o.jobs.Range(func(k, v any) bool {
		e := v.(*entry)
		job := e.snap.Load()
		if job.Status.Terminal() && o.retention.Expired(*job, now) {
			if e.callerID {
				o.retired.Store(k, struct{}{})
			}
			if o.jobs.CompareAndDelete(k, v) {
				removed++
			}
		}
		return true
	})
	return removed
}

// StartSweeper runs Sweep every interval until ctx ends or the orchestrator
// shuts down. A non-positive interval disables it.
func (o *Orchestrator) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.baseCtx.Done():
				return
			case <-ticker.C:
				if n := o.Sweep(o.now()); n > 0 {
					o.logger.Info("swept expired jobs", "removed", n)
				}
			}
		}
	}()
}

// Stats counts jobs by status
func (o *Orchestrator) Stats() Stats {
	var s Stats
	o.jobs.Range(func(_, v any) bool {
		switch v.(*entry).snap.Load().Status {
		case StatusPending:
			s.Pending++
		case StatusAnalyzing:
			s.Analyzing++
		case StatusComplete:
			s.Complete++
		case StatusError:
			s.Error++
		}
		return true
	})
	s.QueueDepth = len(o.queue)
	s.Rejected = o.rejected.Load()
	return s
}
