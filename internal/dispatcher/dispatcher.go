// Package dispatcher fans a run's candidates out to a pool of workers and gathers the reports in feed order.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/digest"
	"github.com/JakeFAU/topic-digest/internal/queue/memory"
)

// DefaultConcurrency is the pool size used when none is configured.
const DefaultConcurrency = 4

// Runner consumes work items from a queue until it is drained.
type Runner interface {
	Run(ctx context.Context, queue digest.Queue, emit func(digest.ItemReport))
}

// Dispatcher runs a fixed number of workers per run.
type Dispatcher struct {
	worker      Runner
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher. concurrency 1 processes candidates strictly in sequence.
func New(worker Runner, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		worker:      worker,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Dispatch processes candidates and returns one report per candidate, indexed by feed position.
// observe, when non-nil, is called from worker goroutines as each report completes.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	runID string,
	candidates []digest.Candidate,
	observe func(digest.ItemReport),
) []digest.ItemReport {
	reports := make([]digest.ItemReport, len(candidates))
	for i, c := range candidates {
		reports[i] = digest.ItemReport{Index: i, Candidate: c, Resolved: c.Link, Extract: digest.ExtractSkipped}
	}
	if len(candidates) == 0 || ctx.Err() != nil {
		return reports
	}

	queue := memory.NewQueue(len(candidates))
	for i, c := range candidates {
		if err := queue.Enqueue(ctx, digest.WorkItem{RunID: runID, Index: i, Candidate: c}); err != nil {
			d.logger.Warn("enqueue failed", zap.String("run_id", runID), zap.Int("index", i), zap.Error(err))
			break
		}
	}
	queue.Close()

	workers := d.concurrency
	if workers > len(candidates) {
		workers = len(candidates)
	}
	d.logger.Debug("dispatching candidates",
		zap.String("run_id", runID),
		zap.Int("queued", queue.Len()),
		zap.Int("workers", workers),
	)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	emit := func(r digest.ItemReport) {
		if r.Index < 0 || r.Index >= len(reports) {
			d.logger.Error("report index out of range", zap.String("run_id", runID), zap.Int("index", r.Index))
			return
		}
		mu.Lock()
		reports[r.Index] = r
		mu.Unlock()
		if observe != nil {
			observe(r)
		}
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker.Run(ctx, queue, emit)
		}()
	}
	wg.Wait()
	return reports
}
