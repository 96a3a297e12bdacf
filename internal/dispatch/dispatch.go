// Package dispatch drives a sealed plan through per-kind pipeline stages.
// It releases items as their dependencies become ready, records results for
// downstream consumers, and aggregates diagnostics and progress.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"kiln/internal/cook"
	"kiln/internal/logging"
	"kiln/internal/pipeline"
	"kiln/internal/plan"
)

// WorkStage is the pipeline instantiation every cooking kind runs on.
type WorkStage = pipeline.Stage[cook.WorkItem, cook.WorkResult]

// Options tunes one dispatch run.
type Options struct {
	// ProgressStart and ProgressEnd scale the completion fraction into a
	// sub-range so a parent job can combine phases into one bar. A zero
	// ProgressEnd means the full [0, 1] range.
	ProgressStart float64
	ProgressEnd   float64
	// OnProgress receives the scaled fraction after every collected
	// result. Invocations are delivered in order from a single forwarder
	// goroutine, never concurrently.
	OnProgress func(fraction float64)
}

// Summary aggregates one dispatch run's results.
type Summary struct {
	Results     []cook.WorkResult
	Diagnostics []cook.Diagnostic
	Submitted   int
	Completed   int
	Failed      int
	Cancelled   int
	// Stopped reports that cancellation prevented some plan items from
	// being submitted.
	Stopped bool
}

// Success reports whether every plan item was submitted and cooked without
// error diagnostics.
func (s Summary) Success() bool {
	return !s.Stopped && s.Failed == 0 && s.Cancelled == 0
}

// Dispatcher executes sealed plans over a fixed set of stages.
type Dispatcher struct {
	env    *cook.Environment
	stages map[plan.Kind]*WorkStage
	logger *slog.Logger
}

// New builds a dispatcher with one stage per cooking kind. Kinds absent
// from configs run with the zero config's defaults.
func New(env *cook.Environment, configs map[plan.Kind]pipeline.Config, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		env:    env,
		stages: make(map[plan.Kind]*WorkStage),
		logger: logging.NewComponentLogger(logger, "dispatch"),
	}
	for kind, cooker := range cook.Cookers(env) {
		d.stages[kind] = pipeline.New[cook.WorkItem, cook.WorkResult](kind.String(), configs[kind], cooker, logger)
	}
	return d
}

// Stage exposes one kind's stage, mainly for progress queries.
func (d *Dispatcher) Stage(kind plan.Kind) *WorkStage {
	return d.stages[kind]
}

// Run walks the sealed plan in order, waits for each item's readiness,
// submits it to its kind's stage, and collects completions until the plan
// drains. Cancellation is checked at every submission boundary; once
// triggered no new items are submitted and in-flight items finish.
func (d *Dispatcher) Run(ctx context.Context, planner *plan.Planner, opts Options) Summary {
	steps := planner.Steps()
	total := len(steps)
	if opts.ProgressEnd <= opts.ProgressStart {
		opts.ProgressStart, opts.ProgressEnd = 0, 1
	}

	for _, stage := range d.stages {
		stage.Start()
	}

	var (
		mu      sync.Mutex
		summary Summary
		wg      sync.WaitGroup
	)

	// Collectors run per stage, so progress is funneled through one
	// forwarder goroutine to keep OnProgress invocations serialized. The
	// channel holds one slot per plan item; sends never block.
	var progressCh chan struct{}
	var progressWG sync.WaitGroup
	if opts.OnProgress != nil && total > 0 {
		progressCh = make(chan struct{}, total)
		progressWG.Add(1)
		go func() {
			defer progressWG.Done()
			done := 0
			for range progressCh {
				done++
				fraction := opts.ProgressStart + (opts.ProgressEnd-opts.ProgressStart)*float64(done)/float64(total)
				opts.OnProgress(fraction)
			}
		}()
	}
	for _, stage := range d.stages {
		wg.Add(1)
		go func(stage *WorkStage) {
			defer wg.Done()
			for {
				// Collection must outlive ctx so in-flight items drain
				// after cancellation.
				result, ok := stage.Collect(context.Background())
				if !ok {
					return
				}
				d.env.Registry.Record(result)
				for _, dependent := range planner.Dependents(result.ID) {
					planner.Tracker(dependent).MarkReady(result.ID)
				}

				mu.Lock()
				summary.Results = append(summary.Results, result)
				summary.Diagnostics = append(summary.Diagnostics, result.Diagnostics...)
				switch {
				case result.Cancelled:
					summary.Cancelled++
				case result.Failed():
					summary.Failed++
				default:
					summary.Completed++
				}
				mu.Unlock()

				if progressCh != nil {
					progressCh <- struct{}{}
				}
			}
		}(stage)
	}

	submitted := 0
	stopped := false
submission:
	for _, step := range steps {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		select {
		case <-planner.ReadyEvent(step.ID):
		case <-ctx.Done():
			stopped = true
			break submission
		}
		stage := d.stages[step.Kind]
		if err := stage.Submit(ctx, cook.WorkItem{Step: step}); err != nil {
			d.logger.Warn("submission stopped",
				logging.String(logging.FieldItem, step.Name),
				logging.String(logging.FieldKind, step.Kind.String()),
				logging.Error(err),
			)
			stopped = true
			break
		}
		submitted++
	}

	for _, stage := range d.stages {
		stage.Close()
	}
	wg.Wait()
	if progressCh != nil {
		close(progressCh)
		progressWG.Wait()
	}

	summary.Submitted = submitted
	summary.Stopped = stopped
	d.logger.Info("plan drained",
		logging.Int("submitted", summary.Submitted),
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.Int("cancelled", summary.Cancelled),
	)
	return summary
}
