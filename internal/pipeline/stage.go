package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"kiln/internal/logging"
)

// ErrClosed is returned by Submit when the stage no longer accepts items.
var ErrClosed = errors.New("pipeline stage closed")

// Outcome is the minimal contract a stage result must satisfy so the stage
// can maintain its failure counter.
type Outcome interface {
	Failed() bool
}

// Cooker performs the per-kind cooking operation for one work item.
type Cooker[I any, R Outcome] interface {
	// Cook converts one work item into its result. Implementations return
	// failures inside R; they do not panic across the stage boundary.
	Cook(ctx context.Context, item I) R
	// Cancelled builds the result for an item whose cancellation fired
	// before any work was done.
	Cancelled(item I) R
}

// Config sizes a stage.
type Config struct {
	Workers       int
	QueueCapacity int
}

// Progress is a snapshot of a stage's counters.
type Progress struct {
	Submitted int64
	Completed int64
	Failed    int64
	InFlight  int64
}

type stageItem[I any] struct {
	ctx  context.Context
	item I
}

// Stage is a fixed-worker-pool cooking engine for one item kind.
type Stage[I any, R Outcome] struct {
	name   string
	cooker Cooker[I, R]
	logger *slog.Logger

	in      chan stageItem[I]
	out     chan R
	workers int

	// mu makes accept and close atomic: submitters hold the read lock for
	// the whole enqueue, so Close cannot close the input queue under a
	// send that was already accepted.
	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64

	closeOnce sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a stage. Start must be called before Submit.
func New[I any, R Outcome](name string, cfg Config, cooker Cooker[I, R], logger *slog.Logger) *Stage[I, R] {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 1
	}
	return &Stage[I, R]{
		name:    name,
		cooker:  cooker,
		logger:  logging.NewComponentLogger(logger, "stage."+name),
		in:      make(chan stageItem[I], capacity),
		out:     make(chan R, capacity),
		workers: workers,
	}
}

// Start launches the worker pool. Idempotent.
func (s *Stage[I, R]) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(s.workers)
		for i := 0; i < s.workers; i++ {
			go s.worker()
		}
		go func() {
			s.wg.Wait()
			close(s.out)
		}()
		s.logger.Debug("stage started", logging.Int("workers", s.workers))
	})
}

// Submit enqueues an item, blocking while the input queue is full. The
// context doubles as the item's cancellation token. Once Submit returns
// nil the item is guaranteed a result.
func (s *Stage[I, R]) Submit(ctx context.Context, item I) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.in <- stageItem[I]{ctx: ctx, item: item}:
		s.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues an item without blocking. It reports false when the
// queue is full or the stage is closed.
func (s *Stage[I, R]) TrySubmit(ctx context.Context, item I) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.in <- stageItem[I]{ctx: ctx, item: item}:
		s.submitted.Add(1)
		return true
	default:
		return false
	}
}

// Collect blocks until one result is available. It reports false once the
// stage has closed and drained, or when ctx is cancelled.
func (s *Stage[I, R]) Collect(ctx context.Context) (R, bool) {
	select {
	case result, ok := <-s.out:
		return result, ok
	case <-ctx.Done():
		var zero R
		return zero, false
	}
}

// Close stops accepting new items and closes the input queue once every
// in-flight Submit has landed. Workers drain the queue, then the output
// queue closes; every accepted item still yields its result.
func (s *Stage[I, R]) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.in)
		s.mu.Unlock()
	})
}

// Progress returns a lock-free snapshot of the stage counters.
func (s *Stage[I, R]) Progress() Progress {
	return Progress{
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		InFlight:  s.inFlight.Load(),
	}
}

// Name returns the stage name used for logging.
func (s *Stage[I, R]) Name() string { return s.name }

func (s *Stage[I, R]) worker() {
	defer s.wg.Done()
	for entry := range s.in {
		s.process(entry)
	}
}

func (s *Stage[I, R]) process(entry stageItem[I]) {
	s.inFlight.Add(1)
	var result R
	if entry.ctx != nil && entry.ctx.Err() != nil {
		result = s.cooker.Cancelled(entry.item)
	} else {
		ctx := entry.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		result = s.cooker.Cook(ctx, entry.item)
	}
	if result.Failed() {
		s.failed.Add(1)
	}
	s.completed.Add(1)
	s.inFlight.Add(-1)
	s.out <- result
}
