package asyncio

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"kiln/internal/logging"
)

// Options controls how a write opens its target file.
type Options struct {
	// CreateDirectories creates missing parent directories.
	CreateDirectories bool
	// Overwrite selects create-always semantics for whole-file writes.
	// When false, writing to an existing path fails with already_exists.
	Overwrite bool
	// ShareWrite allows other concurrent non-overlapping writers on the
	// same path. Offset writes to disjoint pre-reserved ranges rely on it.
	ShareWrite bool
}

// Writer performs cancellable asynchronous file writes with a bounded number
// of concurrent operations.
type Writer struct {
	logger *slog.Logger
	sem    chan struct{}

	pending   atomic.Int64
	cancelled atomic.Bool
	closed    atomic.Bool

	errMu    sync.Mutex
	firstErr error

	wg sync.WaitGroup
}

// NewWriter constructs a Writer running at most maxConcurrent simultaneous
// file operations.
func NewWriter(maxConcurrent int, logger *slog.Logger) *Writer {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Writer{
		logger: logging.NewComponentLogger(logger, "asyncio"),
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Write writes data as the full content of path and waits for completion.
func (w *Writer) Write(path string, data []byte, opts Options) error {
	done := make(chan error, 1)
	w.WriteAsync(path, data, opts, func(err error) { done <- err })
	return <-done
}

// WriteAt writes data at offset without truncating and waits for completion.
func (w *Writer) WriteAt(path string, offset int64, data []byte, opts Options) error {
	done := make(chan error, 1)
	w.WriteAtAsync(path, offset, data, opts, func(err error) { done <- err })
	return <-done
}

// WriteAsync schedules a full-file write. The callback runs exactly once,
// from a writer goroutine, with the operation's result.
func (w *Writer) WriteAsync(path string, data []byte, opts Options, callback func(error)) {
	w.start(path, callback, func() error {
		return w.writeWhole(path, data, opts)
	})
}

// WriteAtAsync schedules an offset write that preserves bytes outside the
// written range.
func (w *Writer) WriteAtAsync(path string, offset int64, data []byte, opts Options, callback func(error)) {
	w.start(path, callback, func() error {
		return w.writeAt(path, offset, data, opts)
	})
}

func (w *Writer) start(path string, callback func(error), op func() error) {
	// Pending is incremented before the operation is issued so a Flush
	// racing with submission cannot observe zero early.
	w.pending.Add(1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		var err error
		if w.cancelled.Load() {
			err = wrapError("write", path, ErrCancelled)
		} else {
			w.sem <- struct{}{}
			err = op()
			<-w.sem
		}
		if err != nil {
			w.recordError(err)
		}
		if callback != nil {
			callback(err)
		}
		// Decrement only after the callback so Flush also covers writes the
		// callback scheduled.
		w.pending.Add(-1)
	}()
}

func (w *Writer) writeWhole(path string, data []byte, opts Options) error {
	file, err := w.open(path, opts, true)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return wrapError("write", path, err)
	}
	if err := file.Close(); err != nil {
		return wrapError("close", path, err)
	}
	return nil
}

func (w *Writer) writeAt(path string, offset int64, data []byte, opts Options) error {
	file, err := w.open(path, opts, false)
	if err != nil {
		return err
	}
	if _, err := file.WriteAt(data, offset); err != nil {
		_ = file.Close()
		return wrapError("write_at", path, err)
	}
	if err := file.Close(); err != nil {
		return wrapError("close", path, err)
	}
	return nil
}

func (w *Writer) open(path string, opts Options, truncate bool) (*os.File, error) {
	if opts.CreateDirectories {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, wrapError("mkdir", dir, err)
			}
		}
	}
	flags := os.O_CREATE | os.O_WRONLY
	if opts.Overwrite {
		if truncate {
			flags |= os.O_TRUNC
		}
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, wrapError("open", path, err)
	}
	return file, nil
}

func (w *Writer) recordError(err error) {
	w.errMu.Lock()
	if w.firstErr == nil {
		w.firstErr = err
	}
	w.errMu.Unlock()
	w.logger.Debug("file operation failed", logging.Error(err))
}

// Flush waits until every operation started before the call (including
// callback-scheduled follow-ups) has completed, then returns and clears the
// first error recorded since construction or the last successful flush.
func (w *Writer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Microsecond)
	defer ticker.Stop()
	for w.pending.Load() != 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	w.errMu.Lock()
	err := w.firstErr
	w.firstErr = nil
	w.errMu.Unlock()
	return err
}

// CancelAll makes all subsequently started operations fail with a cancelled
// error. In-flight operations complete normally.
func (w *Writer) CancelAll() {
	w.cancelled.Store(true)
}

// PendingOperations reports the number of operations not yet completed.
func (w *Writer) PendingOperations() int64 {
	return w.pending.Load()
}

// Close waits for all outstanding operations. The writer must not be used
// afterwards.
func (w *Writer) Close() {
	if w.closed.Swap(true) {
		return
	}
	w.wg.Wait()
}
