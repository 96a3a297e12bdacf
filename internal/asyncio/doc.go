// Package asyncio provides cancellable, offset-addressed asynchronous file
// writes with aggregated flush and error semantics.
//
// A Writer runs a fixed number of concurrent file operations. Asynchronous
// variants take a completion callback; the pending-operation counter is
// incremented before an operation is issued and decremented only after its
// callback returns, so Flush also waits for follow-up writes scheduled from
// inside completion callbacks. Flush returns the first error recorded since
// construction or the last successful flush, then clears it.
//
// CancelAll is cooperative: operations started afterwards fail immediately
// with a cancelled error while in-flight operations complete normally.
//
// OS errors are mapped to a fixed taxonomy (ErrNotFound, ErrDiskFull, ...)
// so callers can branch on failure class without inspecting errno values.
package asyncio
