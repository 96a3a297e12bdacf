// Package logging assembles structured slog loggers and formatting helpers
// used across kiln components.
//
// It owns the configurable console/JSON handlers, centralizes level and
// output plumbing, and defines the standardized field keys (job IDs, plan
// item names, correlation IDs) so every component emits log lines with the
// same shape. The package also provides a no-op logger for tests and wiring
// code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup.
package logging
