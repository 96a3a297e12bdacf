// Package importer owns the import job lifecycle. An Orchestrator runs one
// dedicated goroutine that executes submitted jobs sequentially: it expands
// each manifest into a dependency plan, drives the plan through the
// dispatcher, flushes cooked bytes, and delivers caller callbacks. All
// callbacks fire on the dedicated goroutine, never on the submitter's.
package importer
