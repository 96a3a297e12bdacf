// Package plan builds the typed dependency graph an import job executes.
//
// A Planner accumulates plan items (textures, buffers, materials, mesh
// builds, geometry, scenes) and consumer→producer dependency edges, then
// MakePlan seals it and returns a deterministic topological order: items
// with no relative dependency ordering keep their registration order. Cycles
// and mutation after sealing are programmer errors and panic.
//
// Per-item readiness trackers flip to ready exactly once, when the last
// pending producer completes, and expose a one-shot channel for waiting.
package plan
