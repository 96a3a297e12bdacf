// Package cook implements the per-kind cooking operations the pipeline
// stages run: texture, buffer, material, mesh-build, geometry, and scene.
//
// Each cooker implements the stage Cooker contract for the shared
// WorkItem/WorkResult pair and is registered into a kind→cooker map at
// planner setup. Cookers never panic across the stage boundary: validation
// and decode failures come back as failed results carrying diagnostics, and
// a missing dependency degrades to the fallback resource while still
// emitting partial output.
//
// Resource payloads (texture and buffer bytes) flow through the
// content-addressed aggregator into the shared data files; asset descriptors
// (materials, geometry, scenes) are written as individual files under the
// output root.
package cook
