package cook

import (
	"context"
	"sync"

	"kiln/internal/cas"
	"kiln/internal/plan"
)

// Cooker is the capability contract one cooking kind implements. It is the
// concrete instantiation of the pipeline stage's cooker for kiln's shared
// work item/result pair.
type Cooker interface {
	Cook(ctx context.Context, item WorkItem) WorkResult
	Cancelled(item WorkItem) WorkResult
}

// base provides the shared cancelled-result behavior.
type base struct{}

func (base) Cancelled(item WorkItem) WorkResult {
	return cancelledResult(item)
}

// WorkItem is the input side of one plan item's cooking operation.
type WorkItem struct {
	Step plan.Step
}

// WorkResult is the cooked output for one plan item.
type WorkResult struct {
	ID   plan.ItemID
	Kind plan.Kind
	Name string

	Success   bool
	Cancelled bool

	// ResourceIndex is the emitted table index for resource kinds
	// (texture, buffer); -1 otherwise.
	ResourceIndex int
	// Signature is the content signature for resource kinds.
	Signature cas.Signature
	// OutputPath is the descriptor file for asset kinds (material,
	// geometry, scene).
	OutputPath string
	// Mesh carries a mesh build's in-memory product for the downstream
	// geometry cooker; nil for every other kind.
	Mesh *MeshBuildOutput

	Diagnostics []Diagnostic
}

// Failed satisfies the pipeline stage outcome contract.
func (r WorkResult) Failed() bool { return !r.Success }

func cancelledResult(item WorkItem) WorkResult {
	return WorkResult{
		ID:            item.Step.ID,
		Kind:          item.Step.Kind,
		Name:          item.Step.Name,
		ResourceIndex: -1,
		Cancelled:     true,
		Diagnostics: []Diagnostic{
			Errorf(CodeCancelled, "", item.Step.Name, "cancelled before cooking started"),
		},
	}
}

func failedResult(item WorkItem, diags ...Diagnostic) WorkResult {
	return WorkResult{
		ID:            item.Step.ID,
		Kind:          item.Step.Kind,
		Name:          item.Step.Name,
		ResourceIndex: -1,
		Diagnostics:   diags,
	}
}

// Registry shares completed results between dependent plan items. The
// dispatcher records every collected result, and dependency order guarantees
// producers are recorded before their consumers cook.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]WorkResult
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]WorkResult)}
}

// Record stores a completed result under its item name.
func (r *Registry) Record(result WorkResult) {
	r.mu.Lock()
	r.byName[result.Name] = result
	r.mu.Unlock()
}

// Lookup fetches a producer's result by item name.
func (r *Registry) Lookup(name string) (WorkResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.byName[name]
	return result, ok
}
