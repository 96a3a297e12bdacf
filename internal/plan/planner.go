package plan

import (
	"container/heap"
	"fmt"
	"strings"
)

type plannerItem struct {
	id      ItemID
	kind    Kind
	name    string
	payload any
	deps    []ItemID
	depSet  map[ItemID]struct{}
}

// Planner accumulates plan items and dependency edges until MakePlan seals it.
// A Planner is not safe for concurrent mutation; plans are built by a single
// goroutine before execution starts.
type Planner struct {
	items      []*plannerItem
	sealed     bool
	steps      []Step
	trackers   []*Tracker
	dependents [][]ItemID
}

// NewPlanner returns an empty planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// AddTexture registers a texture-resource item.
func (p *Planner) AddTexture(name string, payload any) ItemID {
	return p.add(KindTextureResource, name, payload)
}

// AddBuffer registers a buffer-resource item.
func (p *Planner) AddBuffer(name string, payload any) ItemID {
	return p.add(KindBufferResource, name, payload)
}

// AddMaterial registers a material-asset item.
func (p *Planner) AddMaterial(name string, payload any) ItemID {
	return p.add(KindMaterialAsset, name, payload)
}

// AddMeshBuild registers a mesh-build item.
func (p *Planner) AddMeshBuild(name string, payload any) ItemID {
	return p.add(KindMeshBuild, name, payload)
}

// AddGeometry registers a geometry-asset item.
func (p *Planner) AddGeometry(name string, payload any) ItemID {
	return p.add(KindGeometryAsset, name, payload)
}

// AddScene registers a scene-asset item.
func (p *Planner) AddScene(name string, payload any) ItemID {
	return p.add(KindSceneAsset, name, payload)
}

func (p *Planner) add(kind Kind, name string, payload any) ItemID {
	p.mustBeOpen("add item")
	id := ItemID(len(p.items))
	p.items = append(p.items, &plannerItem{
		id:      id,
		kind:    kind,
		name:    name,
		payload: payload,
	})
	return id
}

// AddDependency records that consumer needs producer's output. Duplicate
// edges between the same pair collapse to one.
func (p *Planner) AddDependency(consumer, producer ItemID) {
	p.mustBeOpen("add dependency")
	p.mustExist(consumer)
	p.mustExist(producer)
	item := p.items[consumer]
	if item.depSet == nil {
		item.depSet = make(map[ItemID]struct{})
	}
	if _, dup := item.depSet[producer]; dup {
		return
	}
	item.depSet[producer] = struct{}{}
	item.deps = append(item.deps, producer)
}

// Len reports the number of registered items.
func (p *Planner) Len() int { return len(p.items) }

// Sealed reports whether MakePlan has run.
func (p *Planner) Sealed() bool { return p.sealed }

// MakePlan seals the planner and returns the execution order: a stable
// topological sort where ties break by registration order. Cycles (including
// self-dependencies) are fatal.
func (p *Planner) MakePlan() []Step {
	p.mustBeOpen("make plan")
	p.sealed = true

	order := p.topoSort()

	p.steps = make([]Step, 0, len(order))
	for _, id := range order {
		item := p.items[id]
		p.steps = append(p.steps, Step{
			ID:      item.id,
			Kind:    item.kind,
			Name:    item.name,
			Payload: item.payload,
			Deps:    append([]ItemID(nil), item.deps...),
		})
	}

	p.buildTrackers()
	return p.steps
}

// Steps returns the sealed plan order. Panics before MakePlan.
func (p *Planner) Steps() []Step {
	p.mustBeSealed("steps")
	return p.steps
}

// Dependents returns the items that list id as a producer, in registration
// order. Only valid after MakePlan.
func (p *Planner) Dependents(id ItemID) []ItemID {
	p.mustBeSealed("dependents")
	p.mustExist(id)
	return p.dependents[id]
}

func (p *Planner) topoSort() []ItemID {
	n := len(p.items)
	indegree := make([]int, n)
	for _, item := range p.items {
		indegree[item.id] = len(item.deps)
	}
	adj := make([][]ItemID, n)
	for _, item := range p.items {
		for _, dep := range item.deps {
			adj[dep] = append(adj[dep], item.id)
		}
	}

	// Ready items are drained smallest-id first; dense monotone IDs make
	// that identical to registration order.
	ready := make(idHeap, 0, n)
	for id := 0; id < n; id++ {
		if indegree[id] == 0 {
			ready = append(ready, ItemID(id))
		}
	}
	heap.Init(&ready)

	order := make([]ItemID, 0, n)
	for ready.Len() > 0 {
		id := heap.Pop(&ready).(ItemID)
		order = append(order, id)
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(&ready, next)
			}
		}
	}

	if len(order) != n {
		var stuck []string
		for id := 0; id < n; id++ {
			if indegree[id] > 0 {
				stuck = append(stuck, fmt.Sprintf("%s %q (#%d)", p.items[id].kind, p.items[id].name, id))
			}
		}
		panic("plan: dependency cycle involving " + strings.Join(stuck, ", "))
	}
	return order
}

func (p *Planner) buildTrackers() {
	n := len(p.items)
	p.trackers = make([]*Tracker, n)
	p.dependents = make([][]ItemID, n)
	for _, item := range p.items {
		p.trackers[item.id] = newTracker(item.deps)
		for _, dep := range item.deps {
			p.dependents[dep] = append(p.dependents[dep], item.id)
		}
	}
}

// Tracker returns the readiness tracker for a plan item. Only valid after
// MakePlan.
func (p *Planner) Tracker(id ItemID) *Tracker {
	p.mustBeSealed("tracker")
	p.mustExist(id)
	return p.trackers[id]
}

// ReadyEvent returns the one-shot channel closed when the item becomes
// ready. Only valid after MakePlan.
func (p *Planner) ReadyEvent(id ItemID) <-chan struct{} {
	return p.Tracker(id).Ready()
}

func (p *Planner) mustBeOpen(op string) {
	if p.sealed {
		panic("plan: " + op + " after MakePlan sealed the planner")
	}
}

func (p *Planner) mustBeSealed(op string) {
	if !p.sealed {
		panic("plan: " + op + " before MakePlan")
	}
}

func (p *Planner) mustExist(id ItemID) {
	if id < 0 || int(id) >= len(p.items) {
		panic(fmt.Sprintf("plan: item id %d out of range [0,%d)", id, len(p.items)))
	}
}

// idHeap is a min-heap of item IDs for container/heap.
type idHeap []ItemID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(ItemID)) }

func (h *idHeap) Pop() any {
	old := *h
	last := len(old) - 1
	id := old[last]
	*h = old[:last]
	return id
}
