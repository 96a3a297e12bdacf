package plan

import "sync"

// Tracker follows one plan item's pending producers. It transitions from
// not-ready to ready exactly once, when the last pending producer reports
// completion. Items with no dependencies are ready from the start.
type Tracker struct {
	mu      sync.Mutex
	pending map[ItemID]struct{}
	ready   chan struct{}
}

func newTracker(deps []ItemID) *Tracker {
	t := &Tracker{ready: make(chan struct{})}
	if len(deps) == 0 {
		close(t.ready)
		return t
	}
	t.pending = make(map[ItemID]struct{}, len(deps))
	for _, dep := range deps {
		t.pending[dep] = struct{}{}
	}
	return t
}

// MarkReady removes producer from the pending set. It returns true exactly
// on the transition to fully ready; duplicate or unknown producers are
// ignored and return false.
func (t *Tracker) MarkReady(producer ItemID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[producer]; !ok {
		return false
	}
	delete(t.pending, producer)
	if len(t.pending) == 0 {
		close(t.ready)
		return true
	}
	return false
}

// IsReady reports whether every producer has completed.
func (t *Tracker) IsReady() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// Ready returns a channel closed once the item is ready.
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}
