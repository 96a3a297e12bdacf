package cas

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// WriteReservation is an exclusively owned, aligned byte range in the shared
// data file, obtained atomically before writing.
type WriteReservation struct {
	// Start is the counter value before alignment.
	Start int64
	// AlignedOffset is where the payload bytes go.
	AlignedOffset int64
	// Padding is AlignedOffset - Start.
	Padding int64
}

// End returns the first byte past the reserved range for a payload of the
// given size.
func (r WriteReservation) End(size int64) int64 {
	return r.AlignedOffset + size
}

// Entry is one emitted resource in the aggregator's table.
type Entry struct {
	// Index is the dense per-kind table index, stable once assigned.
	Index int
	// Signature is the dedup key the entry was inserted under.
	Signature Signature
	// Reservation is the byte range the payload occupies. Entries restored
	// from the catalog carry the recorded offsets.
	Reservation WriteReservation
	// Size is the payload size in bytes.
	Size int64
	// Descriptor carries the kind-specific cooked descriptor.
	Descriptor any
}

// Factory produces a descriptor and its payload size for a signature seen
// for the first time. It is invoked at most once per distinct signature.
type Factory func() (descriptor any, payloadSize int64, err error)

// Aggregator deduplicates cooked payloads for one resource kind and hands
// out non-overlapping aligned reservations in the kind's data file.
type Aggregator struct {
	alignment int64
	size      atomic.Int64

	mu      sync.Mutex
	entries map[Signature]*Entry
	order   []*Entry

	fallbackOnce    sync.Once
	fallbackFactory Factory
	fallback        *Entry
	fallbackErr     error
}

// NewAggregator constructs an aggregator. Alignment must be a positive power
// of two. The fallback factory, when non-nil, is invoked lazily at most once
// to emit a placeholder resource ahead of user content; degraded references
// resolve to it.
func NewAggregator(alignment int64, fallback Factory) *Aggregator {
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		panic(fmt.Sprintf("cas: alignment %d is not a positive power of two", alignment))
	}
	return &Aggregator{
		alignment:       alignment,
		entries:         make(map[Signature]*Entry),
		fallbackFactory: fallback,
	}
}

// AcquireOrInsert returns the entry for signature, inserting it on first
// sight. The boolean reports whether the entry is new; callers that receive
// false must not issue writes for it.
func (a *Aggregator) AcquireOrInsert(sig Signature, factory Factory) (*Entry, bool, error) {
	if a.fallbackFactory != nil {
		if _, err := a.Fallback(); err != nil {
			return nil, false, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(sig, factory)
}

func (a *Aggregator) insertLocked(sig Signature, factory Factory) (*Entry, bool, error) {
	if existing, ok := a.entries[sig]; ok {
		return existing, false, nil
	}

	descriptor, size, err := factory()
	if err != nil {
		return nil, false, err
	}
	if size < 0 {
		return nil, false, fmt.Errorf("cas: negative payload size %d", size)
	}

	reservation, err := a.reserve(size)
	if err != nil {
		return nil, false, err
	}

	entry := &Entry{
		Index:       len(a.order),
		Signature:   sig,
		Reservation: reservation,
		Size:        size,
		Descriptor:  descriptor,
	}
	a.entries[sig] = entry
	a.order = append(a.order, entry)
	return entry, true, nil
}

// Fallback returns the lazily emitted placeholder entry, creating it on the
// first call.
func (a *Aggregator) Fallback() (*Entry, error) {
	if a.fallbackFactory == nil {
		return nil, fmt.Errorf("cas: no fallback resource configured")
	}
	a.fallbackOnce.Do(func() {
		sig := NewSignatureBuilder().WriteString("kiln.fallback").Sum()
		a.mu.Lock()
		defer a.mu.Unlock()
		a.fallback, _, a.fallbackErr = a.insertLocked(sig, a.fallbackFactory)
	})
	return a.fallback, a.fallbackErr
}

// reserve advances the shared size counter to the next alignment boundary
// plus size, via a lock-free compare-and-swap loop.
func (a *Aggregator) reserve(size int64) (WriteReservation, error) {
	for {
		current := a.size.Load()
		aligned := alignUp(current, a.alignment)
		if aligned > math.MaxInt64-size {
			return WriteReservation{}, fmt.Errorf("cas: reservation of %d bytes at %d overflows the address space", size, current)
		}
		next := aligned + size
		if a.size.CompareAndSwap(current, next) {
			return WriteReservation{
				Start:         current,
				AlignedOffset: aligned,
				Padding:       aligned - current,
			}, nil
		}
	}
}

// Lookup returns the entry for signature without inserting.
func (a *Aggregator) Lookup(sig Signature) (*Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[sig]
	return entry, ok
}

// Restore seeds the table with an entry recorded by a previous run. The size
// counter advances past the restored range when needed. Restore must happen
// before concurrent use.
func (a *Aggregator) Restore(sig Signature, reservation WriteReservation, size int64, descriptor any) *Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.entries[sig]; ok {
		return existing
	}
	entry := &Entry{
		Index:       len(a.order),
		Signature:   sig,
		Reservation: reservation,
		Size:        size,
		Descriptor:  descriptor,
	}
	a.entries[sig] = entry
	a.order = append(a.order, entry)
	if end := reservation.End(size); end > a.size.Load() {
		a.size.Store(end)
	}
	return entry
}

// Len reports the number of emitted resources.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Entries returns a snapshot of the table in emission order.
func (a *Aggregator) Entries() []*Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Entry(nil), a.order...)
}

// FileSize reports the current value of the size counter.
func (a *Aggregator) FileSize() int64 {
	return a.size.Load()
}

func alignUp(value, alignment int64) int64 {
	return (value + alignment - 1) &^ (alignment - 1)
}
