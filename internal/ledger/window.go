package ledger

import (
	"github.com/your-org/ledger-sniper-bot/pkg/ring"
)

// MintEntry accumulates what a slot has seen about one asset.
type MintEntry struct {
	Flags      Mask
	SeenSlots  map[uint64]struct{}
	SampleLogs []string
}

// Bucket is the state kept for one slot.
type Bucket struct {
	Slot        uint64
	EventCount  int
	Mints       map[string]*MintEntry
	Authorities map[string]map[string]struct{}
	Transfers   []TransferRecord
}

func newBucket(slot uint64) *Bucket {
	return &Bucket{
		Slot:        slot,
		Mints:       make(map[string]*MintEntry),
		Authorities: make(map[string]map[string]struct{}),
	}
}

func (b *Bucket) entry(asset string) *MintEntry {
	e, ok := b.Mints[asset]
	if !ok {
		e = &MintEntry{SeenSlots: make(map[uint64]struct{})}
		b.Mints[asset] = e
	}
	return e
}

func (b *Bucket) associate(authority, asset string) {
	set, ok := b.Authorities[authority]
	if !ok {
		set = make(map[string]struct{})
		b.Authorities[authority] = set
	}
	set[asset] = struct{}{}
}

// Window keeps the most recent depth buckets in first-sight order. It is not
// safe for concurrent use; Engine serializes access.
type Window struct {
	order   *ring.Ring[uint64]
	buckets map[uint64]*Bucket
}

// NewWindow creates a window retaining depth slots.
func NewWindow(depth int) *Window {
	return &Window{
		order:   ring.New[uint64](depth),
		buckets: make(map[uint64]*Bucket, depth),
	}
}

// Bucket returns the bucket for slot, creating it and evicting the oldest
// slot when the window is full.
func (w *Window) Bucket(slot uint64) *Bucket {
	if b, ok := w.buckets[slot]; ok {
		return b
	}
	if old, evicted := w.order.Push(slot); evicted {
		delete(w.buckets, old)
	}
	b := newBucket(slot)
	w.buckets[slot] = b
	return b
}

// Each visits retained buckets oldest first.
func (w *Window) Each(fn func(*Bucket)) {
	w.order.Do(func(slot uint64) {
		if b, ok := w.buckets[slot]; ok {
			fn(b)
		}
	})
}

// Len returns the number of retained buckets.
func (w *Window) Len() int { return len(w.buckets) }

// Slots returns retained slots oldest first.
func (w *Window) Slots() []uint64 { return w.order.Items() }
