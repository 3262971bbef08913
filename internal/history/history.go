// Package history keeps bounded rings of recent inbound and outbound message
// snapshots for debugging.
package history

import (
	"sync"

	"github.com/danmuck/simcircuit/internal/protocol/codec"
)

const DefaultCapacity = 256

// Ring is a fixed-capacity FIFO of snapshots. Adding to a full ring evicts
// the oldest entry. Reads are safe from observer goroutines.
type Ring struct {
	mu    sync.Mutex
	slots []codec.Snapshot
	head  int
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{slots: make([]codec.Snapshot, capacity)}
}

func (r *Ring) Add(s codec.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.size) % len(r.slots)
	r.slots[idx] = s
	if r.size < len(r.slots) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.slots)
}

// Lookup returns the newest snapshot with the given sequence number.
func (r *Ring) Lookup(seq uint32) (codec.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := r.size - 1; i >= 0; i-- {
		s := r.slots[(r.head+i)%len(r.slots)]
		if s.Sequence == seq {
			return s, true
		}
	}
	return codec.Snapshot{}, false
}

// Entries copies the ring oldest first.
func (r *Ring) Entries() []codec.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]codec.Snapshot, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.slots[(r.head+i)%len(r.slots)]
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Ring) Cap() int {
	return len(r.slots)
}

// Pool pairs the inbound and outbound rings of one circuit.
type Pool struct {
	Inbound  *Ring
	Outbound *Ring
}

func NewPool(capacity int) *Pool {
	return &Pool{
		Inbound:  NewRing(capacity),
		Outbound: NewRing(capacity),
	}
}

// Direction selects a ring by name, "in" or "out".
func (p *Pool) Direction(name string) (*Ring, bool) {
	switch name {
	case "in", "inbound":
		return p.Inbound, true
	case "out", "outbound":
		return p.Outbound, true
	default:
		return nil, false
	}
}
