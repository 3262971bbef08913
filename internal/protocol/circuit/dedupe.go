package circuit

// dedupeWindow remembers the last N inbound sequence numbers accepted.
type dedupeWindow struct {
	ring []uint32
	next int
	full bool
	set  map[uint32]struct{}
}

func newDedupeWindow(size int) *dedupeWindow {
	return &dedupeWindow{
		ring: make([]uint32, size),
		set:  make(map[uint32]struct{}, size),
	}
}

func (d *dedupeWindow) Contains(seq uint32) bool {
	_, ok := d.set[seq]
	return ok
}

// Add records seq, evicting the oldest entry once the window is full.
func (d *dedupeWindow) Add(seq uint32) {
	if d.Contains(seq) {
		return
	}
	if d.full {
		delete(d.set, d.ring[d.next])
	}
	d.ring[d.next] = seq
	d.set[seq] = struct{}{}
	d.next++
	if d.next == len(d.ring) {
		d.next = 0
		d.full = true
	}
}

func (d *dedupeWindow) Len() int {
	return len(d.set)
}
