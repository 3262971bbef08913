package circuit

import (
	"sort"
	"time"
)

// pendingReliable is one reliable datagram awaiting its ack.
type pendingReliable struct {
	Sequence      uint32
	Message       string
	Datagram      []byte
	Retries       int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	Deadline      time.Time
	ticket        *Ticket
}

// resendTable is owned by the loop goroutine.
type resendTable struct {
	items map[uint32]*pendingReliable
}

func newResendTable() *resendTable {
	return &resendTable{items: make(map[uint32]*pendingReliable)}
}

func (r *resendTable) Add(item *pendingReliable) {
	r.items[item.Sequence] = item
}

func (r *resendTable) Remove(seq uint32) (*pendingReliable, bool) {
	item, ok := r.items[seq]
	if ok {
		delete(r.items, seq)
	}
	return item, ok
}

func (r *resendTable) Len() int {
	return len(r.items)
}

// Expired lists entries whose deadline has passed, oldest sequence first.
func (r *resendTable) Expired(now time.Time) []*pendingReliable {
	var out []*pendingReliable
	for _, item := range r.items {
		if !now.Before(item.Deadline) {
			out = append(out, item)
		}
	}
	sortBySequence(out)
	return out
}

// Drain empties the table and returns what it held.
func (r *resendTable) Drain() []*pendingReliable {
	out := make([]*pendingReliable, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	r.items = make(map[uint32]*pendingReliable)
	sortBySequence(out)
	return out
}

func sortBySequence(items []*pendingReliable) {
	sort.Slice(items, func(i, j int) bool {
		return seqAfter(items[j].Sequence, items[i].Sequence)
	})
}

// seqAfter compares sequence numbers with serial arithmetic so order survives
// wraparound.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
