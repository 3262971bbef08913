package circuit

import (
	"context"
	"sync"
)

// Ticket tracks delivery of one sent message. It resolves with nil once the
// peer acks (immediately for unreliable sends) or with the failure.
type Ticket struct {
	seq  uint32
	once sync.Once
	done chan struct{}
	err  error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Sequence is the number assigned to the message on the wire.
func (t *Ticket) Sequence() uint32 {
	return t.seq
}

func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome once Done is closed, nil before.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
