package circuit

import (
	"errors"
	"fmt"
)

var (
	ErrDeliveryFailed  = errors.New("circuit: delivery failed")
	ErrCircuitClosed   = errors.New("circuit: closed")
	ErrResendTableFull = errors.New("circuit: resend table full")
	ErrNotStarted      = errors.New("circuit: not started")
	ErrMissingTemplate = errors.New("circuit: registry lacks a circuit control message")
)

// DeliveryFailedError resolves the ticket of a reliable message that was
// never acked.
type DeliveryFailedError struct {
	Sequence uint32
	Message  string
	Attempts int
}

func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("circuit: delivery failed seq=%d message=%s attempts=%d", e.Sequence, e.Message, e.Attempts)
}

func (e *DeliveryFailedError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// CircuitError ends a circuit after a socket failure.
type CircuitError struct {
	Remote string
	Op     string
	Err    error
}

func (e *CircuitError) Error() string {
	return fmt.Sprintf("circuit: %s %s: %v", e.Op, e.Remote, e.Err)
}

func (e *CircuitError) Unwrap() error {
	return e.Err
}
