package template

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID    = errors.New("template: duplicate message id")
	ErrMalformed      = errors.New("template: malformed definition")
	ErrUnknownMessage = errors.New("template: unknown message")
)

// Error locates a schema failure. Err is one of the package sentinels.
type Error struct {
	Err     error
	Line    int
	Message string
	Reason  string
}

func (e *Error) Error() string {
	switch {
	case e.Line > 0 && e.Message != "":
		return fmt.Sprintf("%v: line %d message=%s: %s", e.Err, e.Line, e.Message, e.Reason)
	case e.Line > 0:
		return fmt.Sprintf("%v: line %d: %s", e.Err, e.Line, e.Reason)
	case e.Message != "":
		return fmt.Sprintf("%v: message=%s: %s", e.Err, e.Message, e.Reason)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func malformed(line int, message, format string, args ...any) error {
	return &Error{Err: ErrMalformed, Line: line, Message: message, Reason: fmt.Sprintf(format, args...)}
}
