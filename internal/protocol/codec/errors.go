package codec

import (
	"errors"
	"fmt"

	"github.com/danmuck/simcircuit/internal/protocol/template"
)

var (
	ErrMalformed         = errors.New("codec: malformed message")
	ErrBufferUnderrun    = fmt.Errorf("%w: buffer underrun", ErrMalformed)
	ErrPastEnd           = fmt.Errorf("%w: read past end", ErrMalformed)
	ErrBadBool           = fmt.Errorf("%w: bool out of range", ErrMalformed)
	ErrTrailingBytes     = fmt.Errorf("%w: trailing bytes", ErrMalformed)
	ErrIDWidth           = fmt.Errorf("%w: message id width does not match frequency", ErrMalformed)
	ErrTypeMismatch      = errors.New("codec: type mismatch")
	ErrBlockCountNotRead = errors.New("codec: variable block count not read")
	ErrVariableNotFound  = errors.New("codec: variable not found")

	ErrBufferTooLarge       = errors.New("codec: buffer too large for length prefix")
	ErrAlreadyFinished      = errors.New("codec: message already finished")
	ErrBlockCountAlreadySet = errors.New("codec: variable block count already set")
	ErrNotVariableBlock     = errors.New("codec: current block is not a variable block")
	ErrBlockCountRange      = errors.New("codec: variable block count out of range")
	ErrBlockCountRequired   = errors.New("codec: variable block count must be set first")
	ErrMessageComplete      = errors.New("codec: all variables already written")
	ErrIncomplete           = errors.New("codec: message incomplete")
	ErrInvalidValue         = errors.New("codec: invalid value")
)

// TypeMismatchError reports a typed read or write against a variable declared
// with a different type.
type TypeMismatchError struct {
	Message   string
	Block     string
	Variable  string
	Declared  template.VarType
	Requested template.VarType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("codec: type mismatch %s.%s.%s declared=%s requested=%s",
		e.Message, e.Block, e.Variable, e.Declared, e.Requested)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
