package omx

import (
	"errors"
	"fmt"
)

// Error is a component error code. Codes are comparable values, so
// callers match them with errors.Is, and they are the payload delivered
// to Client.OnError.
type Error int

// Error codes.
const (
	// ErrUndefined is the generic code for decode-engine failures.
	ErrUndefined Error = iota + 1
	ErrBadParameter
	ErrBadPortIndex
	// ErrIncorrectState rejects an operation that is not legal in the
	// current state, such as releasing a buffer on an enabled port of an
	// executing component.
	ErrIncorrectState
	// ErrSameState is returned for a transition to the current state. It
	// is a harmless no-op, distinct from ErrIllegalTransition.
	ErrSameState
	ErrIllegalTransition
	// ErrInvalidState is reported once when the component becomes
	// invalid and returned for every operation afterwards.
	ErrInvalidState
	ErrInsufficientResources
	// ErrPortUnpopulated is reported when a buffer is released from an
	// enabled port while no transition or disable is waiting for it.
	ErrPortUnpopulated
)

var errorNames = map[Error]string{
	ErrUndefined:             "undefined",
	ErrBadParameter:          "bad parameter",
	ErrBadPortIndex:          "bad port index",
	ErrIncorrectState:        "incorrect state operation",
	ErrSameState:             "same state",
	ErrIllegalTransition:     "illegal state transition",
	ErrInvalidState:          "invalid state",
	ErrInsufficientResources: "insufficient resources",
	ErrPortUnpopulated:       "port unpopulated",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return "omx: " + name
	}
	return fmt.Sprintf("omx: error(%d)", int(e))
}

// CodeOf maps err onto the error code reported to clients. Errors that
// carry no code map to ErrUndefined.
func CodeOf(err error) Error {
	var code Error
	if errors.As(err, &code) {
		return code
	}
	return ErrUndefined
}
