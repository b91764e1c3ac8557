// Package apperr defines the error kinds shared by the core packages.
//
// Callers branch on kinds with errors.Is. Anything that does not match one of
// the kinds is a storage or programming failure and must be propagated.
package apperr

import "errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrPrecondition = errors.New("precondition failed")
	ErrConflict     = errors.New("concurrent update conflict")
	ErrDelivery     = errors.New("delivery failed")
)

// Error is a kinded error carrying a user-facing message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string) *Error   { return &Error{Kind: ErrValidation, Msg: msg} }
func NotFound(msg string) *Error     { return &Error{Kind: ErrNotFound, Msg: msg} }
func Precondition(msg string) *Error { return &Error{Kind: ErrPrecondition, Msg: msg} }
func Conflict(msg string) *Error     { return &Error{Kind: ErrConflict, Msg: msg} }

func Delivery(msg string, err error) *Error {
	return &Error{Kind: ErrDelivery, Msg: msg, Err: err}
}

// Reason returns the message of the outermost kinded error, or a generic
// text for anything else.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// IsUserFacing reports whether err belongs to one of the caller-visible kinds.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPrecondition)
}
