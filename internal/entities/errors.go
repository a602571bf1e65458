package entities

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrPayment      = errors.New("payment error")

	// ErrInsufficientFunds is a payment error: errors.Is(ErrInsufficientFunds, ErrPayment) holds.
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrPayment)
)

// Error carries a human readable message together with its kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

func NotFoundf(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func InvalidStatef(format string, args ...any) error {
	return newError(ErrInvalidState, format, args...)
}

func Paymentf(format string, args ...any) error {
	return newError(ErrPayment, format, args...)
}

func InsufficientFundsf(format string, args ...any) error {
	return newError(ErrInsufficientFunds, format, args...)
}
