package services

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is(err, services.ErrValidation).
var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrDelivery      = errors.New("delivery error")
	ErrPersistence   = errors.New("persistence error")
	ErrNotFound      = errors.New("not found")
)

// Error is a classified failure. Msg is safe to show to API callers.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func persistence(msg string, err error) error {
	return &Error{Kind: ErrPersistence, Msg: msg, Err: err}
}

// Message returns the caller facing text of err.
func Message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Msg
	}
	return err.Error()
}
