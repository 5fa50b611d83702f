package common

import "fmt"

// Error kinds mirror the diagnostic categories the archive surface is
// contractually required to produce. The textual content of Corruption
// errors raised during Verify is part of the contract (see archive package);
// these wrappers exist so callers can still test the kind with errors.As
// without parsing messages.

type PreconditionError struct{ Msg string }

func (e *PreconditionError) Error() string { return e.Msg }

func NewPreconditionError(format string, args ...interface{}) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

type InvalidArgumentError struct{ Msg string }

func (e *InvalidArgumentError) Error() string { return e.Msg }

func NewInvalidArgumentError(format string, args ...interface{}) error {
	return &InvalidArgumentError{Msg: fmt.Sprintf(format, args...)}
}

type CorruptionError struct{ Msg string }

func (e *CorruptionError) Error() string { return e.Msg }

func NewCorruptionError(format string, args ...interface{}) error {
	return &CorruptionError{Msg: fmt.Sprintf(format, args...)}
}

type IoError struct {
	Msg string
	Err error
}

func (e *IoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *IoError) Unwrap() error { return e.Err }

func NewIoError(msg string, err error) error {
	return &IoError{Msg: msg, Err: err}
}

// ErrNotFound signals a missing key. Nothing in this repository returns it:
// the ordered-KV adapters report a missing key through Get's found result,
// and the archive's point reads default to zero instead.
var ErrNotFound = fmt.Errorf("key not found")
