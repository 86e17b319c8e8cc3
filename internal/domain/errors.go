package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotInConflict   = errors.New("record is not in conflict")
)

// Outcome is the classification of a transport result.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomeConflict  Outcome = "conflict"
	OutcomeTerminal  Outcome = "terminal"
)

// ConflictError reports a remote version mismatch. Remote carries the remote payload, if known.
type ConflictError struct {
	Remote json.RawMessage
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return "conflict: " + e.Err.Error()
	}
	return "conflict: remote version mismatch"
}

func (e *ConflictError) Unwrap() error { return e.Err }

// TerminalError reports a rejection that retrying will not fix, e.g. validation.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return "terminal error"
	}
	return "terminal: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as non-retryable.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// TransientError marks a failure that should be retried with backoff.
// Unclassified errors are treated the same way.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient error"
	}
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// StorageError is a local durable-store failure. It is always returned to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage wraps err in a StorageError unless it is nil or ErrNotFound.
func WrapStorage(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Classify maps a transport error onto the failure taxonomy.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return OutcomeConflict
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return OutcomeTerminal
	}
	return OutcomeRetryable
}
