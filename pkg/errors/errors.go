package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")

	// ErrConfiguration is returned for an invalid identifier or client spec.
	// It is only ever raised at construction time, never while a round runs.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrShapeMismatch is returned when a model input spec disagrees with a
	// dataset element structure, or when two weight sets differ in structure.
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrInsufficientClients = errors.New("insufficient clients")
	ErrEmptyRound          = errors.New("no clients in round")
	ErrOverflow            = errors.New("value out of fixed-point range")
	ErrNoEvalData          = errors.New("task has no eval data")
	ErrRunning             = errors.New("experiment is already running")
	ErrNotRunning          = errors.New("experiment is not running")
)
