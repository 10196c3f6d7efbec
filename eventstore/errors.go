package eventstore

import "errors"

var (
	// ErrNotFound is returned when a stream or snapshot does not exist.
	ErrNotFound = errors.New("eventstore: not found")
	// ErrConcurrencyConflict is returned when expectedVersion is stale.
	ErrConcurrencyConflict = errors.New("eventstore: concurrency conflict")
	// ErrRetriesExhausted wraps the last conflict after the retry budget is spent.
	ErrRetriesExhausted = errors.New("eventstore: retries exhausted")
	// ErrUnknownEvent is returned when a stored event name has no registered payload type.
	ErrUnknownEvent = errors.New("eventstore: unknown event")
	// ErrInvalidRecord is returned by backends for malformed input.
	ErrInvalidRecord = errors.New("eventstore: invalid record")
)

// StageError reports which collaborator failed while loading or appending.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return "eventstore: " + e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
