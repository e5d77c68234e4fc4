package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a participant name is not registered. Fatal, pre-run.
	ErrNotFound = errors.New("participant not registered")
	// ErrConnection is returned when an endpoint is unreachable during prepare. Fatal, pre-run.
	ErrConnection = errors.New("endpoint unreachable")
	// ErrSyncTimeout is returned when a barrier is not satisfied in time or is
	// cancelled while waiting. Fatal, aborts the run.
	ErrSyncTimeout = errors.New("synchronization barrier timed out")
	// ErrMalformedEvent is returned by Decode. Recovered: the message is dropped and logged.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrPersistence marks save/load failures. Recovered at the caller.
	ErrPersistence = errors.New("persistence failure")
)

// ResolutionError reports an unregistered participant name.
type ResolutionError struct {
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Name, ErrNotFound)
}

func (e *ResolutionError) Unwrap() error { return ErrNotFound }

// ConnectionError reports an endpoint that could not be reached while preparing.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrConnection, e.Err} }

// PersistenceError reports a failed save or load of one participant's state.
type PersistenceError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s state %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// IsFatal reports whether err must terminate the process: unresolved names,
// unreachable endpoints and barrier timeouts.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrSyncTimeout)
}
