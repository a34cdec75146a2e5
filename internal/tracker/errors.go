package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a source name or item is missing
	// required fields. No state is changed when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a named tracker does not exist.
	ErrNotFound = errors.New("tracker not found")

	// ErrClosed is returned by registry operations after Shutdown.
	ErrClosed = errors.New("registry is shut down")

	// ErrQueueClosed is returned when pushing to a queue whose producer
	// side has been closed.
	ErrQueueClosed = errors.New("queue closed")

	// ErrDropped is returned when a bounded queue rejects an item under the
	// drop-newest policy.
	ErrDropped = errors.New("queue full, item dropped")
)

// ProcessingError reports an item a worker could not record. Workers log it
// and move on to the next item; it never leaves the tracker.
type ProcessingError struct {
	Source string
	ItemID string
	Err    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process item %q from %s: %v", e.ItemID, e.Source, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
