package engine

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("task count exceeds pool capacity")
	ErrQueueOverflow    = errors.New("task queue overflow")
	ErrInvalidAffinity  = errors.New("affinity targets an unknown worker")
	ErrNilWork          = errors.New("task has no work function")
	ErrNullTask         = errors.New("null task id queued")
	ErrDestroyed        = errors.New("scheduler destroyed")

	ErrAlreadyStarted = errors.New("scheduler already started")
)

// FatalError describes a broken scheduler invariant. The scheduler panics
// with it after Config.Fatal returns; there is no recovery path.
type FatalError struct {
	Op   string
	Task TaskID
	Name string
	Err  error
}

func (e *FatalError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("scheduler %s (task %d %q): %v", e.Op, e.Task, e.Name, e.Err)
	}
	if e.Task != NullTask {
		return fmt.Sprintf("scheduler %s (task %d): %v", e.Op, e.Task, e.Err)
	}
	return fmt.Sprintf("scheduler %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
