package taskmgr

import (
	"errors"
	"fmt"
)

// ErrValidation indicates a malformed create request: bad priority,
// negative timeout, unknown dependency. Nothing is created.
var ErrValidation = errors.New("invalid task request")

// ErrCycle indicates the submission would introduce a dependency cycle.
// Nothing is created.
var ErrCycle = errors.New("dependency cycle detected")

// ErrLaneFull indicates the target priority lane is at its depth limit.
var ErrLaneFull = errors.New("priority lane at capacity")

// ErrTaskNotFound indicates the task ID is unknown to the manager.
var ErrTaskNotFound = errors.New("task not found")

// ErrManagerClosed indicates the manager has been shut down.
var ErrManagerClosed = errors.New("task manager closed")

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
