package taskflow

import "github.com/pkg/errors"

// Sentinel errors for structural misuse, following the stdlib convention
// also used by momentics-hioload-ws's ErrExecutorClosed.
var (
	// ErrSelfComposition is the value ComposedOf panics with when a graph
	// is composed of itself; deeper composition cycles are undefined behavior per
	// spec.md section 4.7 and are not detected here.
	ErrSelfComposition = errors.New("taskflow: a graph cannot be composed of itself")

	// ErrSemaphoreCapacity is the value NewSemaphore panics with when
	// capacity < 1.
	ErrSemaphoreCapacity = errors.New("taskflow: semaphore capacity must be >= 1")

	// ErrExecutorClosed is attached to the Future returned by Run/Async
	// (and logged by SilentAsync, which has no Future) when called after
	// Close; nothing is scheduled.
	ErrExecutorClosed = errors.New("taskflow: executor is closed")

	// ErrCancelled is the error attached to a Future whose owning topology
	// was cancelled before the associated work ran.
	ErrCancelled = errors.New("taskflow: cancelled")

	// ErrNotJoinable is returned by Subflow.Join/Detach when the other of
	// the two (or the same one) has already been called.
	ErrNotJoinable = errors.New("taskflow: subflow is no longer joinable")
)

// taskPanic wraps a recovered panic value as an error, preserving the
// original value's message the way the teacher's executor.go formats
// "[recovered] node %s, panic: %s" before logging it.
type taskPanic struct {
	nodeName string
	value    any
	stack    []byte
}

func (p *taskPanic) Error() string {
	return errors.Errorf("node %s panicked: %v", p.nodeName, p.value).Error()
}
