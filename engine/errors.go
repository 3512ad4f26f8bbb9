package engine

import "errors"

// Error taxonomy (§7). Construction-time errors (CyclicGraph,
// UnsatisfiableResource) are returned directly by New, before any task runs.
// Run-time errors (Deadlock, AlreadyRun) surface from Run.
var (
	// ErrCyclicGraph is returned by New when the task graph contains a cycle.
	ErrCyclicGraph = errors.New("engine: cyclic graph")
	// ErrUnsatisfiableResource is returned by New when a task's declared
	// demand exceeds the global budget for a resource key.
	ErrUnsatisfiableResource = errors.New("engine: resource demand exceeds budget")
	// ErrDeadlock is the terminal state where pending is non-empty but
	// nothing is ready and nothing is running.
	ErrDeadlock = errors.New("engine: deadlock: tasks pending with nothing ready or running")
	// ErrAlreadyRun is returned by Run when called more than once on the
	// same Manager.
	ErrAlreadyRun = errors.New("engine: workflow already run")
)
