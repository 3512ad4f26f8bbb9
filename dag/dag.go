// Package dag implements the topological walk, ancestor enumeration and
// cycle detection that a WorkflowManager runs once at construction time.
package dag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/swarmguard/workflow-engine/task"
)

// ErrCyclicGraph wraps a cycle witness detected in a task graph.
var ErrCyclicGraph = errors.New("dag: cyclic graph")

// Ancestors returns every task reachable from root via Parents (transitively),
// including root itself, in a valid topological order (parents before
// children). This is also the order the WorkflowManager uses as its
// insertion-order tiebreak for admission (§4.4, §8 invariant 8): both derive
// from the same walk.
func Ancestors(root task.Task) []task.Task {
	visited := make(map[task.Task]bool)
	var order []task.Task

	var visit func(t task.Task)
	visit = func(t task.Task) {
		if visited[t] {
			return
		}
		visited[t] = true
		for _, p := range t.Parents() {
			visit(p)
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

// TopoOrder returns any valid topological ordering of ancestors(root). The
// scheduler does not require this ordering; it exists for deterministic
// replay and debugging (§4.2).
func TopoOrder(root task.Task) []task.Task {
	return Ancestors(root)
}

// DetectCycle walks root's ancestry looking for a back-edge. It returns the
// cycle witness (the offending path, child-to-parent order — each task is
// followed by one of its parents — with the repeated task at both ends) or
// nil if the graph rooted at root is acyclic.
func DetectCycle(root task.Task) []task.Task {
	const (
		white = iota
		gray
		black
	)
	color := make(map[task.Task]int)
	var path []task.Task
	var witness []task.Task

	var visit func(t task.Task) bool
	visit = func(t task.Task) bool {
		color[t] = gray
		path = append(path, t)
		for _, p := range t.Parents() {
			switch color[p] {
			case gray:
				idx := indexOf(path, p)
				witness = append([]task.Task{}, path[idx:]...)
				witness = append(witness, p)
				return true
			case white:
				if visit(p) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[t] = black
		return false
	}

	if visit(root) {
		return witness
	}
	return nil
}

// CycleError formats a cycle witness as a single wrapped error for callers
// that only need a diagnostic, not the raw task slice.
func CycleError(witness []task.Task) error {
	names := make([]string, len(witness))
	for i, t := range witness {
		names[i] = t.Name()
	}
	return fmt.Errorf("%w: %s", ErrCyclicGraph, strings.Join(names, " -> "))
}

func indexOf(tasks []task.Task, t task.Task) int {
	for i, x := range tasks {
		if x == t {
			return i
		}
	}
	return -1
}
