// Package tasks ships concrete task.Body implementations (§12.5): a
// pure-function task, an HTTP task wrapping the teacher's connection-pooled
// client with a status-aware retry/breaker pairing, and a shell task
// carrying the teacher's command allowlist forward.
package tasks

import (
	"context"
	"fmt"

	"github.com/swarmguard/workflow-engine/data"
	"github.com/swarmguard/workflow-engine/datum"
	"github.com/swarmguard/workflow-engine/task"
)

// Logic is a pure Go closure: it receives resolved input data and returns
// named outputs, one entry per declared output.
type Logic func(ctx context.Context, args task.WorkerArgs) (map[string]any, error)

// funcBody is the simplest task.Body: every declared output is backed by an
// in-memory Datum (data.NewMemory), and inputs/outputs pass through to logic
// verbatim.
type funcBody struct {
	logic Logic
}

func (f *funcBody) InitializeOutputs(spec map[string]task.OutputSpec) (map[string]datum.Datum, error) {
	out := make(map[string]datum.Datum, len(spec))
	for name := range spec {
		out[name] = data.NewMemory()
	}
	return out, nil
}

func (f *funcBody) CollectInputs(inputs map[string]datum.Datum) (task.WorkerArgs, error) {
	args := make(map[string]any, len(inputs))
	for name, d := range inputs {
		args[name] = d.Pointer()
	}
	return args, nil
}

func (f *funcBody) RunLogic(ctx context.Context, args task.WorkerArgs) (map[string]any, error) {
	return f.logic(ctx, args)
}

func (f *funcBody) InterruptCleanup() {}
func (f *funcBody) FailCleanup()      {}

// NewFunc builds a Task whose body is a plain Go closure. outputSpec names
// the outputs logic must return; inputs/resources follow task.NewBase.
func NewFunc(name string, logic Logic, outputSpec map[string]task.OutputSpec, inputs []task.NamedInput, resources map[string]int) *task.Base {
	if logic == nil {
		logic = func(context.Context, task.WorkerArgs) (map[string]any, error) {
			return nil, fmt.Errorf("tasks: %q has no logic attached", name)
		}
	}
	return task.NewBase(name, &funcBody{logic: logic}, outputSpec, inputs, resources)
}
