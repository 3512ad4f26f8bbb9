package task

import (
	"context"
	"testing"

	"github.com/swarmguard/workflow-engine/datum"
)

// fnBody is a minimal Body wrapping a Go closure, mirroring tasks.Func
// closely enough for unit tests without importing the tasks package (which
// itself depends on task).
type fnBody struct {
	run       func(args WorkerArgs) (map[string]any, error)
	outNames  []string
	interrupts int
	fails      int
}

func (f *fnBody) InitializeOutputs(spec map[string]OutputSpec) (map[string]datum.Datum, error) {
	out := make(map[string]datum.Datum, len(f.outNames))
	for _, name := range f.outNames {
		out[name] = datum.NewBase(&passthroughBackend{})
	}
	return out, nil
}

func (f *fnBody) CollectInputs(inputs map[string]datum.Datum) (WorkerArgs, error) {
	collected := make(map[string]any, len(inputs))
	for name, d := range inputs {
		collected[name] = d.Pointer()
	}
	return collected, nil
}

func (f *fnBody) RunLogic(ctx context.Context, args WorkerArgs) (map[string]any, error) {
	return f.run(args)
}

func (f *fnBody) InterruptCleanup() { f.interrupts++ }
func (f *fnBody) FailCleanup()      { f.fails++ }

type passthroughBackend struct{}

func (passthroughBackend) ValidateFormat(any) bool    { return true }
func (passthroughBackend) VerifyAvailable(any) bool   { return true }
func (passthroughBackend) ClearLogic(any)             {}
func (passthroughBackend) Quickhash(pointer any) string {
	return "h"
}

func directInt(v int) Direct {
	d := datum.NewBase(&passthroughBackend{})
	_ = d.Populate(v)
	_ = d.Verify()
	return Direct{D: d}
}

func TestBaseFullLifecycleSuccess(t *testing.T) {
	body := &fnBody{
		outNames: []string{"out"},
		run: func(args WorkerArgs) (map[string]any, error) {
			m := args.(map[string]any)
			return map[string]any{"out": m["x"].(int) + 1}, nil
		},
	}
	tk := NewBase("t0", body, map[string]OutputSpec{"out": nil}, []NamedInput{
		{Name: "x", Input: directInt(3)},
	}, nil)

	if err := tk.InitializeOutputs(); err != nil {
		t.Fatalf("initialize_outputs: %v", err)
	}
	args, err := tk.CollectInputs()
	if err != nil {
		t.Fatalf("collect_inputs: %v", err)
	}
	raw, err := tk.RunLogic(context.Background(), args)
	if err != nil {
		t.Fatalf("run_logic: %v", err)
	}
	if err := tk.Finalize(raw); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	d, _ := tk.Outputs().Get("out")
	if d.State() != datum.Available {
		t.Fatalf("expected output AVAILABLE, got %s", d.State())
	}
	if d.Pointer() != 4 {
		t.Fatalf("expected output 4, got %v", d.Pointer())
	}
}

func TestCollectInputsFailsWhenNotReady(t *testing.T) {
	notReady := datum.NewBase(&passthroughBackend{})
	_ = notReady.Populate(1) // POPULATED, not verified -> not AVAILABLE

	body := &fnBody{outNames: nil}
	tk := NewBase("t", body, nil, []NamedInput{
		{Name: "x", Input: Direct{D: notReady}},
	}, nil)

	if _, err := tk.CollectInputs(); err == nil {
		t.Fatalf("expected InputNotReady error")
	}
}

func TestFinalizeOutputMissing(t *testing.T) {
	body := &fnBody{outNames: []string{"out"}}
	tk := NewBase("t", body, map[string]OutputSpec{"out": nil}, nil, nil)
	_ = tk.InitializeOutputs()

	if err := tk.Finalize(map[string]any{}); err == nil {
		t.Fatalf("expected OutputMissing error")
	}
}

func TestParentsDerivedFromOutputRefs(t *testing.T) {
	parentBody := &fnBody{outNames: []string{"out"}}
	parent := NewBase("parent", parentBody, map[string]OutputSpec{"out": nil}, nil, nil)
	_ = parent.InitializeOutputs()

	childBody := &fnBody{}
	child := NewBase("child", childBody, nil, []NamedInput{
		{Name: "in", Input: parent.Output("out")},
	}, nil)

	parents := child.Parents()
	if len(parents) != 1 || parents[0].Name() != "parent" {
		t.Fatalf("expected single parent %q, got %v", "parent", parents)
	}
}

func TestStateTransitionsViaSetState(t *testing.T) {
	tk := NewBase("t", &fnBody{}, nil, nil, nil)
	if tk.State() != Waiting {
		t.Fatalf("expected initial state WAITING, got %s", tk.State())
	}
	tk.SetState(Running)
	if tk.State() != Running {
		t.Fatalf("expected RUNNING, got %s", tk.State())
	}
	tk.SetState(Complete)
	if tk.State() != Complete {
		t.Fatalf("expected COMPLETE, got %s", tk.State())
	}
}
