package dag_test

import (
	"context"
	"testing"

	"github.com/swarmguard/workflow-engine/dag"
	"github.com/swarmguard/workflow-engine/datum"
	"github.com/swarmguard/workflow-engine/task"
)

type stubBackend struct{}

func (stubBackend) ValidateFormat(any) bool      { return true }
func (stubBackend) VerifyAvailable(any) bool      { return true }
func (stubBackend) ClearLogic(any)                {}
func (stubBackend) Quickhash(any) string          { return "h" }

type stubBody struct{ outNames []string }

func (b *stubBody) InitializeOutputs(spec map[string]task.OutputSpec) (map[string]datum.Datum, error) {
	out := make(map[string]datum.Datum, len(b.outNames))
	for _, n := range b.outNames {
		out[n] = datum.NewBase(stubBackend{})
	}
	return out, nil
}
func (b *stubBody) CollectInputs(map[string]datum.Datum) (task.WorkerArgs, error) { return nil, nil }
func (b *stubBody) RunLogic(context.Context, task.WorkerArgs) (map[string]any, error) {
	return nil, nil
}
func (b *stubBody) InterruptCleanup() {}
func (b *stubBody) FailCleanup()      {}

func newStub(name string, outs ...string) *task.Base {
	return task.NewBase(name, &stubBody{outNames: outs}, specFor(outs), nil, nil)
}

func specFor(outs []string) map[string]task.OutputSpec {
	spec := make(map[string]task.OutputSpec, len(outs))
	for _, o := range outs {
		spec[o] = nil
	}
	return spec
}

func TestAncestorsDiamond(t *testing.T) {
	x := datum.NewBase(stubBackend{})
	_ = x.Populate(3)
	_ = x.Verify()

	t0 := task.NewBase("t0", &stubBody{outNames: []string{"out"}}, specFor([]string{"out"}), []task.NamedInput{
		{Name: "x", Input: task.Direct{D: x}},
	}, nil)
	_ = t0.InitializeOutputs()

	t1 := task.NewBase("t1", &stubBody{outNames: []string{"out"}}, specFor([]string{"out"}), []task.NamedInput{
		{Name: "x", Input: t0.Output("out")},
	}, nil)
	_ = t1.InitializeOutputs()

	t2 := task.NewBase("t2", &stubBody{outNames: []string{"out"}}, specFor([]string{"out"}), []task.NamedInput{
		{Name: "x", Input: t0.Output("out")},
	}, nil)
	_ = t2.InitializeOutputs()

	t3 := task.NewBase("t3", &stubBody{outNames: []string{"out"}}, specFor([]string{"out"}), []task.NamedInput{
		{Name: "x", Input: t1.Output("out")},
		{Name: "y", Input: t2.Output("out")},
	}, nil)

	anc := dag.Ancestors(t3)
	if len(anc) != 4 {
		t.Fatalf("expected 4 ancestors, got %d", len(anc))
	}
	pos := map[string]int{}
	for i, tk := range anc {
		pos[tk.Name()] = i
	}
	if pos["t0"] > pos["t1"] || pos["t0"] > pos["t2"] {
		t.Fatalf("expected t0 before t1 and t2, got order %v", names(anc))
	}
	if pos["t1"] > pos["t3"] || pos["t2"] > pos["t3"] {
		t.Fatalf("expected t3 last, got order %v", names(anc))
	}
}

func TestDetectCycle(t *testing.T) {
	a := newStub("a", "out")
	b := task.NewBase("b", &stubBody{outNames: []string{"out"}}, specFor([]string{"out"}), []task.NamedInput{
		{Name: "in", Input: a.Output("out")},
	}, nil)
	// Close the loop: a now also depends on b's output, a cycle expressible
	// only after both tasks exist.
	a.SetInputs([]task.NamedInput{
		{Name: "in", Input: b.Output("out")},
	})

	witness := dag.DetectCycle(a)
	if witness == nil {
		t.Fatalf("expected a cycle to be detected")
	}
}

func TestDetectCycleNoneOnAcyclicGraph(t *testing.T) {
	a := newStub("a", "out")
	b := task.NewBase("b", &stubBody{outNames: []string{"out"}}, specFor([]string{"out"}), []task.NamedInput{
		{Name: "in", Input: a.Output("out")},
	}, nil)
	if witness := dag.DetectCycle(b); witness != nil {
		t.Fatalf("expected no cycle, got %v", names(witness))
	}
}

func names(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name()
	}
	return out
}
