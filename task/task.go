// Package task implements the polymorphic Task state machine: units of work
// with declared inputs/outputs and resource demands, scheduled exclusively by
// a WorkflowManager.
package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/swarmguard/workflow-engine/datum"
)

// State is a Task's position in its state machine.
type State int

const (
	Waiting State = iota
	Running
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrInputNotReady indicates collect_inputs was invoked with an input whose
	// Datum is not AVAILABLE — a scheduler invariant violation, not a normal
	// task failure.
	ErrInputNotReady = errors.New("task: input not ready")
	// ErrOutputMissing indicates finalize was handed a raw output map lacking
	// a declared output name.
	ErrOutputMissing = errors.New("task: declared output missing from result")
)

// WorkerArgs is the opaque argument form a Body's RunLogic consumes; its
// concrete shape is a private contract between a Body's CollectInputs and
// RunLogic methods.
type WorkerArgs any

// OutputSpec is a user-facing output specification (a string template, nil,
// a partially-built datum.Datum, ...); its interpretation is entirely up to
// the Body implementation bound to a task.
type OutputSpec any

// Input is anything a Task input binding can resolve to: a concrete Datum
// supplied directly by the caller, or a lazy reference into an upstream
// task's outputs (see OutputRef).
type Input interface {
	Resolve() (datum.Datum, bool)
}

// Direct wraps a Datum supplied directly by the user as an external input.
type Direct struct {
	D datum.Datum
}

func (d Direct) Resolve() (datum.Datum, bool) {
	return d.D, d.D != nil
}

// OutputRef is the ergonomic `task[key]` handle: a name plus a weak
// back-reference to the producing Task, resolved to the concrete Datum once
// the producer's outputs have been initialized (§9 design notes).
type OutputRef struct {
	producer Task
	name     string
}

// Producer returns the task that owns this output.
func (r *OutputRef) Producer() Task { return r.producer }

// Name returns the output name this reference denotes.
func (r *OutputRef) Name() string { return r.name }

func (r *OutputRef) Resolve() (datum.Datum, bool) {
	outs := r.producer.Outputs()
	if outs == nil {
		return nil, false
	}
	return outs.Get(r.name)
}

// Body is the external, concrete-task-variant contract (§6.2): pure-function,
// file-backed, shell-script, HTTP, or any other task body plugs in here. The
// engine only ever talks to the Task interface, never to Body directly.
type Body interface {
	// InitializeOutputs converts the user-facing output specs into concrete
	// Datum instances, keyed by output name.
	InitializeOutputs(spec map[string]OutputSpec) (map[string]datum.Datum, error)
	// CollectInputs resolves AVAILABLE input datums into the argument form
	// RunLogic consumes.
	CollectInputs(inputs map[string]datum.Datum) (WorkerArgs, error)
	// RunLogic performs the computation; it must be safe to run in a worker
	// context distinct from the scheduler's.
	RunLogic(ctx context.Context, args WorkerArgs) (map[string]any, error)
	// InterruptCleanup is called when the workflow is cancelled while this
	// task is RUNNING; must be idempotent.
	InterruptCleanup()
	// FailCleanup is called when the task fails or its worker crashes.
	FailCleanup()
}

// NamedInput pairs an input name with its binding, preserving the caller's
// declaration order — Parents() and admission-order determinism both depend
// on this order being stable rather than a Go map's.
type NamedInput struct {
	Name  string
	Input Input
}

// Task is the engine-facing contract a WorkflowManager schedules against. Base
// implements every method below; concrete task variants are built by pairing
// a Base with a Body (see the tasks package for reference implementations).
type Task interface {
	Name() string
	State() State
	SetState(State)
	Resources() map[string]int
	Inputs() map[string]Input
	Outputs() *datum.Collection
	Parents() []Task
	Output(name string) *OutputRef

	InitializeOutputs() error
	CollectInputs() (WorkerArgs, error)
	RunLogic(ctx context.Context, args WorkerArgs) (map[string]any, error)
	Finalize(raw map[string]any) error
	InterruptCleanup()
	FailCleanup()
}

// Base implements the state-machine enforcement, input-readiness checks and
// finalization logic described in §4.3, delegating the task-variant-specific
// logic to a Body.
type Base struct {
	mu        sync.Mutex
	name      string
	state     State
	body      Body
	outputSpec map[string]OutputSpec
	inputs    []NamedInput
	resources map[string]int
	outputs   *datum.Collection
}

// NewBase constructs a WAITING task. inputs declares, in order, every input
// binding (direct Datum or upstream OutputRef); resources declares
// nonnegative demand per resource key (absent keys mean zero demand).
func NewBase(name string, body Body, outputSpec map[string]OutputSpec, inputs []NamedInput, resources map[string]int) *Base {
	return &Base{
		name:       name,
		state:      Waiting,
		body:       body,
		outputSpec: outputSpec,
		inputs:     inputs,
		resources:  resources,
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState is called exclusively by the WorkflowManager; tasks never mutate
// their own state.
func (b *Base) SetState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Base) Resources() map[string]int {
	return b.resources
}

// SetInputs (re)binds the task's input list after construction, needed when
// wiring edges that can only be expressed once both endpoints exist (e.g. a
// deliberately-constructed cycle for testing detect_cycle, or a builder that
// resolves bindings in a second pass). Not used by the scheduler itself.
func (b *Base) SetInputs(inputs []NamedInput) {
	b.mu.Lock()
	b.inputs = inputs
	b.mu.Unlock()
}

func (b *Base) Inputs() map[string]Input {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Input, len(b.inputs))
	for _, ni := range b.inputs {
		out[ni.Name] = ni.Input
	}
	return out
}

func (b *Base) Outputs() *datum.Collection {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs
}

// Parents derives the set of tasks whose outputs feed this task's inputs, in
// first-seen declaration order.
func (b *Base) Parents() []Task {
	b.mu.Lock()
	inputs := b.inputs
	b.mu.Unlock()

	seen := make(map[Task]bool)
	var out []Task
	for _, ni := range inputs {
		ref, ok := ni.Input.(*OutputRef)
		if !ok {
			continue
		}
		p := ref.Producer()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Output returns the ergonomic `task[key]` handle for name. Concrete task
// variants are constructed as plain *Base values (see the tasks package), so
// the back-reference below is the same pointer identity the WorkflowManager
// schedules against.
func (b *Base) Output(name string) *OutputRef {
	return &OutputRef{producer: b, name: name}
}

func (b *Base) InitializeOutputs() error {
	outs, err := b.body.InitializeOutputs(b.outputSpec)
	if err != nil {
		return fmt.Errorf("task %q: initialize_outputs: %w", b.name, err)
	}
	col := datum.NewCollection()
	for _, name := range sortedKeys(b.outputSpec, outs) {
		col.Set(name, outs[name])
	}
	b.mu.Lock()
	b.outputs = col
	b.mu.Unlock()
	return nil
}

func (b *Base) CollectInputs() (WorkerArgs, error) {
	b.mu.Lock()
	inputs := b.inputs
	b.mu.Unlock()

	resolved := make(map[string]datum.Datum, len(inputs))
	for _, ni := range inputs {
		d, ok := ni.Input.Resolve()
		if !ok || d.State() != datum.Available {
			return nil, fmt.Errorf("task %q: %w: input %q", b.name, ErrInputNotReady, ni.Name)
		}
		resolved[ni.Name] = d
	}
	args, err := b.body.CollectInputs(resolved)
	if err != nil {
		return nil, fmt.Errorf("task %q: collect_inputs: %w", b.name, err)
	}
	return args, nil
}

func (b *Base) RunLogic(ctx context.Context, args WorkerArgs) (map[string]any, error) {
	return b.body.RunLogic(ctx, args)
}

// Finalize populates then verifies every declared output Datum with the
// matching entry of raw. It is invoked by the WorkflowManager's control
// thread after a worker returns success, never from within the worker.
func (b *Base) Finalize(raw map[string]any) error {
	outs := b.Outputs()
	if outs == nil {
		return nil
	}
	for _, name := range outs.Names() {
		d, _ := outs.Get(name)
		ptr, ok := raw[name]
		if !ok {
			return fmt.Errorf("task %q: %w: %q", b.name, ErrOutputMissing, name)
		}
		if err := d.Populate(ptr); err != nil {
			return fmt.Errorf("task %q: finalize %q: %w", b.name, name, err)
		}
		if err := d.Verify(); err != nil {
			return fmt.Errorf("task %q: finalize %q: %w", b.name, name, err)
		}
	}
	return nil
}

func (b *Base) InterruptCleanup() { b.body.InterruptCleanup() }
func (b *Base) FailCleanup()      { b.body.FailCleanup() }

// sortedKeys returns outs' keys in lexical order. Go maps carry no insertion
// order, so a deterministic Collection order is synthesized by sorting names
// rather than guessing at spec's declaration order.
func sortedKeys(_ map[string]OutputSpec, outs map[string]datum.Datum) []string {
	order := make([]string, 0, len(outs))
	for name := range outs {
		order = append(order, name)
	}
	sort.Strings(order)
	return order
}
