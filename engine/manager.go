// Package engine implements the WorkflowManager: the concurrent scheduling
// loop that walks a task graph from a root, admits ready tasks under a
// global resource budget, reaps completions, and handles failure and
// cancellation (§4.4, §5).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/workflow-engine/dag"
	"github.com/swarmguard/workflow-engine/datum"
	"github.com/swarmguard/workflow-engine/internal/obslog"
	"github.com/swarmguard/workflow-engine/internal/obslog/otelinit"
	"github.com/swarmguard/workflow-engine/task"
	"github.com/swarmguard/workflow-engine/workerpool"
)

// Status is the terminal outcome of a Run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Publisher receives task/workflow state-transition notifications. A nil
// Publisher is a documented no-op — Manager checks before every call, so the
// engine runs identically with no event bus configured (§12.3).
type Publisher interface {
	PublishTaskState(ctx context.Context, workflowID, taskName, state string)
	PublishWorkflowState(ctx context.Context, workflowID, status string)
}

// Result is the outcome of a completed Run.
type Result struct {
	Status     Status
	Failed     []task.Task // diagnostic set for StatusFailed
	Deadlocked []task.Task // populated only when termination was due to Deadlock
	Cause      error
}

// Options configures a Manager. Meter and Tracer may be left nil (the
// no-op providers from otel.GetMeterProvider/GetTracerProvider are used);
// MaxWorkers defaults to 4; PollInterval defaults to 5ms.
type Options struct {
	Meter        metric.Meter
	Tracer       trace.Tracer
	MaxWorkers   int
	PollInterval time.Duration
	Pool         *workerpool.Pool
	Publisher    Publisher
}

type runningEntry struct {
	t      task.Task
	handle workerpool.Handle
	demand map[string]int
}

// Manager is the WorkflowManager described in §4.4.
type Manager struct {
	id    string
	root  task.Task
	pool  *workerpool.Pool
	tracer trace.Tracer
	logger *slog.Logger
	publisher Publisher

	admitted  metric.Int64Counter
	completed metric.Int64Counter
	failedCtr metric.Int64Counter
	runningGauge metric.Int64UpDownCounter

	pollInterval time.Duration

	mu          sync.Mutex
	ancestors   []task.Task
	pending     []task.Task
	running     map[string]*runningEntry
	budget      map[string]int
	available   map[string]int
	failedLatch bool
	cancelled   bool
	interrupted map[string]bool
	failedTasks []task.Task
	started     bool
	finished    bool
}

// New constructs a Manager for root. It computes ancestors, rejects cyclic
// graphs (ErrCyclicGraph), rejects demand the budget could never satisfy
// (ErrUnsatisfiableResource), and invokes InitializeOutputs on every
// ancestor — in that order, exactly as §4.4 specifies.
func New(root task.Task, budget map[string]int, opts Options) (*Manager, error) {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider().Meter("workflow-engine-manager")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.GetTracerProvider().Tracer("workflow-engine-manager")
	}
	if opts.Pool == nil {
		opts.Pool = workerpool.New(opts.MaxWorkers)
	}

	ancestors := dag.Ancestors(root)

	if witness := dag.DetectCycle(root); witness != nil {
		return nil, fmt.Errorf("%w: %s", ErrCyclicGraph, dag.CycleError(witness))
	}

	for _, t := range ancestors {
		for res, need := range t.Resources() {
			if budgetCap, tracked := budget[res]; tracked && need > budgetCap {
				return nil, fmt.Errorf("%w: task %q demands %s=%d, budget allows %d",
					ErrUnsatisfiableResource, t.Name(), res, need, budgetCap)
			}
		}
	}

	for _, t := range ancestors {
		if err := t.InitializeOutputs(); err != nil {
			return nil, fmt.Errorf("engine: initialize_outputs for %q: %w", t.Name(), err)
		}
	}

	available := make(map[string]int, len(budget))
	for res, budgetCap := range budget {
		available[res] = budgetCap
	}

	instruments := otelinit.NewEngineInstruments(opts.Meter)
	id := uuid.NewString()

	return &Manager{
		id:           id,
		root:         root,
		pool:         opts.Pool,
		tracer:       opts.Tracer,
		logger:       obslog.WithWorkflow(slog.Default(), id),
		publisher:    opts.Publisher,
		admitted:     instruments.Admitted,
		completed:    instruments.Completed,
		failedCtr:    instruments.Failed,
		runningGauge: instruments.Running,
		pollInterval: opts.PollInterval,
		ancestors:    ancestors,
		pending:      append([]task.Task{}, ancestors...),
		running:      make(map[string]*runningEntry),
		budget:       budget,
		available:    available,
		interrupted:  make(map[string]bool),
	}, nil
}

// ID returns the manager's generated workflow-run identity.
func (m *Manager) ID() string { return m.id }

// Status returns a task-name -> state snapshot for observability.
func (m *Manager) Status() map[string]task.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]task.State, len(m.ancestors))
	for _, t := range m.ancestors {
		out[t.Name()] = t.State()
	}
	return out
}

// Run blocks until the workflow reaches a terminal state.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	m.started = true
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "manager.run", trace.WithAttributes(
		attribute.String("workflow_id", m.id),
	))
	defer span.End()
	m.publishWorkflowState(ctx, "running")
	m.logger.Info("workflow run started", "ancestors", len(m.ancestors))

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			m.Cancel()
		}

		m.reap(ctx)
		m.admit(ctx)

		if result := m.checkTerminal(); result != nil {
			m.logger.Info("workflow run finished", "status", result.Status)
			m.publishWorkflowState(ctx, string(result.Status))
			return result, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}
}

// Cancel idempotently requests cancellation: sets failed_latch and invokes
// interrupt_cleanup on every currently running task (§4.4).
func (m *Manager) Cancel() {
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return
	}
	m.cancelled = true
	m.failedLatch = true
	toInterrupt := make([]*runningEntry, 0, len(m.running))
	for _, r := range m.running {
		toInterrupt = append(toInterrupt, r)
		m.interrupted[r.t.Name()] = true
	}
	m.mu.Unlock()

	for _, r := range toInterrupt {
		r.handle.Interrupt()
		r.t.InterruptCleanup()
	}
	m.logger.Info("workflow cancelled")
}

func (m *Manager) reap(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*runningEntry, 0, len(m.running))
	for _, r := range m.running {
		entries = append(entries, r)
	}
	m.mu.Unlock()

	for _, r := range entries {
		done, value, err := r.handle.Poll()
		if !done {
			continue
		}

		m.mu.Lock()
		delete(m.running, r.t.Name())
		for res, amt := range r.demand {
			if _, tracked := m.available[res]; tracked {
				m.available[res] += amt
			}
		}
		wasInterrupted := m.interrupted[r.t.Name()]
		m.mu.Unlock()
		m.runningGauge.Add(ctx, -1)

		if err != nil {
			m.failTask(ctx, r.t, err, wasInterrupted)
			continue
		}

		raw, _ := value.(map[string]any)
		if ferr := r.t.Finalize(raw); ferr != nil {
			m.failTask(ctx, r.t, ferr, wasInterrupted)
			continue
		}

		r.t.SetState(task.Complete)
		m.completed.Add(ctx, 1)
		m.publishTaskState(ctx, r.t.Name(), "complete")
		obslog.WithTask(m.logger, r.t.Name()).Info("task complete")
	}
}

func (m *Manager) failTask(ctx context.Context, t task.Task, cause error, wasInterrupted bool) {
	if !wasInterrupted {
		t.FailCleanup()
	}
	t.SetState(task.Failed)

	m.mu.Lock()
	m.failedLatch = true
	m.failedTasks = append(m.failedTasks, t)
	m.mu.Unlock()

	m.failedCtr.Add(ctx, 1)
	m.publishTaskState(ctx, t.Name(), "failed")
	obslog.WithTask(m.logger, t.Name()).Warn("task failed", "error", cause)
}

func (m *Manager) admit(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failedLatch {
		return
	}

	var stillPending []task.Task
	for _, t := range m.pending {
		if t.State() != task.Waiting || !m.ready(t) || !m.demandFits(t.Resources()) {
			stillPending = append(stillPending, t)
			continue
		}

		m.deduct(t.Resources())
		t.SetState(task.Running)

		handle := m.pool.Submit(ctx, func(ctx context.Context) (any, error) {
			args, err := t.CollectInputs()
			if err != nil {
				return nil, err
			}
			return t.RunLogic(ctx, args)
		})
		m.running[t.Name()] = &runningEntry{t: t, handle: handle, demand: t.Resources()}
		m.runningGauge.Add(ctx, 1)
		m.admitted.Add(ctx, 1)
		m.publishTaskState(ctx, t.Name(), "running")
		obslog.WithTask(m.logger, t.Name()).Info("task admitted")
	}
	m.pending = stillPending
}

// ready reports whether t's parents are all COMPLETE and its inputs are all
// AVAILABLE. Must be called with m.mu held.
func (m *Manager) ready(t task.Task) bool {
	for _, p := range t.Parents() {
		if p.State() != task.Complete {
			return false
		}
	}
	for _, in := range t.Inputs() {
		d, ok := in.Resolve()
		if !ok || d.State() != datum.Available {
			return false
		}
	}
	return true
}

func (m *Manager) demandFits(demand map[string]int) bool {
	for res, need := range demand {
		if need <= 0 {
			continue
		}
		if cap, tracked := m.available[res]; tracked && need > cap {
			return false
		}
	}
	return true
}

func (m *Manager) deduct(demand map[string]int) {
	for res, need := range demand {
		if _, tracked := m.available[res]; tracked {
			m.available[res] -= need
		}
	}
}

// checkTerminal evaluates the §4.4 termination conditions. Returns nil if
// the loop should continue.
func (m *Manager) checkTerminal() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished {
		return nil
	}

	if m.failedLatch && len(m.running) == 0 {
		m.finished = true
		return &Result{Status: StatusFailed, Failed: append([]task.Task{}, m.failedTasks...)}
	}

	if len(m.running) == 0 && len(m.pending) == 0 {
		m.finished = true
		if m.root.State() == task.Complete {
			return &Result{Status: StatusComplete}
		}
		return &Result{Status: StatusFailed, Cause: ErrDeadlock}
	}

	if len(m.running) == 0 && len(m.pending) > 0 {
		// Nothing running and nothing pending was admittable this round,
		// with no failure to explain the stall: the Deadlock terminal
		// state, reported with the stuck set.
		m.finished = true
		return &Result{Status: StatusFailed, Deadlocked: append([]task.Task{}, m.pending...), Cause: ErrDeadlock}
	}

	return nil
}

func (m *Manager) publishTaskState(ctx context.Context, taskName, state string) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishTaskState(ctx, m.id, taskName, state)
}

func (m *Manager) publishWorkflowState(ctx context.Context, status string) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishWorkflowState(ctx, m.id, status)
}
