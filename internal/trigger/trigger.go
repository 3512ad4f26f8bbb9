// Package trigger adapts the teacher's cron-driven scheduler to fire
// independent workflow executions (§12.2): each firing builds a fresh root
// task and hands it to a brand-new engine.Manager. No state is shared between
// firings, consistent with "one WorkflowManager per graph, no
// distributed/resumed state."
package trigger

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/workflow-engine/engine"
	"github.com/swarmguard/workflow-engine/task"
)

// RootFactory builds a fresh root task for a single firing.
type RootFactory func() task.Task

// ResultHandler observes the outcome of a single firing. It may be nil.
type ResultHandler func(name string, result *engine.Result, err error)

// Scheduler fires named cron entries, each launching an independent
// workflow run.
type Scheduler struct {
	cron      *cron.Cron
	budget    map[string]int
	opts      engine.Options
	onResult  ResultHandler
	logger    *slog.Logger
}

// New returns a Scheduler that admits tasks under budget using opts for every
// Manager it constructs.
func New(budget map[string]int, opts engine.Options, onResult ResultHandler) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		budget:   budget,
		opts:     opts,
		onResult: onResult,
		logger:   slog.Default(),
	}
}

// AddSchedule registers factory to fire on cronExpr, identified by name in
// logs and result callbacks.
func (s *Scheduler) AddSchedule(name, cronExpr string, factory RootFactory) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		s.fire(context.Background(), name, factory)
	})
	return err
}

func (s *Scheduler) fire(ctx context.Context, name string, factory RootFactory) {
	root := factory()
	mgr, err := engine.New(root, s.budget, s.opts)
	if err != nil {
		s.logger.Error("trigger: construction failed", "schedule", name, "error", err)
		if s.onResult != nil {
			s.onResult(name, nil, err)
		}
		return
	}
	s.logger.Info("trigger: firing", "schedule", name, "workflow_id", mgr.ID())
	result, err := mgr.Run(ctx)
	if s.onResult != nil {
		s.onResult(name, result, err)
	}
}

// Start begins evaluating registered schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts schedule evaluation; running workflows are not cancelled.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
