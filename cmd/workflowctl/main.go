// Command workflowctl is a reference binary wiring the workflow-engine
// packages into an HTTP service: submit a DAG definition, run it under a
// resource budget, and observe its outcome. It mirrors the teacher's
// service shape (obslog/otelinit bootstrap, signal-driven shutdown; a
// /metrics route is mounted only when InitMetrics returns a scrape handler,
// which its push-only OTLP exporter never does) while driving the engine,
// dag, task and tasks packages built for this spec instead of the teacher's
// inline scheduler.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/workflow-engine/engine"
	"github.com/swarmguard/workflow-engine/internal/eventbus"
	"github.com/swarmguard/workflow-engine/internal/history"
	"github.com/swarmguard/workflow-engine/internal/obslog"
	"github.com/swarmguard/workflow-engine/internal/obslog/otelinit"
	"github.com/swarmguard/workflow-engine/task"
	"github.com/swarmguard/workflow-engine/tasks"
)

// taskSpec is the wire format for a single graph node.
type taskSpec struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"` // "http" or "shell"
	DependsOn  []string          `json:"depends_on"`
	Resources  map[string]int    `json:"resources"`
	Outputs    []string          `json:"outputs"`
	HTTP       *tasks.HTTPSpec   `json:"http,omitempty"`
	Shell      string            `json:"shell,omitempty"`
	Allowlist  map[string]bool   `json:"allowlist,omitempty"`
}

// workflowSpec is a full DAG submitted over /v1/workflows.
type workflowSpec struct {
	Name  string     `json:"name"`
	Tasks []taskSpec `json:"tasks"`
}

type runRequest struct {
	Workflow string `json:"workflow"`
}

type workflowStore struct {
	mu sync.RWMutex
	wf map[string]workflowSpec
}

func newStore() *workflowStore { return &workflowStore{wf: make(map[string]workflowSpec)} }

func (s *workflowStore) put(w workflowSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wf[w.Name] = w
}

func (s *workflowStore) get(name string) (workflowSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wf[name]
	return w, ok
}

// buildGraph turns a workflowSpec into a single root task.Task. Each node is
// built first with no inputs, then a second pass binds every DependsOn edge
// to the upstream task's declared outputs, one-to-one in order. The graph's
// root is whichever single task nothing else depends on (the sink).
func buildGraph(wf workflowSpec) (task.Task, error) {
	nodes := make(map[string]*task.Base, len(wf.Tasks))
	specByName := make(map[string]taskSpec, len(wf.Tasks))

	for _, ts := range wf.Tasks {
		outSpec := make(map[string]task.OutputSpec, len(ts.Outputs))
		for _, name := range ts.Outputs {
			outSpec[name] = nil
		}
		var node *task.Base
		switch ts.Type {
		case "http":
			if ts.HTTP == nil {
				return nil, fmt.Errorf("task %q: type http requires an http spec", ts.Name)
			}
			node = tasks.NewHTTP(ts.Name, *ts.HTTP, outSpec, nil, ts.Resources)
		case "shell":
			node = tasks.NewShell(ts.Name, ts.Shell, ts.Allowlist, outSpec, nil, ts.Resources)
		default:
			return nil, fmt.Errorf("task %q: unsupported type %q", ts.Name, ts.Type)
		}
		nodes[ts.Name] = node
		specByName[ts.Name] = ts
	}

	dependedOn := make(map[string]bool, len(nodes))
	for name, node := range nodes {
		ts := specByName[name]
		inputs := make([]task.NamedInput, 0, len(ts.DependsOn))
		for _, parentName := range ts.DependsOn {
			parent, ok := nodes[parentName]
			if !ok {
				return nil, fmt.Errorf("task %q: unknown dependency %q", name, parentName)
			}
			dependedOn[parentName] = true
			for _, outName := range specByName[parentName].Outputs {
				inputs = append(inputs, task.NamedInput{
					Name:  fmt.Sprintf("%s.%s", parentName, outName),
					Input: parent.Output(outName),
				})
			}
		}
		node.SetInputs(inputs)
	}

	var roots []string
	for name := range nodes {
		if !dependedOn[name] {
			roots = append(roots, name)
		}
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("workflow %q: expected exactly one sink task, found %d", wf.Name, len(roots))
	}
	return nodes[roots[0]], nil
}

func main() {
	service := "workflow-engine"
	obslog.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, service)

	store := newStore()
	store.put(workflowSpec{
		Name: "sample",
		Tasks: []taskSpec{
			{Name: "greet", Type: "shell", Shell: "echo hello", Outputs: []string{"stdout"}},
		},
	})

	histPath := "workflow_history.db"
	histStore, err := history.Open(histPath)
	if err != nil {
		slog.Error("history store init failed", "error", err)
	}
	var bus *eventbus.Bus
	if nc := connectNATS(); nc != nil {
		bus = eventbus.New(nc, "workflow.state", 50)
	}

	meter := otel.GetMeterProvider().Meter(service)
	runCounter, _ := meter.Int64Counter("workflow_engine_runs_total")
	runErrors, _ := meter.Int64Counter("workflow_engine_run_errors_total")
	wfLatency, _ := meter.Float64Histogram("workflow_engine_duration_ms")
	tracer := otel.Tracer(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var wf workflowSpec
			if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if wf.Name == "" {
				http.Error(w, "name required", http.StatusBadRequest)
				return
			}
			if _, err := buildGraph(wf); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			store.put(wf)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(wf)
		case http.MethodGet:
			wf, ok := store.get(r.URL.Query().Get("name"))
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(wf)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		wf, ok := store.get(req.Workflow)
		if !ok {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		root, err := buildGraph(wf)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		budget := aggregateResources(wf)
		mgr, err := engine.New(root, budget, engine.Options{
			Meter:      meter,
			Tracer:     tracer,
			MaxWorkers: 8,
			Publisher:  bus,
		})
		if err != nil {
			runErrors.Add(r.Context(), 1, metric.WithAttributes(attribute.String("workflow", wf.Name)))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctxRun, cancelRun := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancelRun()
		start := time.Now()
		result, err := mgr.Run(ctxRun)
		if err != nil {
			runErrors.Add(r.Context(), 1, metric.WithAttributes(attribute.String("workflow", wf.Name)))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		wfLatency.Record(r.Context(), float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("workflow", wf.Name)))
		runCounter.Add(r.Context(), 1, metric.WithAttributes(attribute.String("workflow", wf.Name)))

		if histStore != nil {
			if err := histStore.RecordRun(mgr, root, result, start); err != nil {
				slog.Error("history record failed", "error", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"workflow_id": mgr.ID(),
			"status":      result.Status,
			"tasks":       mgr.Status(),
		})
	})

	if promHandler != nil {
		if h, ok := promHandler.(http.Handler); ok {
			mux.Handle("/metrics", h)
		}
	}

	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()
	slog.Info("service started")

	<-ctx.Done()
	slog.Info("shutdown initiated")
	ctxSd, cancelSd := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSd()
	_ = srv.Shutdown(ctxSd)
	if histStore != nil {
		_ = histStore.Close()
	}
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}

// aggregateResources sums each task's declared resource demand into a
// conservative budget: every task could in principle run concurrently.
func aggregateResources(wf workflowSpec) map[string]int {
	budget := map[string]int{}
	for _, ts := range wf.Tasks {
		for k, v := range ts.Resources {
			budget[k] += v
		}
	}
	return budget
}
