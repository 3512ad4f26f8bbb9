package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swarmguard/workflow-engine/datum"
	"github.com/swarmguard/workflow-engine/task"
)

func TestFuncTaskProducesDeclaredOutput(t *testing.T) {
	outSpec := map[string]task.OutputSpec{"sum": nil}
	tk := NewFunc("add", func(ctx context.Context, args task.WorkerArgs) (map[string]any, error) {
		m := args.(map[string]any)
		return map[string]any{"sum": m["x"].(int) + m["y"].(int)}, nil
	}, outSpec, nil, nil)

	if err := tk.InitializeOutputs(); err != nil {
		t.Fatalf("initialize outputs: %v", err)
	}
	args, err := tk.CollectInputs()
	if err != nil {
		t.Fatalf("collect inputs: %v", err)
	}
	_ = args

	raw, err := tk.RunLogic(context.Background(), map[string]any{"x": 2, "y": 3})
	if err != nil {
		t.Fatalf("run logic: %v", err)
	}
	if err := tk.Finalize(raw); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	d, ok := tk.Outputs().Get("sum")
	if !ok {
		t.Fatalf("expected sum output")
	}
	if d.State() != datum.Available {
		t.Fatalf("expected output Available, got %s", d.State())
	}
	if d.Pointer().(int) != 5 {
		t.Fatalf("expected 5, got %v", d.Pointer())
	}
}

func TestFuncTaskNoLogicFails(t *testing.T) {
	tk := NewFunc("empty", nil, nil, nil, nil)
	if err := tk.InitializeOutputs(); err != nil {
		t.Fatalf("initialize outputs: %v", err)
	}
	if _, err := tk.RunLogic(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected error for a task with no attached logic")
	}
}

func TestHTTPTaskFetchesAndPopulatesOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	// A JSON object response is the raw output map itself: each top-level
	// key is one output.
	outSpec := map[string]task.OutputSpec{"ok": nil}
	tk := NewHTTP("fetch", HTTPSpec{Method: http.MethodGet, URL: srv.URL}, outSpec, nil, nil)

	if err := tk.InitializeOutputs(); err != nil {
		t.Fatalf("initialize outputs: %v", err)
	}
	args, err := tk.CollectInputs()
	if err != nil {
		t.Fatalf("collect inputs: %v", err)
	}
	raw, err := tk.RunLogic(context.Background(), args)
	if err != nil {
		t.Fatalf("run logic: %v", err)
	}
	if raw["ok"] != true {
		t.Fatalf("expected output key %q = true, got %v", "ok", raw)
	}
	if err := tk.Finalize(raw); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func TestHTTPTaskSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tk := NewHTTP("fetch", HTTPSpec{Method: http.MethodGet, URL: srv.URL}, nil, nil, nil)
	if err := tk.InitializeOutputs(); err != nil {
		t.Fatalf("initialize outputs: %v", err)
	}
	if _, err := tk.RunLogic(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected an error for a 500 response")
	}
}

func TestShellTaskRunsAllowlistedCommand(t *testing.T) {
	outSpec := map[string]task.OutputSpec{"result": nil}
	tk := NewShell("greet", "echo hello", nil, outSpec, nil, nil)
	if err := tk.InitializeOutputs(); err != nil {
		t.Fatalf("initialize outputs: %v", err)
	}
	raw, err := tk.RunLogic(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("run logic: %v", err)
	}
	if raw["stdout"] != "hello\n" {
		t.Fatalf("expected stdout %q, got %q", "hello\n", raw["stdout"])
	}
}

func TestShellTaskRejectsDisallowedCommand(t *testing.T) {
	tk := NewShell("danger", "rm -rf /", nil, nil, nil, nil)
	if err := tk.InitializeOutputs(); err != nil {
		t.Fatalf("initialize outputs: %v", err)
	}
	if _, err := tk.RunLogic(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected command-not-allowed error")
	}
}
