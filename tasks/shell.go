package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/workflow-engine/data"
	"github.com/swarmguard/workflow-engine/datum"
	"github.com/swarmguard/workflow-engine/task"
)

// DefaultShellAllowlist mirrors the teacher's ShellPlugin whitelist: only
// these commands may be invoked by a shell task.
var DefaultShellAllowlist = map[string]bool{
	"echo": true,
	"cat":  true,
	"grep": true,
	"awk":  true,
	"sed":  true,
	"jq":   true,
}

// shellBody runs a single allowlisted command, resolving {{name}} from its
// own CollectInputs result into the command string before parsing argv.
type shellBody struct {
	command   string
	allowlist map[string]bool
	tracer    trace.Tracer
}

// NewShell builds a Task that runs command through an allowlist check;
// command may reference {{input}} placeholders resolved from inputs.
// allowlist defaults to DefaultShellAllowlist when nil.
func NewShell(name, command string, allowlist map[string]bool, outputSpec map[string]task.OutputSpec, inputs []task.NamedInput, resources map[string]int) *task.Base {
	if allowlist == nil {
		allowlist = DefaultShellAllowlist
	}
	body := &shellBody{
		command:   command,
		allowlist: allowlist,
		tracer:    otel.Tracer("workflow-engine-tasks-shell"),
	}
	return task.NewBase(name, body, outputSpec, inputs, resources)
}

func (s *shellBody) InitializeOutputs(spec map[string]task.OutputSpec) (map[string]datum.Datum, error) {
	out := make(map[string]datum.Datum, len(spec))
	for name := range spec {
		out[name] = data.NewMemory()
	}
	return out, nil
}

func (s *shellBody) CollectInputs(inputs map[string]datum.Datum) (task.WorkerArgs, error) {
	args := make(map[string]any, len(inputs))
	for name, d := range inputs {
		args[name] = d.Pointer()
	}
	return args, nil
}

func (s *shellBody) RunLogic(ctx context.Context, rawArgs task.WorkerArgs) (map[string]any, error) {
	args, _ := rawArgs.(map[string]any)
	_, span := s.tracer.Start(ctx, "tasks.shell.execute")
	defer span.End()

	resolved := resolveTemplate(s.command, args)
	parts := strings.Fields(resolved)
	if len(parts) == 0 {
		return nil, fmt.Errorf("tasks: empty shell command")
	}
	if !s.allowlist[parts[0]] {
		return nil, fmt.Errorf("tasks: command not allowed: %s", parts[0])
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tasks: command %q failed: %w: %s", parts[0], err, stderr.String())
	}

	return map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	}, nil
}

func (s *shellBody) InterruptCleanup() {}
func (s *shellBody) FailCleanup()      {}
