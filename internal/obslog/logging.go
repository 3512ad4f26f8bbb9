// Package obslog configures the process-wide structured logger and scopes it
// to the workflow/task identity a log line belongs to.
package obslog

import (
	"log/slog"
	"os"
	"strings"
)

// maxAttrLen bounds any single string attribute value. A failed HTTP task's
// error carries the remote response body verbatim (see tasks.statusError) —
// without a cap, one noisy downstream service can blow up log volume on
// every retry of every task instance.
const maxAttrLen = 2048

// Init configures a global slog logger. JSON if WORKFLOW_JSON_LOG=1/true else
// text; string attribute values longer than maxAttrLen are truncated.
func Init(component string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("WORKFLOW_JSON_LOG"))
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv(), ReplaceAttr: truncateLongValues}
	var handler slog.Handler
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("component", component)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", mode == "1" || mode == "true" || mode == "json")
	return logger
}

func truncateLongValues(groups []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString, slog.KindAny:
	default:
		return a
	}
	s := a.Value.String()
	if len(s) <= maxAttrLen {
		return a
	}
	a.Value = slog.StringValue(s[:maxAttrLen] + "...(truncated)")
	return a
}

func levelFromEnv() slog.Leveler {
	lvl := strings.ToLower(os.Getenv("WORKFLOW_LOG_LEVEL"))
	switch lvl {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// WithWorkflow scopes logger to a single workflow run. engine.Manager
// attaches this once at construction so every log line it emits for the
// run's lifetime — admit, reap, fail, cancel — carries workflow_id without
// each call site passing it individually.
func WithWorkflow(logger *slog.Logger, workflowID string) *slog.Logger {
	return logger.With("workflow_id", workflowID)
}

// WithTask further scopes a workflow-scoped logger to a single task name,
// used by engine.Manager's per-task admit/reap/fail log lines.
func WithTask(logger *slog.Logger, taskName string) *slog.Logger {
	return logger.With("task", taskName)
}
