// Package eventbus publishes workflow/task state-transition events to NATS,
// trace-context propagated, implementing engine.Publisher (§12.3).
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
)

var propagator = propagation.TraceContext{}

// Bus is the engine.Publisher-satisfying adapter: it publishes every task
// and workflow state transition to NATS, shedding publishes once a fixed
// per-second cap is hit rather than let a large fan-out reap/admit cycle
// flood the bus. A nil *Bus is a valid engine.Publisher (every method is
// nil-safe), matching the documented "no event bus configured" no-op.
type Bus struct {
	nc      *nats.Conn
	subject string
	limiter *publishLimiter
	logger  *slog.Logger
}

// New returns a Bus publishing to subjectPrefix+".task" and
// subjectPrefix+".workflow", capped at maxPerSecond publishes/sec.
func New(nc *nats.Conn, subjectPrefix string, maxPerSecond int64) *Bus {
	return &Bus{
		nc:      nc,
		subject: subjectPrefix,
		limiter: newPublishLimiter(maxPerSecond),
		logger:  slog.Default(),
	}
}

type stateEvent struct {
	WorkflowID string `json:"workflow_id"`
	TaskName   string `json:"task_name,omitempty"`
	State      string `json:"state"`
}

// PublishTaskState implements engine.Publisher.
func (b *Bus) PublishTaskState(ctx context.Context, workflowID, taskName, state string) {
	if b == nil || b.nc == nil {
		return
	}
	b.publish(ctx, b.subject+".task", stateEvent{WorkflowID: workflowID, TaskName: taskName, State: state})
}

// PublishWorkflowState implements engine.Publisher.
func (b *Bus) PublishWorkflowState(ctx context.Context, workflowID, status string) {
	if b == nil || b.nc == nil {
		return
	}
	b.publish(ctx, b.subject+".workflow", stateEvent{WorkflowID: workflowID, State: status})
}

// publish marshals ev and sends it to subject with the current span's trace
// context injected into the NATS message headers, so a consumer's
// eventbus.consume span (if one is started downstream) links back to the
// workflow run that produced the event.
func (b *Bus) publish(ctx context.Context, subject string, ev stateEvent) {
	if !b.limiter.allow() {
		b.logger.Warn("eventbus: publish dropped, rate limit exceeded", "subject", subject)
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("eventbus: marshal failed", "error", err)
		return
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	if err := b.nc.PublishMsg(msg); err != nil {
		b.logger.Warn("eventbus: publish failed", "subject", subject, "error", err)
	}
}

// publishLimiter caps publishes to maxPerSecond using a fixed one-second
// window — state events are bursty (a whole reap/admit cycle's worth land
// at once) but only need a coarse per-second cap, not token-bucket burst
// tolerance.
type publishLimiter struct {
	mu          sync.Mutex
	max         int64
	windowStart time.Time
	count       int64
}

func newPublishLimiter(maxPerSecond int64) *publishLimiter {
	return &publishLimiter{max: maxPerSecond}
}

func (l *publishLimiter) allow() bool {
	if l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.windowStart) >= time.Second {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}
