package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/workflow-engine/data"
	"github.com/swarmguard/workflow-engine/datum"
	"github.com/swarmguard/workflow-engine/task"
)

// HTTPSpec describes a single HTTP task: url/body accept {{input.field}}
// placeholders resolved against this task's own CollectInputs result.
type HTTPSpec struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// statusError is a non-2xx HTTP response. Only its 5xx form is retried — a
// 4xx means the request itself is malformed against the remote service, and
// retrying it wastes an attempt on an outcome that cannot change.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool { return e.code >= 500 }

// breaker trips after a run of consecutive failures on one task instance and
// stays tripped for cooldown, shedding load from a remote service this one
// HTTP task keeps failing against rather than hammering it on every
// WorkflowManager admission attempt.
type breaker struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
	cooldown    time.Duration
	openUntil   time.Time
	trips       metric.Int64Counter
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	trips, _ := otel.Meter("workflow-engine-tasks-http").Int64Counter("workflow_tasks_http_breaker_trips_total")
	return &breaker{threshold: threshold, cooldown: cooldown, trips: trips}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

func (b *breaker) recordResult(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.consecutive = 0
		return
	}
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		if b.trips != nil {
			b.trips.Add(ctx, 1)
		}
	}
}

// httpBody adapts the teacher's connection-pooled HTTPPlugin to a single
// task.Body: a pooled client plus a retry/breaker pairing shaped around HTTP
// status semantics (retry any error except a 4xx response) instead of a
// generic any-error-is-retryable wrapper.
type httpBody struct {
	spec       HTTPSpec
	client     *http.Client
	tracer     trace.Tracer
	breaker    *breaker
	maxRetries int
	baseDelay  time.Duration
}

// NewHTTP builds a Task that performs a single HTTP request, retrying
// transient failures and tripping a per-task circuit breaker under
// sustained ones.
func NewHTTP(name string, spec HTTPSpec, outputSpec map[string]task.OutputSpec, inputs []task.NamedInput, resources map[string]int) *task.Base {
	body := &httpBody{
		spec: spec,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer:     otel.Tracer("workflow-engine-tasks-http"),
		breaker:    newBreaker(5, 10*time.Second),
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
	}
	return task.NewBase(name, body, outputSpec, inputs, resources)
}

func (h *httpBody) InitializeOutputs(spec map[string]task.OutputSpec) (map[string]datum.Datum, error) {
	out := make(map[string]datum.Datum, len(spec))
	for name := range spec {
		out[name] = data.NewMemory()
	}
	return out, nil
}

func (h *httpBody) CollectInputs(inputs map[string]datum.Datum) (task.WorkerArgs, error) {
	args := make(map[string]any, len(inputs))
	for name, d := range inputs {
		args[name] = d.Pointer()
	}
	return args, nil
}

func (h *httpBody) RunLogic(ctx context.Context, rawArgs task.WorkerArgs) (map[string]any, error) {
	args, _ := rawArgs.(map[string]any)

	ctx, span := h.tracer.Start(ctx, "tasks.http.execute",
		trace.WithAttributes(
			attribute.String("url", h.spec.URL),
			attribute.String("method", h.spec.Method),
		),
	)
	defer span.End()

	if !h.breaker.allow() {
		return nil, fmt.Errorf("tasks: http request blocked, breaker open after repeated failures")
	}

	result, err := h.doWithRetry(ctx, args, span)
	h.breaker.recordResult(ctx, err)
	return result, err
}

// doWithRetry retries every failed attempt (5xx responses, transport errors,
// and request-building errors alike) with exponential backoff and full
// jitter; only a 4xx statusError returns on the first attempt.
func (h *httpBody) doWithRetry(ctx context.Context, args map[string]any, span trace.Span) (map[string]any, error) {
	delay := h.baseDelay
	var lastErr error
	for attempt := 0; attempt < h.maxRetries; attempt++ {
		result, err := h.do(ctx, args, span)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if attempt == h.maxRetries-1 {
			break
		}
		sleep := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("tasks: http request exhausted %d attempts: %w", h.maxRetries, lastErr)
}

func (h *httpBody) do(ctx context.Context, args map[string]any, span trace.Span) (map[string]any, error) {
	url := resolveTemplate(h.spec.URL, args)

	var reqBody io.Reader
	if h.spec.Body != nil {
		bodyJSON, err := json.Marshal(h.spec.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = strings.NewReader(resolveTemplate(string(bodyJSON), args))
	}

	method := h.spec.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.spec.Headers {
		req.Header.Set(k, resolveTemplate(v, args))
	}
	otel.GetTextMapPropagator().Inject(ctx, &headerCarrier{req.Header})

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			result = map[string]any{"body": string(respBody), "status_code": resp.StatusCode}
		}
	} else {
		result = map[string]any{"status_code": resp.StatusCode}
	}
	return result, nil
}

func (h *httpBody) InterruptCleanup() {}
func (h *httpBody) FailCleanup()      {}

// resolveTemplate replaces {{name.field}} with values pulled from a flat
// arg map, mirroring the teacher's {{task_id.field}} convention but against
// this task's own resolved inputs rather than the whole execution context.
func resolveTemplate(template string, args map[string]any) string {
	result := template
	for name, v := range args {
		if m, ok := v.(map[string]any); ok {
			for field, fv := range m {
				result = strings.ReplaceAll(result, fmt.Sprintf("{{%s.%s}}", name, field), fmt.Sprintf("%v", fv))
			}
			continue
		}
		result = strings.ReplaceAll(result, fmt.Sprintf("{{%s}}", name), fmt.Sprintf("%v", v))
	}
	return result
}

// headerCarrier adapts http.Header for OpenTelemetry context propagation.
type headerCarrier struct {
	header http.Header
}

func (hc *headerCarrier) Get(key string) string { return hc.header.Get(key) }
func (hc *headerCarrier) Set(key, value string) { hc.header.Set(key, value) }
func (hc *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.header))
	for k := range hc.header {
		keys = append(keys, k)
	}
	return keys
}
