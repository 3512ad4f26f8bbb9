package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// EngineInstruments bundles the counters/gauge a WorkflowManager records
// against over a single run: one admitted, completed and failed counter per
// task transition, and a gauge tracking concurrently RUNNING tasks. Manager
// builds one of these once at construction instead of repeating otel
// boilerplate per metric.
type EngineInstruments struct {
	Admitted  metric.Int64Counter
	Completed metric.Int64Counter
	Failed    metric.Int64Counter
	Running   metric.Int64UpDownCounter
}

// NewEngineInstruments registers the WorkflowManager's instrument set
// against meter.
func NewEngineInstruments(meter metric.Meter) EngineInstruments {
	admitted, _ := meter.Int64Counter("workflow_engine_tasks_admitted_total")
	completed, _ := meter.Int64Counter("workflow_engine_tasks_completed_total")
	failed, _ := meter.Int64Counter("workflow_engine_tasks_failed_total")
	running, _ := meter.Int64UpDownCounter("workflow_engine_tasks_running")
	return EngineInstruments{Admitted: admitted, Completed: completed, Failed: failed, Running: running}
}

// InitMetrics sets up a global OTLP metrics exporter (push). Returns a
// shutdown function, a scrape-handler slot that is always nil (export is
// push-only), and the process's EngineInstruments registered against the
// resulting provider.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler any, instruments EngineInstruments) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, nil, NewEngineInstruments(otel.Meter(service))
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, nil, NewEngineInstruments(mp.Meter(service))
}
