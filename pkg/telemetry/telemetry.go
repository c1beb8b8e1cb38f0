// Package telemetry wires OpenTelemetry tracing around the run-coordination
// core. Logging is owned by pkg/logger and metrics by pkg/metrics; this
// package is intentionally limited to span creation and export.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls tracer provider construction.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
	ExporterType   string // "stdout" is the only exporter wired today
	BatchTimeout   time.Duration
	MaxExportBatch int
	MaxQueueSize   int
}

// DefaultConfig returns sampling-light defaults suitable for local runs.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "lucilliform",
		ServiceVersion: "1.0.0",
		Environment:    getEnv("LUCILLIFORM_ENVIRONMENT", "development"),
		SamplingRate:   0.1,
		ExporterType:   getEnv("LUCILLIFORM_TRACING_EXPORTER", "stdout"),
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
	}
}

var tracer trace.Tracer = otel.Tracer("lucilliform")

// Init builds and installs a global tracer provider from cfg. Safe to call
// once per process; the returned shutdown func must run before exit.
func Init(cfg Config) (func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("build trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatch),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(cfg.ServiceName)

	return tp.Shutdown, nil
}

// StartSpan opens a span named "<component>.<operation>" and returns the
// derived context alongside the span so callers can End() it with defer.
func StartSpan(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, component+"."+operation, trace.WithAttributes(attrs...))
}

// EndSpan records err (if non-nil) on span as a failure before ending it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
