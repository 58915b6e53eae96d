// Package observability provides OpenTelemetry tracing for the extraction pipeline
package observability

import (
	"context"
	"fmt"
	"sync"
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

var (
	tracer   trace.Tracer
	initOnce sync.Once
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
	BatchTimeout   time.Duration
}

// DefaultTracingConfig returns a development-oriented configuration
// writing spans to stdout.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "cardflow",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SamplingRate:   1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Initialize sets up the global tracer provider with a stdout exporter.
func Initialize(config TracingConfig) error {
	var err error

	initOnce.Do(func() {
		var res *resource.Resource
		res, err = resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceNameKey.String(config.ServiceName),
				semconv.ServiceVersionKey.String(config.ServiceVersion),
				semconv.DeploymentEnvironmentKey.String(config.Environment),
			),
		)
		if err != nil {
			err = fmt.Errorf("failed to create resource: %w", err)
			return
		}

		var exporter sdktrace.SpanExporter
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			err = fmt.Errorf("failed to create stdout exporter: %w", err)
			return
		}

		var sampler sdktrace.Sampler
		switch {
		case config.SamplingRate <= 0:
			sampler = sdktrace.NeverSample()
		case config.SamplingRate >= 1.0:
			sampler = sdktrace.AlwaysSample()
		default:
			sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
			sdktrace.WithBatcher(exporter,
				sdktrace.WithBatchTimeout(config.BatchTimeout),
			),
		)

		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(config.ServiceName)
	})

	return err
}

// Tracer returns the global tracer. Components that run before
// Initialize get a no-op tracer from the default provider.
func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer("cardflow")
	}
	return tracer
}

// StartExtraction starts a span for one extraction invocation.
func StartExtraction(ctx context.Context, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "extraction.run",
		trace.WithAttributes(attribute.String("extraction.kind", kind)))
}

// StartPhase starts a child span for one entity phase within a run.
func StartPhase(ctx context.Context, entity string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "extraction.phase",
		trace.WithAttributes(attribute.String("extraction.entity", entity)))
}

// EndSpan finishes a span, recording err when present.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
