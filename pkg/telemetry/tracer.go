package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrRunID         = attribute.Key("run.id")
	AttrOutcome       = attribute.Key("run.outcome")
	AttrModule        = attribute.Key("module.name")
	AttrModuleOrdinal = attribute.Key("module.ordinal")
	AttrModuleStatus  = attribute.Key("module.status")
	AttrCategories    = attribute.Key("verify.categories")
)

// Tracer produces pipeline, module and verification spans. When tracing is
// disabled spans are still created so callers never branch on it, but
// nothing is exported.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds the tracer provider for cfg.
func NewTracer(ctx context.Context, cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	var opts []sdktrace.TracerProviderOption

	if cfg.Enabled {
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace resource: %w", err)
		}
		opts = append(opts,
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		)

		exporter, err := newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		if exporter != nil {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(cfg.ExportTimeout)))
		}
	}

	provider := sdktrace.NewTracerProvider(opts...)
	if cfg.Enabled {
		otel.SetTracerProvider(provider)
	}
	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// newSpanExporter returns nil for the "none" exporter. The stdout exporter
// writes to stderr so it never mixes with --json output.
func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

// StartPipelineSpan starts the root span of a pipeline run.
func (t *Tracer) StartPipelineSpan(ctx context.Context, runID string, modules int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		AttrRunID.String(runID),
		attribute.Int("pipeline.modules", modules),
	))
}

// StartModuleSpan starts a child span for one module.
func (t *Tracer) StartModuleSpan(ctx context.Context, module string, ordinal int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "module."+module, trace.WithAttributes(
		AttrModule.String(module),
		AttrModuleOrdinal.Int(ordinal),
	))
}

// StartVerificationSpan starts a span covering one verification pass.
func (t *Tracer) StartVerificationSpan(ctx context.Context, categories []string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "verify.run", trace.WithAttributes(AttrCategories.StringSlice(categories)))
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks span as ok.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
