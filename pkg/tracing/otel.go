// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer，导出到 OTLP HTTP
func InitTracer(ctx context.Context, config OTelConfig) (*sdktrace.TracerProvider, error) {
	// 创建 OTLP exporter
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	// 创建 resource
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	// 创建 tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer 名称
const tracerName = "mmrag"

// StartIngestSpan 开始一次 PDF 入库 span
func StartIngestSpan(ctx context.Context, mode string, pdfPath string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest."+mode,
		trace.WithAttributes(
			attribute.String("ingest.mode", mode),
			attribute.String("ingest.pdf", pdfPath),
		),
	)
}

// StartSearchSpan 开始一次检索 span
func StartSearchSpan(ctx context.Context, mode string, k int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "search."+mode,
		trace.WithAttributes(
			attribute.String("search.mode", mode),
			attribute.Int("search.k", k),
		),
	)
}

// StartEmbedSpan 开始一次向量化 span
func StartEmbedSpan(ctx context.Context, model string, kind string, n int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "embed."+kind,
		trace.WithAttributes(
			attribute.String("embed.model", model),
			attribute.Int("embed.inputs", n),
		),
	)
}

// End 记录错误并结束 span
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
