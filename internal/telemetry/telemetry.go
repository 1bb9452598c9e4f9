// Package telemetry はOpenTelemetryによるトレースの初期化を提供する。
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// ShutdownFunc はトレーサープロバイダーを停止する。
type ShutdownFunc func(context.Context) error

// Init はトレーサープロバイダーとプロパゲーターを設定する。
// endpointが空の場合はエクスポートせず、プロパゲーターのみ設定する。
func Init(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	if serviceName == "" {
		return nil, errors.New("telemetry: service name is required")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newTraceExporter(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// newTraceExporter はOTLP/HTTPエクスポーターを生成する。
// スキームが無いエンドポイントはhost:portとして平文で接続する。
func newTraceExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	opts, err := exporterOptions(endpoint)
	if err != nil {
		return nil, err
	}
	return otlptracehttp.New(ctx, opts...)
}

func exporterOptions(endpoint string) ([]otlptracehttp.Option, error) {
	// host:portはurl.Parseでスキームと解釈されるため、http(s)://で始まる場合のみURLとして扱う
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure()}, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint: %s", endpoint)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(parsed.Host)}
	if parsed.Path != "" && parsed.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(parsed.Path))
	}
	if parsed.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts, nil
}

// Middleware はリクエストごとにサーバースパンを作成するミドルウェアを返す。
func Middleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	}
}

// Transport はクライアントスパンを作成しトレースコンテキストを伝搬するRoundTripperを返す。
// baseがnilの場合はhttp.DefaultTransportを使う。
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}

// TraceID はコンテキストのスパンのトレースIDを返す。スパンが無い場合は空文字。
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
