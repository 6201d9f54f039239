package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "cwrite".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// CheckLogBackend names the audit-log backend ("none", "file", "sqlite",
	// "postgres"). It is reported as the cwrite.checklog.backend resource
	// attribute so dashboards can tell deployments apart.
	CheckLogBackend string

	// LLMProviders lists the language-model providers in the order they are
	// tried. Reported as cwrite.llm.providers.
	LLMProviders []string

	// Registerer receives the Prometheus collector. Default:
	// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Resource attribute keys describing a cwrite deployment.
const (
	CheckLogBackendKey = attribute.Key("cwrite.checklog.backend")
	LLMProvidersKey    = attribute.Key("cwrite.llm.providers")
)

// NewResource builds the resource that describes this process: the service
// identity plus the check-log backend and the provider chain.
func NewResource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cwrite"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.CheckLogBackend != "" {
		attrs = append(attrs, CheckLogBackendKey.String(cfg.CheckLogBackend))
	}
	if len(cfg.LLMProviders) > 0 {
		attrs = append(attrs, LLMProvidersKey.StringSlice(cfg.LLMProviders))
	}
	// Schemaless, so the merge keeps the SDK default schema URL.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// InitProvider registers a Prometheus-backed meter provider and a tracer
// provider as the global OTel providers, both carrying [NewResource].
//
// The returned function flushes and closes both; call it on shutdown.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Traces first: spans ended during shutdown still record metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
