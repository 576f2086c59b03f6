package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/odvcencio/indexq/internal/config"
)

// collectorTarget is where spans are exported. An http:// endpoint implies plaintext.
type collectorTarget struct {
	host     string
	path     string
	insecure bool
}

func parseCollectorTarget(cfg config.TracingConfig) collectorTarget {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	target := collectorTarget{host: endpoint, insecure: cfg.Insecure}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return target
	}
	target.host = u.Host
	if p := strings.TrimRight(u.Path, "/"); p != "" {
		target.path = p
	}
	if strings.EqualFold(u.Scheme, "http") {
		target.insecure = true
	}
	return target
}

func (t collectorTarget) options() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.host)}
	if t.path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(t.path))
	}
	if t.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func traceSampler(cfg config.TracingConfig) sdktrace.Sampler {
	if cfg.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
}

// initTracing installs the global tracer provider used by the admin API and the queue
// administration spans. It is a no-op until tracing.endpoint is set.
func initTracing(ctx context.Context, cfg config.TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled() {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, parseCollectorTarget(cfg).options()...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "indexq"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(traceSampler(cfg)),
		sdktrace.WithResource(resource.NewWithAttributes("", attribute.String("service.name", serviceName))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
