// Package telemetry configures OpenTelemetry metrics.
//
// Metrics are off by default: a no-op MeterProvider is installed and
// instruments cost nothing. Each configured exporter gets its own periodic
// reader:
//
//	METRICS_STDOUT=true                    write metrics to stdout
//	METRICS_OTLP_ENDPOINT=http://host:4318  push metrics over OTLP/HTTP
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const instrumentationScope = "news_bot"

// Options selects the metric exporters.
type Options struct {
	Stdout       bool
	OTLPEndpoint string
	Interval     time.Duration
}

func (o Options) enabled() bool {
	return o.Stdout || o.OTLPEndpoint != ""
}

// Init installs the global MeterProvider and returns a function that flushes
// and stops it.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if !opts.enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}

	mpOpts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", instrumentationScope),
		)),
	}

	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(opts.Interval)),
		))
	}

	if opts.OTLPEndpoint != "" {
		endpoint, err := metricsURL(opts.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp endpoint: %w", err)
		}
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(opts.Interval)),
		))
	}

	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// metricsURL adds the standard OTLP metrics path to a bare collector URL.
func metricsURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/metrics"
	}
	return u.String(), nil
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}
