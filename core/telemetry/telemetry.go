// Package telemetry provides OpenTelemetry metrics for the magiclink
// service, exported in Prometheus format.
//
// Metrics:
//
//   - magiclink.use.total - link use attempts, by HTTP method and outcome
//   - magiclink.login.total - successful logins
//   - magiclink.issued.total - links issued
//   - magiclink.rate_limit.total - rate limited requests
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config holds the telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "magiclink",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Enabled:        true,
	}
}

// Provider manages the OpenTelemetry meter provider and the service's
// metric instruments. All record methods are safe to call on a disabled
// provider.
type Provider struct {
	config        Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	useCounter       metric.Int64Counter
	loginCounter     metric.Int64Counter
	issuedCounter    metric.Int64Counter
	rateLimitCounter metric.Int64Counter
}

// NewProvider creates a new telemetry provider with a Prometheus reader.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	p := &Provider{config: cfg}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(cfg.ServiceName)

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.useCounter, err = p.meter.Int64Counter(
		"magiclink.use.total",
		metric.WithDescription("Total number of link use attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.loginCounter, err = p.meter.Int64Counter(
		"magiclink.login.total",
		metric.WithDescription("Total number of successful magic link logins"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.issuedCounter, err = p.meter.Int64Counter(
		"magiclink.issued.total",
		metric.WithDescription("Total number of links issued"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.rateLimitCounter, err = p.meter.Int64Counter(
		"magiclink.rate_limit.total",
		metric.WithDescription("Total number of rate limited use attempts"),
		metric.WithUnit("1"),
	)
	return err
}

// RecordUse records one link use attempt. Outcome is "success" or the short
// rejection description.
func (p *Provider) RecordUse(ctx context.Context, method, outcome string) {
	if p.useCounter == nil {
		return
	}
	p.useCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

// RecordLogin records one successful login.
func (p *Provider) RecordLogin(ctx context.Context) {
	if p.loginCounter == nil {
		return
	}
	p.loginCounter.Add(ctx, 1)
}

// RecordIssued records one issued link.
func (p *Provider) RecordIssued(ctx context.Context) {
	if p.issuedCounter == nil {
		return
	}
	p.issuedCounter.Add(ctx, 1)
}

// RecordRateLimited records one rate limited request.
func (p *Provider) RecordRateLimited(ctx context.Context) {
	if p.rateLimitCounter == nil {
		return
	}
	p.rateLimitCounter.Add(ctx, 1)
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
