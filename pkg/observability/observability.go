// Package observability provides OpenTelemetry metrics for the governance
// engine: decision rate and latency, approval lifecycle counts, and
// training activity.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the metric provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "warden",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider owns the meter provider and the governance instruments. A
// disabled provider records nothing; every method is safe to call on it.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	decisionCounter  metric.Int64Counter
	decisionDuration metric.Float64Histogram
	approvalCounter  metric.Int64Counter
	pendingApprovals metric.Int64UpDownCounter
	trainingCounter  metric.Int64Counter
}

// New creates a provider. With config nil, development defaults apply.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = otel.Meter("warden.governance",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.decisionCounter, err = p.meter.Int64Counter("warden.decisions.total",
		metric.WithDescription("Governance decisions issued"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	p.decisionDuration, err = p.meter.Float64Histogram("warden.decision.duration",
		metric.WithDescription("Decision latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return err
	}

	p.approvalCounter, err = p.meter.Int64Counter("warden.approvals.total",
		metric.WithDescription("Approval lifecycle transitions"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		return err
	}

	p.pendingApprovals, err = p.meter.Int64UpDownCounter("warden.approvals.pending",
		metric.WithDescription("Approvals currently pending"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		return err
	}

	p.trainingCounter, err = p.meter.Int64Counter("warden.training.total",
		metric.WithDescription("Training lifecycle transitions"),
		metric.WithUnit("{event}"),
	)
	return err
}

// RecordDecision records one policy decision.
func (p *Provider) RecordDecision(ctx context.Context, allowed, requiresApproval bool, duration time.Duration) {
	if p.decisionCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("allowed", allowed),
		attribute.Bool("requires_approval", requiresApproval),
	)
	p.decisionCounter.Add(ctx, 1, attrs)
	p.decisionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordApprovalOpened records a new pending approval.
func (p *Provider) RecordApprovalOpened(ctx context.Context) {
	if p.approvalCounter == nil {
		return
	}
	p.approvalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", "opened")))
	p.pendingApprovals.Add(ctx, 1)
}

// RecordApprovalResolved records a terminal approval transition.
func (p *Provider) RecordApprovalResolved(ctx context.Context, status string) {
	if p.approvalCounter == nil {
		return
	}
	p.approvalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", status)))
	p.pendingApprovals.Add(ctx, -1)
}

// RecordTraining records a training lifecycle event.
func (p *Provider) RecordTraining(ctx context.Context, event string) {
	if p.trainingCounter == nil {
		return
	}
	p.trainingCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("warden.governance")
	}
	return p.meter
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
