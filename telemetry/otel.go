package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// Global telemetry handles.
var (
	Tracer = otel.Tracer("github.com/yairfalse/vahti")
	Meter  = otel.Meter("github.com/yairfalse/vahti")

	// PrometheusRegistry for pull-based scraping. The OTEL prometheus
	// exporter registers itself here.
	PrometheusRegistry *promclient.Registry

	// Instruments, OTEL naming conventions.
	ResourcesDiscovered metric.Int64Gauge
	ChecksRun           metric.Int64Counter
	CheckFailures       metric.Int64Counter
	AlertsFired         metric.Int64Counter
	AlertsSuppressed    metric.Int64Counter
	CacheHits           metric.Int64Counter
	CacheMisses         metric.Int64Counter
	SchedulerInFlight   metric.Int64Gauge
	SchedulerQueueDepth metric.Int64Gauge
	BroadcastClients    metric.Int64Gauge
	JobDuration         metric.Float64Histogram
)

// Config for OTEL initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTELEndpoint   string // e.g. "localhost:4317"
	Insecure       bool   // true for local dev
}

// InitOTEL initializes OpenTelemetry with traces and dual-export metrics.
func InitOTEL(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	cfg = applyConfigDefaults(cfg)

	res, err := createOTELResource(cfg)
	if err != nil {
		return nil, err
	}

	return setupProviders(ctx, cfg, res)
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.OTELEndpoint == "" {
		cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if cfg.OTELEndpoint == "" {
			cfg.OTELEndpoint = "localhost:4317"
		}
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "vahti"
	}
	return cfg
}

func createOTELResource(cfg Config) (*resource.Resource, error) {
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
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func setupProviders(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	traceShutdown, err := setupTraceProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to setup traces: %w", err)
	}

	metricShutdown, err := setupMetricProvider(ctx, cfg, res)
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if err := initInstruments(); err != nil {
		_ = traceShutdown(ctx)
		_ = metricShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize instruments: %w", err)
	}

	return func(ctx context.Context) error {
		var err error
		if e := traceShutdown(ctx); e != nil {
			err = fmt.Errorf("trace shutdown failed: %w", e)
		}
		if e := metricShutdown(ctx); e != nil && err == nil {
			err = fmt.Errorf("metric shutdown failed: %w", e)
		}
		return err
	}, nil
}

func setupTraceProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTELEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = provider.Tracer("github.com/yairfalse/vahti")

	return provider.Shutdown, nil
}

// setupMetricProvider configures dual export: Prometheus for pull-based
// scraping plus optional OTLP push.
func setupMetricProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	registry := promclient.NewRegistry()
	PrometheusRegistry = registry

	prometheusExporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	readers := []sdkmetric.Reader{prometheusExporter}

	if cfg.OTELEndpoint != "" {
		otlpReader, err := createOTLPReader(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric reader: %w", err)
		}
		readers = append(readers, otlpReader)
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(reader))
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(provider)
	Meter = provider.Meter("github.com/yairfalse/vahti")

	return provider.Shutdown, nil
}

func createOTLPReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTELEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	return sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(10*time.Second),
	), nil
}

func initInstruments() error {
	if err := initCounters(); err != nil {
		return err
	}
	if err := initGauges(); err != nil {
		return err
	}
	return initHistograms()
}

func initCounters() error {
	var err error

	ChecksRun, err = Meter.Int64Counter("vahti.checks.run.total",
		metric.WithDescription("Total number of resource checks executed"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create checks_run counter: %w", err)
	}

	CheckFailures, err = Meter.Int64Counter("vahti.checks.failed.total",
		metric.WithDescription("Total number of failed resource checks"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create check_failures counter: %w", err)
	}

	AlertsFired, err = Meter.Int64Counter("vahti.alerts.fired.total",
		metric.WithDescription("Total number of alerts dispatched"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create alerts_fired counter: %w", err)
	}

	AlertsSuppressed, err = Meter.Int64Counter("vahti.alerts.suppressed.total",
		metric.WithDescription("Total number of alerts suppressed by the dedup window"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create alerts_suppressed counter: %w", err)
	}

	CacheHits, err = Meter.Int64Counter("vahti.cache.hits.total",
		metric.WithDescription("Total cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_hits counter: %w", err)
	}

	CacheMisses, err = Meter.Int64Counter("vahti.cache.misses.total",
		metric.WithDescription("Total cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_misses counter: %w", err)
	}

	return nil
}

func initGauges() error {
	var err error

	ResourcesDiscovered, err = Meter.Int64Gauge("vahti.resources.discovered.current",
		metric.WithDescription("Current number of discovered resources"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resources_discovered gauge: %w", err)
	}

	SchedulerInFlight, err = Meter.Int64Gauge("vahti.scheduler.inflight.current",
		metric.WithDescription("Closures currently executing in the request scheduler"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler_inflight gauge: %w", err)
	}

	SchedulerQueueDepth, err = Meter.Int64Gauge("vahti.scheduler.queue.depth",
		metric.WithDescription("Closures waiting in the request scheduler queue"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler_queue gauge: %w", err)
	}

	BroadcastClients, err = Meter.Int64Gauge("vahti.broadcast.clients.current",
		metric.WithDescription("Currently connected live viewers"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create broadcast_clients gauge: %w", err)
	}

	return nil
}

func initHistograms() error {
	var err error

	JobDuration, err = Meter.Float64Histogram("vahti.job.duration.seconds",
		metric.WithDescription("Duration of collection job runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create job_duration histogram: %w", err)
	}

	return nil
}
