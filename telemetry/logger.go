package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry.
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL trace correlation.
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a logger scoped to one component.
func NewLogger(component string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger carrying ctx for trace propagation.
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogJobStart logs the start of a collection job.
func (l *Logger) LogJobStart(ctx context.Context, kind string, resources int, batches int) {
	l.WithContext(ctx).Info().
		Str("kind", kind).
		Int("resources", resources).
		Int("batches", batches).
		Msg("collection job started")
}

// LogJobEnd logs completion of a collection job.
func (l *Logger) LogJobEnd(ctx context.Context, kind string, failures int, durationMs float64) {
	l.WithContext(ctx).Info().
		Str("kind", kind).
		Int("failures", failures).
		Float64("duration_ms", durationMs).
		Msg("collection job complete")
}

// LogRegionExcluded logs a region dropped from the active set.
func (l *Logger) LogRegionExcluded(ctx context.Context, region, reason string, err error) {
	event := l.WithContext(ctx).Warn().
		Str("region", region).
		Str("reason", reason)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("region excluded")
}

// LogCheckFailure logs a single failed resource check.
func (l *Logger) LogCheckFailure(ctx context.Context, resourceID, kind string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("resource_id", resourceID).
		Str("kind", kind).
		Msg("check failed")
}
