package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Record helpers tolerate running before InitOTEL (instruments nil), so
// library code and tests never have to care whether telemetry is wired.

// RecordCheck records one executed check and its outcome.
func RecordCheck(ctx context.Context, kind string, success bool) {
	if ChecksRun != nil {
		ChecksRun.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	if !success && CheckFailures != nil {
		CheckFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordAlert records a fired or suppressed alert.
func RecordAlert(ctx context.Context, family string, fired bool) {
	attrs := metric.WithAttributes(attribute.String("family", family))
	if fired {
		if AlertsFired != nil {
			AlertsFired.Add(ctx, 1, attrs)
		}
		return
	}
	if AlertsSuppressed != nil {
		AlertsSuppressed.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(ctx context.Context, key string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("cache.key", key))
	if hit {
		if CacheHits != nil {
			CacheHits.Add(ctx, 1, attrs)
		}
		return
	}
	if CacheMisses != nil {
		CacheMisses.Add(ctx, 1, attrs)
	}
}

// RecordSchedulerState records current queue depth and in-flight count.
func RecordSchedulerState(ctx context.Context, queued, inflight int) {
	if SchedulerQueueDepth != nil {
		SchedulerQueueDepth.Record(ctx, int64(queued))
	}
	if SchedulerInFlight != nil {
		SchedulerInFlight.Record(ctx, int64(inflight))
	}
}

// RecordJobDuration records one job run.
func RecordJobDuration(ctx context.Context, kind string, seconds float64) {
	if JobDuration != nil {
		JobDuration.Record(ctx, seconds,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordBroadcastClients records the live viewer count.
func RecordBroadcastClients(ctx context.Context, count int) {
	if BroadcastClients != nil {
		BroadcastClients.Record(ctx, int64(count))
	}
}

// RecordDiscovered records the current inventory size for a region.
func RecordDiscovered(ctx context.Context, region string, count int) {
	if ResourcesDiscovered != nil {
		ResourcesDiscovered.Record(ctx, int64(count),
			metric.WithAttributes(attribute.String("cloud.region", region)))
	}
}
