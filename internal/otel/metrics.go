package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	spawnsCounter      metric.Int64Counter
	completionsCounter metric.Int64Counter
	failuresCounter    metric.Int64Counter
	activeGauge        metric.Int64ObservableGauge
)

// ActiveWorkerFunc reports the current number of running workers, used
// for the blackboard_active_workers gauge.
type ActiveWorkerFunc func() int64

// InitMetrics creates the meter instruments. Safe to call multiple
// times; only runs once. Call after InitMeterProvider. If activeCount
// is nil, the active-worker gauge is not reported.
func InitMetrics(ctx context.Context, activeCount ActiveWorkerFunc) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		spawnsCounter, err = m.Int64Counter("blackboard_worker_spawns_total", metric.WithDescription("Total worker containers spawned"))
		if err != nil {
			return
		}
		completionsCounter, err = m.Int64Counter("blackboard_worker_completions_total", metric.WithDescription("Total threads completed by workers"))
		if err != nil {
			return
		}
		failuresCounter, err = m.Int64Counter("blackboard_worker_failures_total", metric.WithDescription("Total worker failures by reason (spawn, stale)"))
		if err != nil {
			return
		}
		if activeCount == nil {
			return
		}
		activeGauge, err = m.Int64ObservableGauge("blackboard_active_workers", metric.WithDescription("Workers currently marked running in the registry"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(activeGauge, activeCount())
			return nil
		}, activeGauge)
	})
	return err
}

// RecordWorkerSpawn records one successful container spawn.
func RecordWorkerSpawn(ctx context.Context, thread string) {
	if spawnsCounter == nil {
		return
	}
	spawnsCounter.Add(ctx, 1, metric.WithAttributes(AttrThread.String(thread)))
}

// RecordWorkerCompletion records one thread finishing with no pending work.
func RecordWorkerCompletion(ctx context.Context, thread string) {
	if completionsCounter == nil {
		return
	}
	completionsCounter.Add(ctx, 1, metric.WithAttributes(AttrThread.String(thread)))
}

// RecordWorkerFailure records one worker failure with its reason.
func RecordWorkerFailure(ctx context.Context, reason string) {
	if failuresCounter == nil {
		return
	}
	failuresCounter.Add(ctx, 1, metric.WithAttributes(AttrReason.String(reason)))
}
