package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"extmetrics/internal/metrics"
)

const defaultDispatchQueueSize = 16

// Consumer handles snapshots routed to it by metric name.
// Params: ctx consume context; snapshot normalized poll result.
// Returns: error if consumer cannot process snapshot.
type Consumer interface {
	Name() string
	HandleMetric(ctx context.Context, snapshot metrics.Snapshot) error
}

// Dispatcher routes producer snapshots to registered consumers through a bounded executor queue.
// Params: queue size, logger and optional telemetry.
// Returns: notifier implementation and runner.
type Dispatcher struct {
	consumers map[string][]Consumer
	queue     chan metrics.Snapshot
	logger    *slog.Logger
	telemetry *Telemetry
}

// NewDispatcher creates a dispatcher with bounded executor queue.
// Params: queueSize max pending snapshots; logger root logger; telemetry optional self metrics.
// Returns: dispatcher or validation error.
func NewDispatcher(queueSize int, logger *slog.Logger, telemetry *Telemetry) (*Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if queueSize < 0 {
		return nil, fmt.Errorf("queue size must be >= 0")
	}
	if queueSize == 0 {
		queueSize = defaultDispatchQueueSize
	}

	return &Dispatcher{
		consumers: make(map[string][]Consumer),
		queue:     make(chan metrics.Snapshot, queueSize),
		logger:    logger,
		telemetry: telemetry,
	}, nil
}

// Register subscribes consumer to one metric name.
// Params: metricName snapshot route; consumer target.
// Returns: none. Must be called before run.
func (d *Dispatcher) Register(metricName string, consumer Consumer) {
	if consumer == nil {
		return
	}
	d.consumers[metricName] = append(d.consumers[metricName], consumer)
}

// OnNewMetric enqueues snapshot for asynchronous delivery.
// Params: snapshot normalized poll result.
// Returns: none; full queue drops the snapshot with an error log.
func (d *Dispatcher) OnNewMetric(snapshot metrics.Snapshot) {
	if snapshot == nil {
		return
	}

	select {
	case d.queue <- snapshot:
	default:
		d.logger.Error("failed to dispatch the metric", slog.String("metric", snapshot.MetricName()))
		d.telemetry.dispatchDropped(snapshot.MetricName())
	}
}

// run delivers queued snapshots until context cancellation, then drains pending ones.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop.
func (d *Dispatcher) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case snapshot := <-d.queue:
			d.deliver(ctx, snapshot)
		}
	}
}

// drain delivers snapshots that were accepted before shutdown.
// Params: none.
// Returns: none.
func (d *Dispatcher) drain() {
	for {
		select {
		case snapshot := <-d.queue:
			d.deliver(context.Background(), snapshot)
		default:
			return
		}
	}
}

// deliver hands one snapshot to every consumer of its metric name.
// Params: ctx consume context; snapshot to deliver.
// Returns: none; consumer errors are logged.
func (d *Dispatcher) deliver(ctx context.Context, snapshot metrics.Snapshot) {
	metricName := snapshot.MetricName()
	consumers := d.consumers[metricName]
	if len(consumers) == 0 {
		d.logger.Debug("no consumers registered for metric", slog.String("metric", metricName))
		return
	}

	for _, consumer := range consumers {
		if err := consumer.HandleMetric(ctx, snapshot); err != nil {
			d.logger.Error(
				"metric consumer failed",
				slog.String("metric", metricName),
				slog.String("consumer", consumer.Name()),
				slog.String("error", err.Error()),
			)
			d.telemetry.consumerFailed(consumer.Name())
		}
	}
	d.telemetry.snapshotPublished(metricName)
}
