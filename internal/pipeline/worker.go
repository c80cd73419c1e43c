package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"extmetrics/internal/metrics"
)

// pollWorker drives one producer on a fixed report period.
// Params: producer, poll interval and logger.
// Returns: runner instance.
type pollWorker struct {
	producer metrics.Producer
	interval time.Duration
	logger   *slog.Logger
}

// newPollWorker builds a poll worker.
// Params: producer poll source; interval report period; logger root logger.
// Returns: worker or validation error.
func newPollWorker(producer metrics.Producer, interval time.Duration, logger *slog.Logger) (*pollWorker, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &pollWorker{
		producer: producer,
		interval: interval,
		logger:   logger,
	}, nil
}

// run executes report periods until context cancellation.
// Params: ctx controls lifecycle.
// Returns: nil on graceful stop.
func (w *pollWorker) run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Debug(
		"poll worker started",
		slog.String("metric", w.producer.Name()),
		slog.Duration("interval", w.interval),
	)

	// Warm-up poll so the first snapshot does not wait a full interval.
	w.producer.OnNewReportPeriod(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.producer.OnNewReportPeriod(ctx)
		}
	}
}
