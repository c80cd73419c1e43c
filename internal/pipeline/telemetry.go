package pipeline

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"extmetrics/internal/metrics"
)

// Telemetry holds collector self metrics on a dedicated registry.
// Params: none.
// Returns: poll observer and Prometheus handler source.
type Telemetry struct {
	registry *prometheus.Registry

	// PollsTotal counts finished polls by metric and outcome.
	PollsTotal *prometheus.CounterVec
	// FetchDuration tracks wire client latency per metric.
	FetchDuration *prometheus.HistogramVec
	// SnapshotsPublished counts snapshots delivered to consumers.
	SnapshotsPublished *prometheus.CounterVec
	// DispatchDropped counts snapshots rejected by a full executor queue.
	DispatchDropped *prometheus.CounterVec
	// ConsumerErrors counts consumer failures by consumer name.
	ConsumerErrors *prometheus.CounterVec
}

// NewTelemetry creates and registers all self metrics.
// Params: none.
// Returns: initialized telemetry.
func NewTelemetry() *Telemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Telemetry{
		registry: registry,
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extmetrics_polls_total",
				Help: "Total number of external metric polls by outcome",
			},
			[]string{"metric", "outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extmetrics_fetch_duration_seconds",
				Help:    "Duration of wire client fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
		SnapshotsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extmetrics_snapshots_published_total",
				Help: "Total number of snapshots delivered to consumers",
			},
			[]string{"metric"},
		),
		DispatchDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extmetrics_dispatch_dropped_total",
				Help: "Total number of snapshots dropped because the executor queue was full",
			},
			[]string{"metric"},
		),
		ConsumerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extmetrics_consumer_errors_total",
				Help: "Total number of consumer failures",
			},
			[]string{"consumer"},
		),
	}
}

// ObservePoll records poll outcome and fetch latency.
// Params: metric producer metric name; outcome poll result; fetch wire latency.
// Returns: none.
func (t *Telemetry) ObservePoll(metric string, outcome metrics.PollOutcome, fetch time.Duration) {
	if t == nil {
		return
	}
	t.PollsTotal.WithLabelValues(metric, outcome.String()).Inc()
	t.FetchDuration.WithLabelValues(metric).Observe(fetch.Seconds())
}

// TrackContainers exposes the number of containers with retained counter state.
// Params: count callback evaluated on every scrape.
// Returns: none.
func (t *Telemetry) TrackContainers(count func() int) {
	if t == nil || count == nil {
		return
	}
	promauto.With(t.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "extmetrics_tracked_containers",
			Help: "Number of containers with retained network counter state",
		},
		func() float64 { return float64(count()) },
	)
}

// Handler returns the Prometheus exposition handler for the telemetry registry.
// Params: none.
// Returns: HTTP handler.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// newTelemetryMux mounts the exposition handler on path.
// Params: path HTTP path (defaults to /metrics); telemetry metrics source.
// Returns: HTTP mux.
func newTelemetryMux(path string, telemetry *Telemetry) *http.ServeMux {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, telemetry.Handler())
	return mux
}

func (t *Telemetry) dispatchDropped(metric string) {
	if t == nil {
		return
	}
	t.DispatchDropped.WithLabelValues(metric).Inc()
}

func (t *Telemetry) consumerFailed(consumer string) {
	if t == nil {
		return
	}
	t.ConsumerErrors.WithLabelValues(consumer).Inc()
}

func (t *Telemetry) snapshotPublished(metric string) {
	if t == nil {
		return
	}
	t.SnapshotsPublished.WithLabelValues(metric).Inc()
}

// pollObservers fans one poll notification out to several observers.
type pollObservers []metrics.PollObserver

// ObservePoll forwards the notification to every observer.
func (o pollObservers) ObservePoll(metric string, outcome metrics.PollOutcome, fetch time.Duration) {
	for _, observer := range o {
		observer.ObservePoll(metric, outcome, fetch)
	}
}
