package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type hostCounters struct {
	valid       bool
	diskRead    uint64
	diskWritten uint64
	netReceive  uint64
	netTransmit uint64
	at          time.Time
}

// NodeExporterProducer polls Node Exporter and publishes host snapshots with counter rates.
// Params: endpoint, wire fetcher, notifier and optional poll observer.
// Returns: producer instance.
type NodeExporterProducer struct {
	mu       sync.Mutex
	endpoint string
	fetcher  Fetcher
	notifier Notifier
	observer PollObserver
	logger   *slog.Logger
	previous hostCounters
	now      func() time.Time
}

// NewNodeExporterProducer creates a Node Exporter producer.
// Params: endpoint exposition URL; fetcher/notifier/observer/logger runtime deps.
// Returns: configured producer or validation error.
func NewNodeExporterProducer(
	endpoint string,
	fetcher Fetcher,
	notifier Notifier,
	observer PollObserver,
	logger *slog.Logger,
) (*NodeExporterProducer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("node exporter endpoint is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &NodeExporterProducer{
		endpoint: endpoint,
		fetcher:  fetcher,
		notifier: notifier,
		observer: observer,
		logger:   logger.With(slog.String("producer", "node_exporter")),
		now:      time.Now,
	}, nil
}

// Name returns the dispatch metric name.
// Params: none.
// Returns: Node Exporter metric name.
func (p *NodeExporterProducer) Name() string {
	return NodeExporterMetricName
}

// OnNewReportPeriod runs one poll: fetch, parse, rate conversion, publish.
// Params: ctx aborts dialing.
// Returns: none.
func (p *NodeExporterProducer) OnNewReportPeriod(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := p.now()
	result := p.fetcher.Fetch(ctx, p.endpoint)
	fetchTook := p.now().Sub(started)

	if len(result.Body) == 0 {
		p.logger.Warn(
			"failed to fetch node exporter metrics",
			slog.String("endpoint", p.endpoint),
			slog.String("outcome", result.Outcome.String()),
			slog.String("error", fetchErrorText(result)),
		)
		p.observe(PollFetchFailed, fetchTook)
		return
	}

	sample, stats := ParseNodeExporter(string(result.Body))
	p.logger.Debug(
		"node exporter payload parsed",
		slog.Int("matched", stats.Matched),
		slog.Int("unmatched", stats.Unmatched),
		slog.Int("malformed", stats.Malformed),
	)

	p.notifier.OnNewMetric(p.convert(sample, p.now()))
	p.observe(PollPublished, fetchTook)
}

// convert turns a raw host sample into normalized metrics and refreshes previous state.
// Params: sample parsed host record; now poll timestamp.
// Returns: normalized host snapshot.
func (p *NodeExporterProducer) convert(sample HostSample, now time.Time) HostMetrics {
	out := HostMetrics{
		MemoryTotalBytes:     sample.MemoryTotalBytes,
		MemoryAvailableBytes: sample.MemoryAvailableBytes,
		MemoryUsedBytes:      sample.MemoryUsedBytes,
		LoadAverage1m:        sample.LoadAverage1m,
		LoadAverage5m:        sample.LoadAverage5m,
		LoadAverage15m:       sample.LoadAverage15m,
		FilesystemSizeBytes:  sample.FilesystemSizeBytes,
		FilesystemAvailBytes: sample.FilesystemAvailBytes,
	}

	if p.previous.valid {
		elapsed := now.Sub(p.previous.at)
		out.DiskReadBytesPerSec = counterRate(sample.DiskReadBytes, p.previous.diskRead, elapsed)
		out.DiskWriteBytesPerSec = counterRate(sample.DiskWrittenBytes, p.previous.diskWritten, elapsed)
		out.NetworkReceiveBytesPerSec = counterRate(sample.NetworkReceiveBytes, p.previous.netReceive, elapsed)
		out.NetworkTransmitBytesPerSec = counterRate(sample.NetworkTransmitBytes, p.previous.netTransmit, elapsed)
	}

	p.previous = hostCounters{
		valid:       true,
		diskRead:    sample.DiskReadBytes,
		diskWritten: sample.DiskWrittenBytes,
		netReceive:  sample.NetworkReceiveBytes,
		netTransmit: sample.NetworkTransmitBytes,
		at:          now,
	}
	return out
}

func (p *NodeExporterProducer) observe(outcome PollOutcome, fetchTook time.Duration) {
	if p.observer == nil {
		return
	}
	p.observer.ObservePoll(NodeExporterMetricName, outcome, fetchTook)
}
