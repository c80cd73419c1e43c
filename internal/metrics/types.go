package metrics

import (
	"context"
	"time"
)

const (
	// CAdvisorMetricName is the dispatch name of container snapshots.
	CAdvisorMetricName = "cAdvisor metrics"
	// NodeExporterMetricName is the dispatch name of host snapshots.
	NodeExporterMetricName = "Node Exporter metrics"
)

// Snapshot is one normalized poll result handed to the dispatch framework.
// Params: none.
// Returns: metric name used to route the snapshot to its consumers.
type Snapshot interface {
	MetricName() string
}

// Notifier receives completed snapshots from producers.
// Params: snapshot is the normalized result of one poll.
// Returns: none.
type Notifier interface {
	OnNewMetric(snapshot Snapshot)
}

// Producer is one externally scheduled poll source.
// Params: ctx aborts dialing on shutdown.
// Returns: none; failures degrade to "no metrics this poll".
type Producer interface {
	Name() string
	OnNewReportPeriod(ctx context.Context)
}

// PollOutcome classifies how one poll ended.
// Params: none.
// Returns: enum value reported to poll observers.
type PollOutcome uint8

const (
	// PollPublished means a snapshot was handed to the notifier.
	PollPublished PollOutcome = iota
	// PollFetchFailed means the wire client returned an empty body.
	PollFetchFailed
	// PollParseFailed means the payload was rejected and an empty snapshot was published.
	PollParseFailed
)

// String returns the label used in telemetry.
func (o PollOutcome) String() string {
	switch o {
	case PollPublished:
		return "published"
	case PollFetchFailed:
		return "fetch_failed"
	case PollParseFailed:
		return "parse_failed"
	default:
		return "unknown"
	}
}

// PollObserver is notified once per finished poll.
// Params: metric is producer metric name; outcome classifies poll; fetch is wire client latency.
// Returns: none.
type PollObserver interface {
	ObservePoll(metric string, outcome PollOutcome, fetch time.Duration)
}

// ContainerMetrics is one normalized container record.
type ContainerMetrics struct {
	Name                 string
	CPUUsagePercentage   float64
	MemoryUsageBytes     uint64
	MemoryLimitBytes     uint64
	NetworkRxBytesPerSec float64
	NetworkTxBytesPerSec float64
	FilesystemUsage      uint64
	FilesystemLimit      uint64
}

// ContainerSnapshot is the normalized cAdvisor poll result.
type ContainerSnapshot struct {
	Containers []ContainerMetrics
}

// MetricName returns the cAdvisor dispatch name.
func (ContainerSnapshot) MetricName() string {
	return CAdvisorMetricName
}

// HostMetrics is the normalized Node Exporter poll result.
// CPUUsagePercentage is not derived from idle counters and stays zero.
type HostMetrics struct {
	CPUUsagePercentage         float64
	MemoryTotalBytes           uint64
	MemoryAvailableBytes       uint64
	MemoryUsedBytes            uint64
	DiskReadBytesPerSec        float64
	DiskWriteBytesPerSec       float64
	NetworkReceiveBytesPerSec  float64
	NetworkTransmitBytesPerSec float64
	LoadAverage1m              float64
	LoadAverage5m              float64
	LoadAverage15m             float64
	FilesystemSizeBytes        uint64
	FilesystemAvailBytes       uint64
}

// MetricName returns the Node Exporter dispatch name.
func (HostMetrics) MetricName() string {
	return NodeExporterMetricName
}
