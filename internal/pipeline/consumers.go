package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"extmetrics/internal/metrics"
)

const (
	bytesInMB = float64(1 << 20)
	bytesInGB = float64(1 << 30)
)

// LogConsumer writes one summary line per container or host snapshot.
// Params: logger used for output.
// Returns: consumer instance.
type LogConsumer struct {
	logger *slog.Logger
}

// NewLogConsumer creates a log consumer.
// Params: logger instance.
// Returns: log consumer.
func NewLogConsumer(logger *slog.Logger) *LogConsumer {
	return &LogConsumer{logger: logger}
}

// Name returns consumer name used in logs and telemetry.
func (c *LogConsumer) Name() string {
	return "log"
}

// HandleMetric logs snapshot summary lines.
// Params: ctx is unused; snapshot container or host metrics.
// Returns: error for unsupported snapshot types.
func (c *LogConsumer) HandleMetric(_ context.Context, snapshot metrics.Snapshot) error {
	switch typed := snapshot.(type) {
	case metrics.ContainerSnapshot:
		for _, container := range typed.Containers {
			c.logger.Info(formatContainerLine(container))
		}
		return nil
	case metrics.HostMetrics:
		c.logger.Info(formatHostLine(typed))
		return nil
	default:
		return fmt.Errorf("unsupported snapshot type %T", snapshot)
	}
}

func formatContainerLine(container metrics.ContainerMetrics) string {
	return fmt.Sprintf(
		"cAdvisor metrics [%s]: cpu=%.2f%%, memory=%.2f/%.2f MB, net_rx=%.2f B/s, net_tx=%.2f B/s",
		container.Name,
		container.CPUUsagePercentage,
		float64(container.MemoryUsageBytes)/bytesInMB,
		float64(container.MemoryLimitBytes)/bytesInMB,
		container.NetworkRxBytesPerSec,
		container.NetworkTxBytesPerSec,
	)
}

func formatHostLine(host metrics.HostMetrics) string {
	return fmt.Sprintf(
		"NodeExporter metrics: cpu=%.2f%%, memory=%.2f/%.2f MB, load=[%.2f, %.2f, %.2f], "+
			"disk_read=%.2f B/s, disk_write=%.2f B/s, net_rx=%.2f B/s, net_tx=%.2f B/s, disk=%.2f/%.2f GB",
		host.CPUUsagePercentage,
		float64(host.MemoryUsedBytes)/bytesInMB,
		float64(host.MemoryTotalBytes)/bytesInMB,
		host.LoadAverage1m,
		host.LoadAverage5m,
		host.LoadAverage15m,
		host.DiskReadBytesPerSec,
		host.DiskWriteBytesPerSec,
		host.NetworkReceiveBytesPerSec,
		host.NetworkTransmitBytesPerSec,
		float64(host.FilesystemAvailBytes)/bytesInGB,
		float64(host.FilesystemSizeBytes)/bytesInGB,
	)
}

type containerDocument struct {
	MetricType string          `json:"metric_type"`
	Containers []containerJSON `json:"containers"`
}

type containerJSON struct {
	ContainerName        string  `json:"container_name"`
	CPUUsagePercentage   float64 `json:"cpu_usage_percentage"`
	MemoryUsageBytes     uint64  `json:"memory_usage_bytes"`
	MemoryLimitBytes     uint64  `json:"memory_limit_bytes"`
	NetworkRxBytesPerSec float64 `json:"network_rx_bytes_per_sec"`
	NetworkTxBytesPerSec float64 `json:"network_tx_bytes_per_sec"`
	FilesystemUsage      uint64  `json:"filesystem_usage"`
	FilesystemLimit      uint64  `json:"filesystem_limit"`
}

type hostDocument struct {
	MetricType                 string  `json:"metric_type"`
	CPUUsagePercentage         float64 `json:"NodeExporter_cpu_usage_percentage"`
	MemoryTotalBytes           uint64  `json:"NodeExporter_memory_total_bytes"`
	MemoryAvailableBytes       uint64  `json:"NodeExporter_memory_available_bytes"`
	MemoryUsedBytes            uint64  `json:"NodeExporter_memory_used_bytes"`
	DiskReadBytesPerSec        float64 `json:"NodeExporter_disk_read_bytes_per_sec"`
	DiskWriteBytesPerSec       float64 `json:"NodeExporter_disk_write_bytes_per_sec"`
	NetworkReceiveBytesPerSec  float64 `json:"NodeExporter_network_receive_bytes_per_sec"`
	NetworkTransmitBytesPerSec float64 `json:"NodeExporter_network_transmit_bytes_per_sec"`
	LoadAverage1m              float64 `json:"NodeExporter_load_average_1m"`
	LoadAverage5m              float64 `json:"NodeExporter_load_average_5m"`
	LoadAverage15m             float64 `json:"NodeExporter_load_average_15m"`
	FilesystemSizeBytes        uint64  `json:"NodeExporter_filesystem_size_bytes"`
	FilesystemAvailBytes       uint64  `json:"NodeExporter_filesystem_avail_bytes"`
}

// JSONConsumer writes one indented JSON document per snapshot.
// Params: destination writer.
// Returns: consumer instance.
type JSONConsumer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONConsumer creates a JSON consumer.
// Params: out destination writer (stdout or file).
// Returns: JSON consumer.
func NewJSONConsumer(out io.Writer) *JSONConsumer {
	return &JSONConsumer{out: out}
}

// Name returns consumer name used in logs and telemetry.
func (c *JSONConsumer) Name() string {
	return "json"
}

// HandleMetric encodes snapshot as a 2-space indented document.
// Params: ctx is unused; snapshot container or host metrics.
// Returns: marshal/write error or unsupported type error.
func (c *JSONConsumer) HandleMetric(_ context.Context, snapshot metrics.Snapshot) error {
	var document any
	switch typed := snapshot.(type) {
	case metrics.ContainerSnapshot:
		document = newContainerDocument(typed)
	case metrics.HostMetrics:
		document = newHostDocument(typed)
	default:
		return fmt.Errorf("unsupported snapshot type %T", snapshot)
	}

	payload, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", snapshot.MetricName(), err)
	}
	payload = append(payload, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.out.Write(payload); err != nil {
		return fmt.Errorf("write %s snapshot: %w", snapshot.MetricName(), err)
	}
	return nil
}

func newContainerDocument(snapshot metrics.ContainerSnapshot) containerDocument {
	document := containerDocument{
		MetricType: "cadvisor",
		Containers: make([]containerJSON, 0, len(snapshot.Containers)),
	}
	for _, container := range snapshot.Containers {
		document.Containers = append(document.Containers, containerJSON{
			ContainerName:        container.Name,
			CPUUsagePercentage:   container.CPUUsagePercentage,
			MemoryUsageBytes:     container.MemoryUsageBytes,
			MemoryLimitBytes:     container.MemoryLimitBytes,
			NetworkRxBytesPerSec: container.NetworkRxBytesPerSec,
			NetworkTxBytesPerSec: container.NetworkTxBytesPerSec,
			FilesystemUsage:      container.FilesystemUsage,
			FilesystemLimit:      container.FilesystemLimit,
		})
	}
	return document
}

func newHostDocument(host metrics.HostMetrics) hostDocument {
	return hostDocument{
		MetricType:                 "node_exporter",
		CPUUsagePercentage:         host.CPUUsagePercentage,
		MemoryTotalBytes:           host.MemoryTotalBytes,
		MemoryAvailableBytes:       host.MemoryAvailableBytes,
		MemoryUsedBytes:            host.MemoryUsedBytes,
		DiskReadBytesPerSec:        host.DiskReadBytesPerSec,
		DiskWriteBytesPerSec:       host.DiskWriteBytesPerSec,
		NetworkReceiveBytesPerSec:  host.NetworkReceiveBytesPerSec,
		NetworkTransmitBytesPerSec: host.NetworkTransmitBytesPerSec,
		LoadAverage1m:              host.LoadAverage1m,
		LoadAverage5m:              host.LoadAverage5m,
		LoadAverage15m:             host.LoadAverage15m,
		FilesystemSizeBytes:        host.FilesystemSizeBytes,
		FilesystemAvailBytes:       host.FilesystemAvailBytes,
	}
}
