package metrics

import (
	"strings"
	"testing"
)

func TestParseNodeExporterMemoryAndLoad(t *testing.T) {
	sample, stats := ParseNodeExporter("node_memory_MemTotal_bytes 1000\nnode_memory_MemAvailable_bytes 400\nnode_load1 0.5\n")

	if sample.MemoryTotalBytes != 1000 {
		t.Fatalf("unexpected memory total: %d", sample.MemoryTotalBytes)
	}
	if sample.MemoryAvailableBytes != 400 {
		t.Fatalf("unexpected memory available: %d", sample.MemoryAvailableBytes)
	}
	if sample.MemoryUsedBytes != 600 {
		t.Fatalf("unexpected memory used: %d", sample.MemoryUsedBytes)
	}
	if sample.LoadAverage1m != 0.5 {
		t.Fatalf("unexpected load1: %v", sample.LoadAverage1m)
	}
	if stats.Matched != 3 || stats.Unmatched != 0 || stats.Malformed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestParseNodeExporterFullExposition(t *testing.T) {
	payload := strings.Join([]string{
		`# HELP node_cpu_seconds_total Seconds the CPUs spent in each mode.`,
		`# TYPE node_cpu_seconds_total counter`,
		`node_cpu_seconds_total{cpu="0",mode="idle"} 100.5`,
		`node_cpu_seconds_total{cpu="0",mode="user"} 20`,
		`node_cpu_seconds_total{cpu="1",mode="idle"} 99.5`,
		`node_disk_read_bytes_total{device="sda"} 1000`,
		`node_disk_read_bytes_total{device="sdb"} 24`,
		`node_disk_written_bytes_total{device="sda"} 2e3`,
		`node_network_receive_bytes_total{device="eth0"} 300 1700000000000`,
		`node_network_receive_bytes_total{device="lo"} 12`,
		`node_network_transmit_bytes_total{device="eth0"} 400`,
		`node_load1 0.1`,
		`node_load5 0.2`,
		`node_load15 0.3`,
		`node_filesystem_size_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 5e+10`,
		`node_filesystem_avail_bytes{device="/dev/sda1",fstype="ext4",mountpoint="/"} 2e+10`,
		`node_filesystem_size_bytes{device="tmpfs",fstype="tmpfs",mountpoint="/run"} 1024`,
		``,
		`node_uname_info{release="6.1",version="#1 SMP, build {x}"} 1`,
	}, "\n")

	sample, stats := ParseNodeExporter(payload)

	if sample.CPUIdleSecondsSum != 200 || sample.CPUCount != 2 {
		t.Fatalf("unexpected idle: sum=%v count=%d", sample.CPUIdleSecondsSum, sample.CPUCount)
	}
	if sample.DiskReadBytes != 1024 || sample.DiskWrittenBytes != 2000 {
		t.Fatalf("unexpected disk counters: read=%d written=%d", sample.DiskReadBytes, sample.DiskWrittenBytes)
	}
	if sample.NetworkReceiveBytes != 312 || sample.NetworkTransmitBytes != 400 {
		t.Fatalf("unexpected network counters: rx=%d tx=%d", sample.NetworkReceiveBytes, sample.NetworkTransmitBytes)
	}
	if sample.LoadAverage1m != 0.1 || sample.LoadAverage5m != 0.2 || sample.LoadAverage15m != 0.3 {
		t.Fatalf("unexpected loads: %+v", sample)
	}
	if sample.FilesystemSizeBytes != 50000000000 || sample.FilesystemAvailBytes != 20000000000 {
		t.Fatalf("unexpected root filesystem: size=%d avail=%d", sample.FilesystemSizeBytes, sample.FilesystemAvailBytes)
	}
	if stats.Unmatched != 3 {
		t.Fatalf("unexpected unmatched count: %+v", stats)
	}
	if stats.Malformed != 0 {
		t.Fatalf("unexpected malformed count: %+v", stats)
	}
}

func TestParseNodeExporterMemFreeFallback(t *testing.T) {
	cases := []struct {
		name      string
		payload   string
		available uint64
		used      uint64
	}{
		{
			name:      "free only",
			payload:   "node_memory_MemTotal_bytes 1000\nnode_memory_MemFree_bytes 300\n",
			available: 300,
			used:      700,
		},
		{
			name:      "available before free",
			payload:   "node_memory_MemAvailable_bytes 400\nnode_memory_MemFree_bytes 100\nnode_memory_MemTotal_bytes 1000\n",
			available: 400,
			used:      600,
		},
		{
			name:      "available after free",
			payload:   "node_memory_MemFree_bytes 100\nnode_memory_MemAvailable_bytes 400\nnode_memory_MemTotal_bytes 1000\n",
			available: 400,
			used:      600,
		},
		{
			name:      "available exceeds total",
			payload:   "node_memory_MemTotal_bytes 100\nnode_memory_MemAvailable_bytes 400\n",
			available: 400,
			used:      0,
		},
	}

	for _, tc := range cases {
		sample, _ := ParseNodeExporter(tc.payload)
		if sample.MemoryAvailableBytes != tc.available || sample.MemoryUsedBytes != tc.used {
			t.Fatalf("%s: got available=%d used=%d want available=%d used=%d",
				tc.name, sample.MemoryAvailableBytes, sample.MemoryUsedBytes, tc.available, tc.used)
		}
	}
}

func TestParseNodeExporterSkipsMalformedLines(t *testing.T) {
	payload := strings.Join([]string{
		`node_load1`,
		`node_load5 abc`,
		`node_load15 NaN`,
		`node_memory_MemTotal_bytes +Inf`,
		`1node_load1 3`,
		`node_disk_read_bytes_total{device="sda" 10`,
		`node_disk_read_bytes_total{device=sda} 10`,
		`node_memory_MemTotal_bytes -5`,
		`node_load1 1.5`,
	}, "\n")

	sample, stats := ParseNodeExporter(payload)
	if sample.LoadAverage1m != 1.5 {
		t.Fatalf("unexpected load1: %v", sample.LoadAverage1m)
	}
	if sample.LoadAverage5m != 0 || sample.LoadAverage15m != 0 || sample.DiskReadBytes != 0 {
		t.Fatalf("malformed lines must be ignored: %+v", sample)
	}
	if sample.MemoryTotalBytes != 0 {
		t.Fatalf("negative total must clamp to zero: %d", sample.MemoryTotalBytes)
	}
	if stats.Malformed != 7 || stats.Matched != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestParsePrometheusLabelsEscapes(t *testing.T) {
	labels, err := parsePrometheusLabels(`path="C:\\tmp",msg="say \"hi\"\n", mountpoint="/",`)
	if err != nil {
		t.Fatalf("parsePrometheusLabels() error: %v", err)
	}
	if labels["path"] != `C:\tmp` {
		t.Fatalf("unexpected path label: %q", labels["path"])
	}
	if labels["msg"] != "say \"hi\"\n" {
		t.Fatalf("unexpected msg label: %q", labels["msg"])
	}
	if labels["mountpoint"] != "/" {
		t.Fatalf("unexpected mountpoint label: %q", labels["mountpoint"])
	}
}

func TestParseNodeExporterIsIdempotent(t *testing.T) {
	payload := "node_memory_MemTotal_bytes 1000\nnode_disk_read_bytes_total{device=\"sda\"} 42\nnode_load5 1\n"
	first, firstStats := ParseNodeExporter(payload)
	second, secondStats := ParseNodeExporter(payload)
	if first != second || firstStats != secondStats {
		t.Fatalf("re-parse differs: first=%+v second=%+v", first, second)
	}
}
