package metrics

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HostSample is one raw host record taken from a Node Exporter payload.
// Disk and network fields are raw cumulative counters.
type HostSample struct {
	MemoryTotalBytes     uint64
	MemoryAvailableBytes uint64
	MemoryUsedBytes      uint64
	CPUIdleSecondsSum    float64
	CPUCount             int
	DiskReadBytes        uint64
	DiskWrittenBytes     uint64
	NetworkReceiveBytes  uint64
	NetworkTransmitBytes uint64
	LoadAverage1m        float64
	LoadAverage5m        float64
	LoadAverage15m       float64
	FilesystemSizeBytes  uint64
	FilesystemAvailBytes uint64
}

// ExpositionStats counts how sample lines of one payload were handled.
type ExpositionStats struct {
	Matched   int
	Unmatched int
	Malformed int
}

// ParseNodeExporter scans Prometheus text exposition for the host figures it knows.
// Params: payload text exposition.
// Returns: host sample and line statistics; malformed or unknown lines are skipped.
func ParseNodeExporter(payload string) (HostSample, ExpositionStats) {
	var (
		sample       HostSample
		stats        ExpositionStats
		availableSet bool
	)

	scanner := bufio.NewScanner(strings.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxResponseBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, labels, value, err := parseExpositionSampleLine(line)
		if err != nil {
			stats.Malformed++
			continue
		}

		matched := true
		switch {
		case name == "node_memory_MemTotal_bytes":
			sample.MemoryTotalBytes = floatToCounter(value)
		case name == "node_memory_MemAvailable_bytes":
			sample.MemoryAvailableBytes = floatToCounter(value)
			availableSet = true
		case name == "node_memory_MemFree_bytes":
			if !availableSet {
				sample.MemoryAvailableBytes = floatToCounter(value)
			}
		case name == "node_cpu_seconds_total" && labels["mode"] == "idle":
			sample.CPUIdleSecondsSum += value
			sample.CPUCount++
		case name == "node_disk_read_bytes_total":
			sample.DiskReadBytes += floatToCounter(value)
		case name == "node_disk_written_bytes_total":
			sample.DiskWrittenBytes += floatToCounter(value)
		case name == "node_network_receive_bytes_total":
			sample.NetworkReceiveBytes += floatToCounter(value)
		case name == "node_network_transmit_bytes_total":
			sample.NetworkTransmitBytes += floatToCounter(value)
		case name == "node_load1":
			sample.LoadAverage1m = value
		case name == "node_load5":
			sample.LoadAverage5m = value
		case name == "node_load15":
			sample.LoadAverage15m = value
		case name == "node_filesystem_size_bytes" && labels["mountpoint"] == "/":
			sample.FilesystemSizeBytes = floatToCounter(value)
		case name == "node_filesystem_avail_bytes" && labels["mountpoint"] == "/":
			sample.FilesystemAvailBytes = floatToCounter(value)
		default:
			matched = false
		}

		if matched {
			stats.Matched++
		} else {
			stats.Unmatched++
		}
	}

	if sample.MemoryTotalBytes > sample.MemoryAvailableBytes {
		sample.MemoryUsedBytes = sample.MemoryTotalBytes - sample.MemoryAvailableBytes
	}

	return sample, stats
}

// parseExpositionSampleLine parses one sample line.
// Params: line contains metric sample in exposition format.
// Returns: metric name, labels, numeric value, parse error.
func parseExpositionSampleLine(line string) (string, map[string]string, float64, error) {
	seriesToken, valuePart, err := splitPrometheusSeriesAndValue(line)
	if err != nil {
		return "", nil, 0, err
	}
	if seriesToken == "" || valuePart == "" {
		return "", nil, 0, fmt.Errorf("invalid sample format")
	}

	metricName, labels, err := parsePrometheusSeriesToken(seriesToken)
	if err != nil {
		return "", nil, 0, err
	}

	valueFields := strings.Fields(valuePart)
	if len(valueFields) == 0 {
		return "", nil, 0, fmt.Errorf("missing sample value")
	}

	value, err := strconv.ParseFloat(valueFields[0], 64)
	if err != nil {
		return "", nil, 0, fmt.Errorf("invalid sample value")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", nil, 0, fmt.Errorf("sample value must be finite")
	}

	return metricName, labels, value, nil
}

// splitPrometheusSeriesAndValue splits sample line into series token and numeric/timestamp segment.
// Params: line is one sample line.
// Returns: series token, value segment, parse error.
func splitPrometheusSeriesAndValue(line string) (string, string, error) {
	inBraces := false
	inQuotes := false
	escaped := false

	for idx := 0; idx < len(line); idx++ {
		ch := line[idx]

		if inQuotes {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inQuotes = false
			}
			continue
		}

		switch ch {
		case '{':
			inBraces = true
		case '}':
			inBraces = false
		case '"':
			if inBraces {
				inQuotes = true
			}
		case ' ', '\t':
			if !inBraces {
				seriesToken := strings.TrimSpace(line[:idx])
				valuePart := strings.TrimSpace(line[idx+1:])
				return seriesToken, valuePart, nil
			}
		}
	}

	return "", "", fmt.Errorf("missing sample value")
}

// parsePrometheusSeriesToken parses '<metric>{labels}' or '<metric>'.
// Params: token contains metric and optional labels segment.
// Returns: metric name, label set (nil without labels), parse error.
func parsePrometheusSeriesToken(token string) (string, map[string]string, error) {
	openIdx := strings.IndexByte(token, '{')
	if openIdx < 0 {
		name := strings.TrimSpace(token)
		if !isValidMetricName(name) {
			return "", nil, fmt.Errorf("invalid metric name %q", name)
		}
		return name, nil, nil
	}

	closeIdx := strings.LastIndexByte(token, '}')
	if closeIdx <= openIdx || closeIdx != len(token)-1 {
		return "", nil, fmt.Errorf("invalid labels block")
	}

	name := strings.TrimSpace(token[:openIdx])
	if !isValidMetricName(name) {
		return "", nil, fmt.Errorf("invalid metric name %q", name)
	}

	labels, err := parsePrometheusLabels(token[openIdx+1 : closeIdx])
	if err != nil {
		return "", nil, err
	}
	return name, labels, nil
}

// parsePrometheusLabels parses the inside of a '{...}' label block.
// Params: block is `name="value",...` with optional trailing comma.
// Returns: label map or error on malformed pairs.
func parsePrometheusLabels(block string) (map[string]string, error) {
	labels := make(map[string]string)
	idx := 0

	for {
		for idx < len(block) && (block[idx] == ' ' || block[idx] == '\t') {
			idx++
		}
		if idx >= len(block) {
			return labels, nil
		}

		eq := strings.IndexByte(block[idx:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("label without value")
		}
		labelName := strings.TrimSpace(block[idx : idx+eq])
		if labelName == "" {
			return nil, fmt.Errorf("empty label name")
		}
		idx += eq + 1
		for idx < len(block) && (block[idx] == ' ' || block[idx] == '\t') {
			idx++
		}
		if idx >= len(block) || block[idx] != '"' {
			return nil, fmt.Errorf("label %q value must be quoted", labelName)
		}
		idx++

		var value strings.Builder
		closed := false
		for idx < len(block) {
			ch := block[idx]
			idx++
			if ch == '\\' && idx < len(block) {
				next := block[idx]
				idx++
				switch next {
				case 'n':
					value.WriteByte('\n')
				default:
					value.WriteByte(next)
				}
				continue
			}
			if ch == '"' {
				closed = true
				break
			}
			value.WriteByte(ch)
		}
		if !closed {
			return nil, fmt.Errorf("label %q value is not terminated", labelName)
		}
		labels[labelName] = value.String()

		for idx < len(block) && (block[idx] == ' ' || block[idx] == '\t') {
			idx++
		}
		if idx < len(block) {
			if block[idx] != ',' {
				return nil, fmt.Errorf("expected ',' after label %q", labelName)
			}
			idx++
		}
	}
}

// isValidMetricName checks the exposition metric name grammar.
// Params: name candidate metric name.
// Returns: true for [a-zA-Z_:][a-zA-Z0-9_:]*.
func isValidMetricName(name string) bool {
	if name == "" {
		return false
	}
	for idx := 0; idx < len(name); idx++ {
		ch := name[idx]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_', ch == ':':
		case ch >= '0' && ch <= '9' && idx > 0:
		default:
			return false
		}
	}
	return true
}
