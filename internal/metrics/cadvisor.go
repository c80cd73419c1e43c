package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// nanoCoresPerPercent scales usage_nano_cores so one fully busy core reads 100%.
const nanoCoresPerPercent = 1e7

// ContainerSample is one raw container record taken from a cAdvisor payload.
// Network fields are raw cumulative counters.
type ContainerSample struct {
	Name               string
	CPUUsagePercentage float64
	MemoryUsageBytes   uint64
	MemoryLimitBytes   uint64
	NetworkRxBytes     uint64
	NetworkTxBytes     uint64
	FilesystemUsage    uint64
	FilesystemLimit    uint64
}

// jsonCounter decodes integer or float JSON numbers into an unsigned value.
type jsonCounter uint64

// UnmarshalJSON accepts any JSON number; negatives clamp to zero.
// Params: data raw JSON token.
// Returns: error for non-numeric or non-finite tokens.
func (c *jsonCounter) UnmarshalJSON(data []byte) error {
	token := string(bytes.TrimSpace(data))
	if value, err := strconv.ParseUint(token, 10, 64); err == nil {
		*c = jsonCounter(value)
		return nil
	}
	value, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("value %s must be a finite number", token)
	}
	*c = jsonCounter(floatToCounter(value))
	return nil
}

type cadvisorContainerJSON struct {
	Aliases []json.RawMessage `json:"aliases"`
	Spec    *struct {
		Memory *struct {
			Limit *jsonCounter `json:"limit"`
		} `json:"memory"`
	} `json:"spec"`
	Stats []json.RawMessage `json:"stats"`
}

type cadvisorStatsJSON struct {
	CPU *struct {
		Usage *struct {
			Total *jsonCounter `json:"total"`
		} `json:"usage"`
		UsageNanoCores *jsonCounter `json:"usage_nano_cores"`
	} `json:"cpu"`
	Memory *struct {
		Usage      *jsonCounter `json:"usage"`
		WorkingSet *jsonCounter `json:"working_set"`
	} `json:"memory"`
	Network *struct {
		Interfaces []struct {
			RxBytes *jsonCounter `json:"rx_bytes"`
			TxBytes *jsonCounter `json:"tx_bytes"`
		} `json:"interfaces"`
	} `json:"network"`
	Filesystem []struct {
		Usage    *jsonCounter `json:"usage"`
		Capacity *jsonCounter `json:"capacity"`
	} `json:"filesystem"`
}

// ParseCAdvisor parses a cAdvisor container map into raw container samples.
// Params: payload JSON object keyed by container path.
// Returns: samples ordered by container path, or error that discards the whole payload.
func ParseCAdvisor(payload []byte) ([]ContainerSample, error) {
	if len(payload) > MaxResponseBytes {
		return nil, fmt.Errorf("JSON payload exceeds %d bytes", MaxResponseBytes)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("root JSON must be object")
	}

	var containers map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &containers); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	paths := make([]string, 0, len(containers))
	for path := range containers {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	samples := make([]ContainerSample, 0, len(paths))
	for _, path := range paths {
		sample, ok, err := parseCAdvisorContainer(path, containers[path])
		if err != nil {
			return nil, fmt.Errorf("container %q: %w", path, err)
		}
		if ok {
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

// parseCAdvisorContainer extracts one container record from its latest stats entry.
// Params: path container key; raw container object.
// Returns: sample, false when container has no stats, or decode error.
func parseCAdvisorContainer(path string, raw json.RawMessage) (ContainerSample, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ContainerSample{}, false, nil
	}

	var container cadvisorContainerJSON
	if err := json.Unmarshal(trimmed, &container); err != nil {
		return ContainerSample{}, false, fmt.Errorf("decode container: %w", err)
	}
	if len(container.Stats) == 0 {
		return ContainerSample{}, false, nil
	}

	sample := ContainerSample{Name: path}
	if len(container.Aliases) > 0 {
		var alias string
		if err := json.Unmarshal(container.Aliases[0], &alias); err != nil {
			return ContainerSample{}, false, fmt.Errorf("aliases[0] must be string")
		}
		sample.Name = alias
	}

	var latest cadvisorStatsJSON
	if err := json.Unmarshal(container.Stats[len(container.Stats)-1], &latest); err != nil {
		return ContainerSample{}, false, fmt.Errorf("decode latest stats: %w", err)
	}

	if cpu := latest.CPU; cpu != nil && cpu.Usage != nil && cpu.Usage.Total != nil && cpu.UsageNanoCores != nil {
		sample.CPUUsagePercentage = float64(*cpu.UsageNanoCores) / nanoCoresPerPercent
	}

	if memory := latest.Memory; memory != nil {
		if memory.WorkingSet != nil {
			sample.MemoryUsageBytes = uint64(*memory.WorkingSet)
		} else if memory.Usage != nil {
			sample.MemoryUsageBytes = uint64(*memory.Usage)
		}
		if spec := container.Spec; spec != nil && spec.Memory != nil && spec.Memory.Limit != nil {
			sample.MemoryLimitBytes = uint64(*spec.Memory.Limit)
		}
	}

	if latest.Network != nil {
		for _, iface := range latest.Network.Interfaces {
			if iface.RxBytes != nil {
				sample.NetworkRxBytes += uint64(*iface.RxBytes)
			}
			if iface.TxBytes != nil {
				sample.NetworkTxBytes += uint64(*iface.TxBytes)
			}
		}
	}

	for _, fs := range latest.Filesystem {
		if fs.Usage != nil {
			sample.FilesystemUsage += uint64(*fs.Usage)
		}
		if fs.Capacity != nil {
			sample.FilesystemLimit += uint64(*fs.Capacity)
		}
	}

	return sample, true, nil
}
