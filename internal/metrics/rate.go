package metrics

import (
	"math"
	"time"
)

// counterRate converts two counter readings into a per-second rate.
// Params: current and previous raw counter values; elapsed time between readings.
// Returns: non-negative rate; 0 on counter reset or non-positive elapsed time.
func counterRate(current, previous uint64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 || current < previous {
		return 0
	}
	return float64(current-previous) / seconds
}

// floatToCounter converts a parsed float sample into an unsigned counter.
// Params: value finite sample value.
// Returns: truncated value, 0 for negatives, max uint64 on overflow.
func floatToCounter(value float64) uint64 {
	if value <= 0 || math.IsNaN(value) {
		return 0
	}
	if value >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(value)
}
