package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"extmetrics/internal/metrics"
)

// TestTelemetry_ObservePoll verifies poll counters and fetch histogram.
// Params: testing.T for assertions.
// Returns: none.
func TestTelemetry_ObservePoll(t *testing.T) {
	telemetry := NewTelemetry()

	telemetry.ObservePoll(metrics.CAdvisorMetricName, metrics.PollPublished, 20*time.Millisecond)
	telemetry.ObservePoll(metrics.CAdvisorMetricName, metrics.PollPublished, 30*time.Millisecond)
	telemetry.ObservePoll(metrics.CAdvisorMetricName, metrics.PollFetchFailed, time.Second)

	if got := testutil.ToFloat64(telemetry.PollsTotal.WithLabelValues(metrics.CAdvisorMetricName, "published")); got != 2 {
		t.Fatalf("unexpected published polls: %v", got)
	}
	if got := testutil.ToFloat64(telemetry.PollsTotal.WithLabelValues(metrics.CAdvisorMetricName, "fetch_failed")); got != 1 {
		t.Fatalf("unexpected failed polls: %v", got)
	}
	if got := testutil.CollectAndCount(telemetry.FetchDuration); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}

// TestTelemetry_NilIsNoop verifies nil telemetry can be used by the dispatcher.
// Params: testing.T for assertions.
// Returns: none.
func TestTelemetry_NilIsNoop(t *testing.T) {
	var telemetry *Telemetry
	telemetry.ObservePoll("x", metrics.PollPublished, time.Second)
	telemetry.dispatchDropped("x")
	telemetry.consumerFailed("x")
	telemetry.snapshotPublished("x")
	telemetry.TrackContainers(func() int { return 1 })
}

// TestTelemetry_HandlerExposesMetrics verifies Prometheus exposition over HTTP.
// Params: testing.T for assertions.
// Returns: none.
func TestTelemetry_HandlerExposesMetrics(t *testing.T) {
	telemetry := NewTelemetry()
	tracked := 3
	telemetry.TrackContainers(func() int { return tracked })
	telemetry.ObservePoll(metrics.NodeExporterMetricName, metrics.PollParseFailed, time.Millisecond)

	server := httptest.NewServer(newTelemetryMux("/metrics", telemetry))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	text := string(body)
	for _, want := range []string{
		"extmetrics_tracked_containers 3",
		`extmetrics_polls_total{metric="Node Exporter metrics",outcome="parse_failed"} 1`,
		"extmetrics_fetch_duration_seconds_bucket",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in exposition:\n%s", want, text)
		}
	}
}

type countingObserver struct {
	calls int
}

func (o *countingObserver) ObservePoll(string, metrics.PollOutcome, time.Duration) {
	o.calls++
}

// TestPollObservers_FanOut verifies every observer is notified.
// Params: testing.T for assertions.
// Returns: none.
func TestPollObservers_FanOut(t *testing.T) {
	first := &countingObserver{}
	second := &countingObserver{}
	observers := pollObservers{first, second}

	observers.ObservePoll(metrics.CAdvisorMetricName, metrics.PollPublished, 0)

	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("unexpected calls: first=%d second=%d", first.calls, second.calls)
	}
}

// TestHTTPServer_ServesUntilCancel verifies the listener runner lifecycle.
// Params: testing.T for assertions.
// Returns: none.
func TestHTTPServer_ServesUntilCancel(t *testing.T) {
	logger, _ := newBufferLogger()
	server, err := newHTTPServer("telemetry", "127.0.0.1:0", newTelemetryMux("", NewTelemetry()), logger)
	if err != nil {
		t.Fatalf("new http server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.run(ctx) }()

	var resp *http.Response
	waitFor(t, func() bool {
		resp, err = http.Get("http://" + server.addr() + "/metrics")
		return err == nil
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
