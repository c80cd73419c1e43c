package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"extmetrics/internal/config"
)

type fakeEngine struct {
	stopped chan struct{}
}

type immediateEngine struct {
	err error
}

// Run blocks until context cancellation and marks engine stop.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop.
func (e *fakeEngine) Run(ctx context.Context) error {
	<-ctx.Done()
	close(e.stopped)
	return nil
}

// Run exits immediately with predefined error.
// Params: _ ignored context.
// Returns: predefined run error.
func (e *immediateEngine) Run(_ context.Context) error {
	return e.err
}

type fakeEngineFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	cfgs    []*config.Config
	failAt  map[int]error
}

// build creates one fake engine and records config snapshot.
// Params: _ ignored runtime context; cfg runtime config snapshot; _ ignored logger.
// Returns: fake engine or configured build error.
func (f *fakeEngineFactory) build(_ context.Context, cfg *config.Config, _ *slog.Logger) (engineRunner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	index := len(f.engines)
	if err, exists := f.failAt[index]; exists {
		return nil, err
	}

	engine := &fakeEngine{stopped: make(chan struct{})}
	f.engines = append(f.engines, engine)
	f.cfgs = append(f.cfgs, cfg)
	return engine, nil
}

// count returns created engines count.
// Params: none.
// Returns: number of created engine instances.
func (f *fakeEngineFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// waitCount waits until created engines reaches expected value.
// Params: t test context; expected desired count.
// Returns: none; fails test on timeout.
func (f *fakeEngineFactory) waitCount(t *testing.T, expected int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count() >= expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for engine count=%d (have=%d)", expected, f.count())
}

// waitStopped waits for specific engine stop signal.
// Params: t test context; index engine index.
// Returns: none; fails test on timeout.
func (f *fakeEngineFactory) waitStopped(t *testing.T, index int) {
	t.Helper()

	f.mu.Lock()
	if index >= len(f.engines) {
		f.mu.Unlock()
		t.Fatalf("engine index %d not found", index)
	}
	stopped := f.engines[index].stopped
	f.mu.Unlock()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting engine[%d] stop", index)
	}
}

// isStopped checks whether specific engine has been stopped.
// Params: index engine index.
// Returns: true when engine stop signal is closed.
func (f *fakeEngineFactory) isStopped(index int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= len(f.engines) {
		return false
	}
	select {
	case <-f.engines[index].stopped:
		return true
	default:
		return false
	}
}

// cadvisorEndpoints returns the cAdvisor endpoint per engine build.
// Params: none.
// Returns: endpoints by build order.
func (f *fakeEngineFactory) cadvisorEndpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.cfgs))
	for _, cfg := range f.cfgs {
		out = append(out, cfg.ExternalMetrics.CAdvisorEndpoint)
	}
	return out
}

// jsonConsumerStates returns enable_json per engine build.
// Params: none.
// Returns: JSON consumer toggles by build order.
func (f *fakeEngineFactory) jsonConsumerStates() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]bool, 0, len(f.cfgs))
	for _, cfg := range f.cfgs {
		out = append(out, cfg.ExternalMetrics.Consumers.EnableJSON)
	}
	return out
}

type loaderResponse struct {
	cfg *config.Config
	err error
}

type loaderSequence struct {
	mu        sync.Mutex
	responses []loaderResponse
	calls     int
}

// load returns next preconfigured response for config loading.
// Params: _ ignored path.
// Returns: config or error based on configured sequence.
func (l *loaderSequence) load(_ string) (*config.Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	index := l.calls
	l.calls++
	if index >= len(l.responses) {
		return nil, errors.New("unexpected config load call")
	}

	response := l.responses[index]
	if response.err != nil {
		return nil, response.err
	}
	return response.cfg, nil
}

type fakeLoggerFactory struct {
	created atomic.Int32
	closed  atomic.Int32
}

// create builds disposable logger and tracks create/close counts.
// Params: _ ignored log config.
// Returns: logger, close callback, and nil error.
func (f *fakeLoggerFactory) create(_ config.LogConfig) (*slog.Logger, func(), error) {
	f.created.Add(1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return logger, func() {
		f.closed.Add(1)
	}, nil
}

type fakePprofFactory struct {
	started atomic.Int32
	stopped atomic.Int32
}

// start tracks pprof start and returns tracked stop callback.
// Params: _ ignored context; _ ignored config; _ ignored logger.
// Returns: stop callback and nil error.
func (f *fakePprofFactory) start(_ context.Context, _ config.PprofConfig, _ *slog.Logger) (func(), error) {
	f.started.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			f.stopped.Add(1)
		})
	}, nil
}

// buildTestDeps creates run deps from fake components.
// Params: loader, loggers, pprof, and engines fakes.
// Returns: dependency set for runWithDeps tests.
func buildTestDeps(
	loader *loaderSequence,
	loggers *fakeLoggerFactory,
	pprof *fakePprofFactory,
	engines *fakeEngineFactory,
) runDeps {
	return runDeps{
		loadConfig: loader.load,
		newLogger:  loggers.create,
		startPprof: pprof.start,
		newEngine:  engines.build,
		hostInfo:   fakeHostInfo,
	}
}

// fakeHostInfo returns fixed host facts without touching the system.
// Params: _ ignored context.
// Returns: host facts.
func fakeHostInfo(_ context.Context) (*host.InfoStat, error) {
	return &host.InfoStat{Platform: "linux", KernelVersion: "6.1.0", KernelArch: "x86_64", Uptime: 60}, nil
}

// testConfig creates minimal config snapshot for runtime reload tests.
// Params: host global host; cadvisor cAdvisor endpoint; enableJSON JSON consumer toggle.
// Returns: config snapshot instance.
func testConfig(hostName string, cadvisor string, enableJSON bool) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			Host: hostName,
		},
		Log: config.LogConfig{
			Console: config.LogSinkConfig{
				Enabled: true,
				Level:   "info",
				Format:  "line",
			},
		},
		ExternalMetrics: config.ExternalMetricsConfig{
			Enable:               true,
			CAdvisorEndpoint:     cadvisor,
			NodeExporterEndpoint: "http://127.0.0.1:9100/metrics",
			Interval:             config.Duration{Duration: 5 * time.Second},
			StateTTLPolls:        3,
			QueueSize:            16,
			Consumers: config.ConsumersConfig{
				EnableJSON: enableJSON,
			},
		},
	}
}

// TestRunWithDeps_ReloadValidConfig verifies successful runtime swap on valid reload.
// Params: t test context.
// Returns: none.
func TestRunWithDeps_ReloadValidConfig(t *testing.T) {
	loader := &loaderSequence{
		responses: []loaderResponse{
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", false)},
			{cfg: testConfig("host2", "http://127.0.0.1:8081/api/v1.3/docker", true)},
		},
	}
	loggers := &fakeLoggerFactory{}
	pprof := &fakePprofFactory{}
	engines := &fakeEngineFactory{}
	deps := buildTestDeps(loader, loggers, pprof, engines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- runWithDeps(ctx, Runtime{ConfigPath: "test.toml", Reload: reload}, deps)
	}()

	engines.waitCount(t, 1)
	reload <- struct{}{}
	engines.waitCount(t, 2)
	engines.waitStopped(t, 0)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runWithDeps: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting runWithDeps stop")
	}

	if got := loggers.created.Load(); got != 2 {
		t.Fatalf("logger created=%d, want=2", got)
	}
	if got := loggers.closed.Load(); got != 2 {
		t.Fatalf("logger closed=%d, want=2", got)
	}
	if got := pprof.started.Load(); got != 2 {
		t.Fatalf("pprof started=%d, want=2", got)
	}
	if got := pprof.stopped.Load(); got != 2 {
		t.Fatalf("pprof stopped=%d, want=2", got)
	}
}

// TestRunWithDeps_ReloadInvalidConfigKeepsRuntime verifies invalid reload keeps current runtime active.
// Params: t test context.
// Returns: none.
func TestRunWithDeps_ReloadInvalidConfigKeepsRuntime(t *testing.T) {
	loader := &loaderSequence{
		responses: []loaderResponse{
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", false)},
			{err: errors.New("invalid config")},
		},
	}
	loggers := &fakeLoggerFactory{}
	pprof := &fakePprofFactory{}
	engines := &fakeEngineFactory{}
	deps := buildTestDeps(loader, loggers, pprof, engines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- runWithDeps(ctx, Runtime{ConfigPath: "test.toml", Reload: reload}, deps)
	}()

	engines.waitCount(t, 1)
	reload <- struct{}{}
	time.Sleep(100 * time.Millisecond)

	if got := engines.count(); got != 1 {
		t.Fatalf("engine count=%d, want=1", got)
	}
	if engines.isStopped(0) {
		t.Fatal("runtime stopped after invalid reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runWithDeps: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting runWithDeps stop")
	}
}

// TestRunWithDeps_ReloadApplyEndpointChanges verifies runtime rebuild on endpoint changes.
// Params: t test context.
// Returns: none.
func TestRunWithDeps_ReloadApplyEndpointChanges(t *testing.T) {
	loader := &loaderSequence{
		responses: []loaderResponse{
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", false)},
			{cfg: testConfig("host1", "http://cadvisor-b:8080/api/v1.3/docker", false)},
			{cfg: testConfig("host1", "http://cadvisor-c:8080/api/v1.3/docker", false)},
		},
	}
	loggers := &fakeLoggerFactory{}
	pprof := &fakePprofFactory{}
	engines := &fakeEngineFactory{}
	deps := buildTestDeps(loader, loggers, pprof, engines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- runWithDeps(ctx, Runtime{ConfigPath: "test.toml", Reload: reload}, deps)
	}()

	engines.waitCount(t, 1)
	reload <- struct{}{}
	engines.waitCount(t, 2)
	reload <- struct{}{}
	engines.waitCount(t, 3)

	endpoints := engines.cadvisorEndpoints()
	want := []string{
		"http://127.0.0.1:8080/api/v1.3/docker",
		"http://cadvisor-b:8080/api/v1.3/docker",
		"http://cadvisor-c:8080/api/v1.3/docker",
	}
	for idx := range want {
		if endpoints[idx] != want[idx] {
			t.Fatalf("cadvisor endpoint[%d]=%q, want=%q", idx, endpoints[idx], want[idx])
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runWithDeps: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting runWithDeps stop")
	}
}

// TestRunWithDeps_ReloadApplyConsumerChanges verifies runtime rebuild on consumer toggles.
// Params: t test context.
// Returns: none.
func TestRunWithDeps_ReloadApplyConsumerChanges(t *testing.T) {
	loader := &loaderSequence{
		responses: []loaderResponse{
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", false)},
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", true)},
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", false)},
		},
	}
	loggers := &fakeLoggerFactory{}
	pprof := &fakePprofFactory{}
	engines := &fakeEngineFactory{}
	deps := buildTestDeps(loader, loggers, pprof, engines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- runWithDeps(ctx, Runtime{ConfigPath: "test.toml", Reload: reload}, deps)
	}()

	engines.waitCount(t, 1)
	reload <- struct{}{}
	engines.waitCount(t, 2)
	reload <- struct{}{}
	engines.waitCount(t, 3)

	states := engines.jsonConsumerStates()
	want := []bool{false, true, false}
	for idx := range want {
		if states[idx] != want[idx] {
			t.Fatalf("json consumer[%d]=%v, want=%v", idx, states[idx], want[idx])
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runWithDeps: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting runWithDeps stop")
	}
}

// TestRunWithDeps_EngineStopsUnexpectedly verifies run loop returns error when engine exits before context cancellation.
// Params: t test context.
// Returns: none.
func TestRunWithDeps_EngineStopsUnexpectedly(t *testing.T) {
	loader := &loaderSequence{
		responses: []loaderResponse{
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", false)},
		},
	}
	loggers := &fakeLoggerFactory{}
	pprof := &fakePprofFactory{}
	engineErr := errors.New("boom")
	deps := runDeps{
		loadConfig: loader.load,
		newLogger:  loggers.create,
		startPprof: pprof.start,
		newEngine: func(_ context.Context, _ *config.Config, _ *slog.Logger) (engineRunner, error) {
			return &immediateEngine{err: engineErr}, nil
		},
		hostInfo: fakeHostInfo,
	}

	err := runWithDeps(context.Background(), Runtime{ConfigPath: "test.toml"}, deps)
	if err == nil {
		t.Fatal("expected runWithDeps error")
	}
	if !errors.Is(err, engineErr) {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := loggers.closed.Load(); got != 1 {
		t.Fatalf("logger closed=%d, want=1", got)
	}
	if got := pprof.stopped.Load(); got != 1 {
		t.Fatalf("pprof stopped=%d, want=1", got)
	}
}

// TestRunWithDeps_ReloadInterruptedByShutdown verifies graceful stop when shutdown interrupts reload apply.
// Params: t test context.
// Returns: none.
func TestRunWithDeps_ReloadInterruptedByShutdown(t *testing.T) {
	loader := &loaderSequence{
		responses: []loaderResponse{
			{cfg: testConfig("host1", "http://127.0.0.1:8080/api/v1.3/docker", false)},
			{cfg: testConfig("host2", "http://127.0.0.1:8080/api/v1.3/docker", false)},
		},
	}
	loggers := &fakeLoggerFactory{}
	pprof := &fakePprofFactory{}

	secondBuildStarted := make(chan struct{})
	var buildCount atomic.Int32
	deps := runDeps{
		loadConfig: loader.load,
		newLogger:  loggers.create,
		startPprof: pprof.start,
		newEngine: func(ctx context.Context, _ *config.Config, _ *slog.Logger) (engineRunner, error) {
			call := buildCount.Add(1)
			if call == 1 {
				return &fakeEngine{stopped: make(chan struct{})}, nil
			}
			close(secondBuildStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- runWithDeps(ctx, Runtime{ConfigPath: "test.toml", Reload: reload}, deps)
	}()

	reload <- struct{}{}
	select {
	case <-secondBuildStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting second build start")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runWithDeps: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting runWithDeps stop")
	}
}
