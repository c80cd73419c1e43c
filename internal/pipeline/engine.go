package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"extmetrics/internal/config"
	"extmetrics/internal/metrics"
)

// Engine owns poll workers, dispatcher and listener lifecycle.
// Params: runner list, closers and logger.
// Returns: pipeline runtime engine.
type Engine struct {
	runners []runner
	closers []io.Closer
	logger  *slog.Logger
}

type runner interface {
	run(context.Context) error
}

// engineBuild collects resources so a failed build can release them.
// Listeners are owned by their runners once the engine starts; outputs are owned by the engine.
type engineBuild struct {
	runners   []runner
	listeners []io.Closer
	outputs   []io.Closer
}

func (b *engineBuild) release() {
	for _, closer := range b.listeners {
		_ = closer.Close()
	}
	for _, closer := range b.outputs {
		_ = closer.Close()
	}
}

// NewFromConfig builds producers, consumers and listeners for external metrics.
// Params: ctx bounds producer background state; cfg validated runtime config; logger initialized logger.
// Returns: engine with active runners or error.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	external := cfg.ExternalMetrics
	if !external.Enable {
		return &Engine{logger: logger}, nil
	}

	build := &engineBuild{}
	engine, err := buildEngine(ctx, cfg, logger, build)
	if err != nil {
		build.release()
		return nil, err
	}
	return engine, nil
}

// buildEngine wires telemetry, health, dispatcher, consumers and producers.
// Params: ctx producer lifecycle; cfg runtime config; logger root logger; build resource tracker.
// Returns: engine or first construction error.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, build *engineBuild) (*Engine, error) {
	external := cfg.ExternalMetrics
	telemetry := NewTelemetry()
	observers := pollObservers{telemetry}

	if cfg.Telemetry.Enabled {
		mux := newTelemetryMux(cfg.Telemetry.Path, telemetry)
		server, err := newHTTPServer("telemetry", cfg.Telemetry.Listen, mux, logger)
		if err != nil {
			return nil, fmt.Errorf("init telemetry server: %w", err)
		}
		build.runners = append(build.runners, server)
		build.listeners = append(build.listeners, closerFunc(server.close))
	}

	if cfg.Health.Enabled {
		server, err := newHealthServer(cfg.Health.Listen, logger)
		if err != nil {
			return nil, fmt.Errorf("init health server: %w", err)
		}
		observers = append(observers, server)
		build.runners = append(build.runners, server)
		build.listeners = append(build.listeners, closerFunc(server.close))
	}

	dispatcher, err := NewDispatcher(external.QueueSize, logger, telemetry)
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}
	consumers, err := buildConsumers(external.Consumers, logger, build)
	if err != nil {
		return nil, err
	}
	for _, consumer := range consumers {
		dispatcher.Register(metrics.CAdvisorMetricName, consumer)
		dispatcher.Register(metrics.NodeExporterMetricName, consumer)
	}
	build.runners = append(build.runners, dispatcher)

	fetcher := metrics.NewWireClient()
	cadvisor, err := metrics.NewCAdvisorProducer(
		ctx,
		metrics.CAdvisorProducerConfig{
			Endpoint:        external.CAdvisorEndpoint,
			StateTTL:        external.StateTTL(),
			FilterContainer: external.FilterContainer,
			DropContainer:   external.DropContainer,
		},
		fetcher,
		dispatcher,
		observers,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init cadvisor producer: %w", err)
	}
	telemetry.TrackContainers(cadvisor.TrackedContainers)

	nodeExporter, err := metrics.NewNodeExporterProducer(
		external.NodeExporterEndpoint,
		fetcher,
		dispatcher,
		observers,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init node exporter producer: %w", err)
	}

	for _, producer := range []metrics.Producer{cadvisor, nodeExporter} {
		worker, err := newPollWorker(producer, external.Interval.Duration, logger)
		if err != nil {
			return nil, fmt.Errorf("build %s worker: %w", producer.Name(), err)
		}
		build.runners = append(build.runners, worker)
	}

	return &Engine{
		runners: build.runners,
		closers: build.outputs,
		logger:  logger,
	}, nil
}

// buildConsumers creates enabled output consumers.
// Params: cfg consumer toggles; logger used by log consumer; build tracks opened files.
// Returns: consumer list or JSON file open error.
func buildConsumers(cfg config.ConsumersConfig, logger *slog.Logger, build *engineBuild) ([]Consumer, error) {
	consumers := make([]Consumer, 0, 2)
	if cfg.LogEnabled() {
		consumers = append(consumers, NewLogConsumer(logger))
	}
	if cfg.EnableJSON {
		out, err := openJSONOutput(cfg.JSONPath)
		if err != nil {
			return nil, err
		}
		if out != os.Stdout {
			build.outputs = append(build.outputs, out)
		}
		consumers = append(consumers, NewJSONConsumer(out))
	}
	if len(consumers) == 0 {
		logger.Warn("all external metric consumers are disabled")
	}
	return consumers, nil
}

// openJSONOutput resolves JSON consumer destination.
// Params: path optional file path; empty means stdout.
// Returns: writable file or open error.
func openJSONOutput(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return os.Stdout, nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create json output dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open json output %q: %w", path, err)
	}
	return file, nil
}

// closerFunc adapts a close function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// Run starts all runners and waits for context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; close errors of owned outputs.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.runners) == 0 {
		e.logger.Warn("external metrics collection is disabled")
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(e.runners))

	for _, r := range e.runners {
		go func(activeRunner runner) {
			defer wg.Done()
			if err := activeRunner.run(ctx); err != nil {
				e.logger.Error("runner stopped with error", slog.String("error", err.Error()))
			}
		}(r)
	}

	<-ctx.Done()
	wg.Wait()

	var errs []error
	for _, closer := range e.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
