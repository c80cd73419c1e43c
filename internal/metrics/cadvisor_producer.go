package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"

	"extmetrics/internal/match"
)

const defaultContainerStateTTL = 15 * time.Second

// CAdvisorProducerConfig defines one cAdvisor poll source.
// Params: endpoint URL, previous-state lifetime and container name masks.
// Returns: producer configuration.
type CAdvisorProducerConfig struct {
	Endpoint        string
	StateTTL        time.Duration
	FilterContainer []string
	DropContainer   []string
}

type containerCounters struct {
	rxBytes uint64
	txBytes uint64
	at      time.Time
}

// CAdvisorProducer polls cAdvisor and publishes container snapshots with network rates.
// Params: wire fetcher, notifier and optional poll observer.
// Returns: producer instance.
type CAdvisorProducer struct {
	mu       sync.Mutex
	cfg      CAdvisorProducerConfig
	fetcher  Fetcher
	notifier Notifier
	observer PollObserver
	logger   *slog.Logger

	previous *cache.Cache[string, containerCounters]
	masks    match.Masks
	now      func() time.Time
}

// NewCAdvisorProducer creates a cAdvisor producer.
// Params: ctx bounds the previous-state janitor; cfg source settings; fetcher/notifier/observer/logger runtime deps.
// Returns: configured producer or validation error.
func NewCAdvisorProducer(
	ctx context.Context,
	cfg CAdvisorProducerConfig,
	fetcher Fetcher,
	notifier Notifier,
	observer PollObserver,
	logger *slog.Logger,
) (*CAdvisorProducer, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("cadvisor endpoint is required")
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
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultContainerStateTTL
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return &CAdvisorProducer{
		cfg:      cfg,
		fetcher:  fetcher,
		notifier: notifier,
		observer: observer,
		logger:   logger.With(slog.String("producer", "cadvisor")),
		previous: cache.NewContext[string, containerCounters](ctx),
		masks:    match.NewMasks(cfg.FilterContainer, cfg.DropContainer),
		now:      time.Now,
	}, nil
}

// Name returns the dispatch metric name.
// Params: none.
// Returns: cAdvisor metric name.
func (p *CAdvisorProducer) Name() string {
	return CAdvisorMetricName
}

// TrackedContainers returns the number of live previous-state entries.
// Params: none.
// Returns: entry count.
func (p *CAdvisorProducer) TrackedContainers() int {
	return p.previous.Len()
}

// OnNewReportPeriod runs one poll: fetch, parse, rate conversion, publish.
// Params: ctx aborts dialing.
// Returns: none.
func (p *CAdvisorProducer) OnNewReportPeriod(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := p.now()
	result := p.fetcher.Fetch(ctx, p.cfg.Endpoint)
	fetchTook := p.now().Sub(started)

	if len(result.Body) == 0 {
		p.logger.Warn(
			"failed to fetch cadvisor metrics",
			slog.String("endpoint", p.cfg.Endpoint),
			slog.String("outcome", result.Outcome.String()),
			slog.String("error", fetchErrorText(result)),
		)
		p.observe(PollFetchFailed, fetchTook)
		return
	}
	if result.Outcome == FetchPartial {
		p.logger.Debug("cadvisor response truncated at malformed chunk", slog.Int("bytes", len(result.Body)))
	}

	samples, err := ParseCAdvisor(result.Body)
	if err != nil {
		p.logger.Warn(
			"failed to parse cadvisor JSON",
			slog.String("endpoint", p.cfg.Endpoint),
			slog.String("error", err.Error()),
		)
		p.notifier.OnNewMetric(ContainerSnapshot{})
		p.observe(PollParseFailed, fetchTook)
		return
	}

	snapshot := p.convert(samples, p.now())
	p.notifier.OnNewMetric(snapshot)
	p.observe(PollPublished, fetchTook)
}

// convert turns raw samples into normalized records and refreshes previous state.
// Params: samples parsed containers; now poll timestamp.
// Returns: container snapshot in sample order.
func (p *CAdvisorProducer) convert(samples []ContainerSample, now time.Time) ContainerSnapshot {
	snapshot := ContainerSnapshot{Containers: make([]ContainerMetrics, 0, len(samples))}
	for _, sample := range samples {
		if !p.masks.Allowed(sample.Name) {
			continue
		}

		record := ContainerMetrics{
			Name:               sample.Name,
			CPUUsagePercentage: sample.CPUUsagePercentage,
			MemoryUsageBytes:   sample.MemoryUsageBytes,
			MemoryLimitBytes:   sample.MemoryLimitBytes,
			FilesystemUsage:    sample.FilesystemUsage,
			FilesystemLimit:    sample.FilesystemLimit,
		}

		if prev, ok := p.previous.Get(sample.Name); ok {
			elapsed := now.Sub(prev.at)
			record.NetworkRxBytesPerSec = counterRate(sample.NetworkRxBytes, prev.rxBytes, elapsed)
			record.NetworkTxBytesPerSec = counterRate(sample.NetworkTxBytes, prev.txBytes, elapsed)
		}

		p.previous.Set(sample.Name, containerCounters{
			rxBytes: sample.NetworkRxBytes,
			txBytes: sample.NetworkTxBytes,
			at:      now,
		}, cache.WithExpiration(p.cfg.StateTTL))

		snapshot.Containers = append(snapshot.Containers, record)
	}
	return snapshot
}

func (p *CAdvisorProducer) observe(outcome PollOutcome, fetchTook time.Duration) {
	if p.observer == nil {
		return
	}
	p.observer.ObservePoll(CAdvisorMetricName, outcome, fetchTook)
}

// fetchErrorText renders the failure cause for warning logs.
// Params: result failed fetch result.
// Returns: error text or outcome label.
func fetchErrorText(result FetchResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return "empty response body"
}
