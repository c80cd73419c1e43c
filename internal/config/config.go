package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel             = "info"
	defaultLogFormat            = "line"
	defaultPprofListen          = "127.0.0.1:6060"
	defaultTelemetryListen      = "127.0.0.1:9464"
	defaultTelemetryPath        = "/metrics"
	defaultHealthListen         = "127.0.0.1:9465"
	defaultCAdvisorEndpoint     = "http://localhost:8080/api/v1.3/docker"
	defaultNodeExporterEndpoint = "http://localhost:9100/metrics"
	defaultPollInterval         = 5 * time.Second
	defaultStateTTLPolls        = 3
	defaultDispatchQueueSize    = 16
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root collector configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Global          GlobalConfig          `toml:"global"`
	Log             LogConfig             `toml:"log"`
	Pprof           PprofConfig           `toml:"pprof"`
	Telemetry       TelemetryConfig       `toml:"telemetry"`
	Health          HealthConfig          `toml:"health"`
	ExternalMetrics ExternalMetricsConfig `toml:"external_metrics"`
}

// GlobalConfig contains process-wide identity.
// Params: configured host name.
// Returns: global settings.
type GlobalConfig struct {
	Host string `toml:"host"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// TelemetryConfig defines the self-telemetry Prometheus endpoint.
// Params: enabled flag, listen address and HTTP path.
// Returns: telemetry runtime settings.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Path    string `toml:"path"`
}

// HealthConfig defines the gRPC health endpoint.
// Params: enabled flag and listen address.
// Returns: health runtime settings.
type HealthConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// ExternalMetricsConfig configures cAdvisor and Node Exporter polling.
// Params: enable flag, endpoints, poll schedule, state and queue limits, container masks.
// Returns: external metrics runtime settings.
type ExternalMetricsConfig struct {
	Enable               bool            `toml:"enable"`
	CAdvisorEndpoint     string          `toml:"cadvisor_endpoint"`
	NodeExporterEndpoint string          `toml:"node_exporter_endpoint"`
	Interval             Duration        `toml:"interval"`
	StateTTLPolls        int             `toml:"state_ttl_polls"`
	QueueSize            int             `toml:"queue_size"`
	FilterContainer      []string        `toml:"filter_container"`
	DropContainer        []string        `toml:"drop_container"`
	Consumers            ConsumersConfig `toml:"consumers"`
}

// ConsumersConfig selects output consumers.
// Params: log and JSON toggles plus optional JSON file path.
// Returns: consumer settings.
type ConsumersConfig struct {
	EnableLog  *bool  `toml:"enable_log"`
	EnableJSON bool   `toml:"enable_json"`
	JSONPath   string `toml:"json_path"`
}

// StateTTL returns how long container previous-state survives without refresh.
// Params: none.
// Returns: interval multiplied by state_ttl_polls.
func (c ExternalMetricsConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLPolls) * c.Interval.Duration
}

// LogEnabled reports whether the log consumer is enabled.
// Params: none.
// Returns: enable_log value (true when omitted).
func (c ConsumersConfig) LogEnabled() bool {
	return c.EnableLog == nil || *c.EnableLog
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Global.Host) == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Global.Host = host
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Listen) == "" {
		c.Telemetry.Listen = defaultTelemetryListen
	}
	if strings.TrimSpace(c.Telemetry.Path) == "" {
		c.Telemetry.Path = defaultTelemetryPath
	}
	if c.Health.Enabled && strings.TrimSpace(c.Health.Listen) == "" {
		c.Health.Listen = defaultHealthListen
	}

	external := &c.ExternalMetrics
	external.CAdvisorEndpoint = strings.TrimSpace(external.CAdvisorEndpoint)
	if external.CAdvisorEndpoint == "" {
		external.CAdvisorEndpoint = defaultCAdvisorEndpoint
	}
	external.NodeExporterEndpoint = strings.TrimSpace(external.NodeExporterEndpoint)
	if external.NodeExporterEndpoint == "" {
		external.NodeExporterEndpoint = defaultNodeExporterEndpoint
	}
	if external.Interval.Duration == 0 {
		external.Interval.Duration = defaultPollInterval
	}
	if external.StateTTLPolls == 0 {
		external.StateTTLPolls = defaultStateTTLPolls
	}
	if external.QueueSize == 0 {
		external.QueueSize = defaultDispatchQueueSize
	}
	external.Consumers.JSONPath = strings.TrimSpace(external.Consumers.JSONPath)

	return nil
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Global.Host) == "" {
		return fmt.Errorf("global.host resolved to empty value")
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validateListenConfig("pprof", c.Pprof.Enabled, c.Pprof.Listen); err != nil {
		return err
	}
	if err := validateListenConfig("telemetry", c.Telemetry.Enabled, c.Telemetry.Listen); err != nil {
		return err
	}
	if c.Telemetry.Enabled && !strings.HasPrefix(c.Telemetry.Path, "/") {
		return fmt.Errorf("telemetry.path must start with '/'")
	}
	if err := validateListenConfig("health", c.Health.Enabled, c.Health.Listen); err != nil {
		return err
	}

	return validateExternalMetrics("external_metrics", c.ExternalMetrics)
}

// validateExternalMetrics validates poll schedule, limits and endpoints.
// Params: path is config path prefix; cfg external metrics section.
// Returns: validation error or nil.
func validateExternalMetrics(path string, cfg ExternalMetricsConfig) error {
	if cfg.Interval.Duration < 0 {
		return fmt.Errorf("%s.interval must be > 0", path)
	}
	if cfg.StateTTLPolls < 0 {
		return fmt.Errorf("%s.state_ttl_polls must be > 0", path)
	}
	if cfg.QueueSize < 0 {
		return fmt.Errorf("%s.queue_size must be > 0", path)
	}
	if err := validateEndpoint(path+".cadvisor_endpoint", cfg.CAdvisorEndpoint); err != nil {
		return err
	}
	if err := validateEndpoint(path+".node_exporter_endpoint", cfg.NodeExporterEndpoint); err != nil {
		return err
	}
	for idx, pattern := range cfg.FilterContainer {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%s.filter_container[%d] cannot be empty", path, idx)
		}
	}
	for idx, pattern := range cfg.DropContainer {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%s.drop_container[%d] cannot be empty", path, idx)
		}
	}
	return nil
}

// validateEndpoint checks the plain-HTTP endpoint form used by the wire client.
// Params: fieldPath for errors; endpoint URL value.
// Returns: error when scheme is not http:// or host is missing.
func validateEndpoint(fieldPath string, endpoint string) error {
	rest, ok := strings.CutPrefix(endpoint, "http://")
	if !ok {
		return fmt.Errorf("%s must start with http://", fieldPath)
	}
	host, _, _ := strings.Cut(rest, "/")
	if strings.TrimSpace(host) == "" || strings.HasPrefix(host, ":") {
		return fmt.Errorf("%s must include host", fieldPath)
	}
	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validateListenConfig validates one optional listener section.
// Params: path is config path prefix; enabled flag; listen host:port.
// Returns: validation error for invalid listen endpoint.
func validateListenConfig(path string, enabled bool, listen string) error {
	if !enabled {
		return nil
	}
	if strings.TrimSpace(listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
