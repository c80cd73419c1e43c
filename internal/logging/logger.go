package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"extmetrics/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
	ansiGray    = "\x1b[90m"
)

// New builds process logger from console/file sink config.
// Params: cfg log section with console and file sinks.
// Returns: logger, close function for file sinks, init error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0, 2)
	closers := make([]io.Closer, 0, 1)

	if cfg.Console.Enabled {
		handler, err := newSinkHandler(consoleWriter(os.Stdout, cfg.Console.Format), cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, nil, err
		}
		handler, err := newSinkHandler(file, cfg.File)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(&fanoutHandler{handlers: handlers}), closeFn, nil
}

// ParseLevel maps config level names to slog levels.
// Params: level lower-case name (debug|info|warn|error).
// Returns: slog level or error for unknown names.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", level)
	}
}

// newSinkHandler creates one slog handler for sink settings.
// Params: w destination writer; sink level/format options.
// Returns: handler or level/format error.
func newSinkHandler(w io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := ParseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "", "line":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", sink.Format)
	}
}

// consoleWriter wraps stdout with colors for line format on terminals.
// Params: out console file; format sink format.
// Returns: writer used by console handler.
func consoleWriter(out *os.File, format string) io.Writer {
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		return out
	}
	info, err := out.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return out
	}
	return &colorLineWriter{dst: out}
}

// openLogFile opens append-only log file, creating parent directory.
// Params: path log file path.
// Returns: opened file or error.
func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

// fanoutHandler forwards records to every sink handler enabled for the level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return &fanoutHandler{handlers: next}
}

// colorLineWriter colorizes slog text lines by level and highlights values.
// Params: dst underlying writer.
// Returns: io.Writer implementation.
type colorLineWriter struct {
	dst io.Writer
}

// Write colorizes one rendered log line.
// Params: p one text handler record.
// Returns: len(p) on success or destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := p
	newline := false
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		newline = true
	}

	base := levelColor(line)
	if base == "" {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	var out bytes.Buffer
	out.Grow(len(p) + 64)
	out.WriteString(base)
	highlightTokens(&out, line, base)
	out.WriteString(ansiReset)
	if newline {
		out.WriteByte('\n')
	}

	if _, err := w.dst.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// levelColor picks base line color from the level attribute.
// Params: line rendered text record.
// Returns: ANSI color or empty string when level is unknown.
func levelColor(line []byte) string {
	switch {
	case bytes.Contains(line, []byte("level=DEBUG")):
		return ansiGray
	case bytes.Contains(line, []byte("level=INFO")):
		return ansiBlue
	case bytes.Contains(line, []byte("level=WARN")):
		return ansiMagenta
	case bytes.Contains(line, []byte("level=ERROR")):
		return ansiRed
	default:
		return ""
	}
}

// highlightTokens writes line with quoted strings, IPs and numbers colored.
// Params: out destination buffer; line source text; base color restored after each token.
// Returns: none.
func highlightTokens(out *bytes.Buffer, line []byte, base string) {
	idx := 0
	for idx < len(line) {
		ch := line[idx]

		if ch == '"' {
			end := quotedEnd(line, idx)
			writeColored(out, line[idx:end], ansiGreen, base)
			idx = end
			continue
		}

		if ch == ' ' || ch == '=' {
			out.WriteByte(ch)
			idx++
			continue
		}

		end := idx
		for end < len(line) && line[end] != ' ' && line[end] != '=' && line[end] != '"' {
			end++
		}
		token := line[idx:end]
		isValue := idx > 0 && line[idx-1] == '='
		switch {
		case isValue && isIPToken(string(token)):
			writeColored(out, token, ansiCyan, base)
		case isValue && isNumberToken(string(token)):
			writeColored(out, token, ansiYellow, base)
		default:
			out.Write(token)
		}
		idx = end
	}
}

// quotedEnd finds the index right after the closing quote.
// Params: line text; start index of opening quote.
// Returns: end index (len(line) for unterminated strings).
func quotedEnd(line []byte, start int) int {
	for idx := start + 1; idx < len(line); idx++ {
		switch line[idx] {
		case '\\':
			idx++
		case '"':
			return idx + 1
		}
	}
	return len(line)
}

func writeColored(out *bytes.Buffer, token []byte, color string, base string) {
	out.WriteString(color)
	out.Write(token)
	out.WriteString(ansiReset)
	out.WriteString(base)
}

func isIPToken(token string) bool {
	if host, _, err := net.SplitHostPort(token); err == nil {
		token = host
	}
	return strings.ContainsAny(token, ".:") && net.ParseIP(token) != nil
}

func isNumberToken(token string) bool {
	if token == "" {
		return false
	}
	_, err := strconv.ParseFloat(token, 64)
	return err == nil
}
