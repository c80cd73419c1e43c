package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxResponseBytes is the maximum accepted size of one exporter response.
	MaxResponseBytes = 16 << 20

	wireIOTimeout   = 5 * time.Second
	wireReadChunk   = 4096
	defaultHTTPPort = 80
)

var wireURLPattern = regexp.MustCompile(`^http://([^:/]+)(?::(\d+))?(/.*)?$`)

var headerTerminator = []byte("\r\n\r\n")

// FetchOutcome classifies one wire client request.
// Params: none.
// Returns: enum value carried by FetchResult.
type FetchOutcome uint8

const (
	// FetchOK means the full body was received.
	FetchOK FetchOutcome = iota
	// FetchPartial means a chunked body was truncated at a malformed chunk.
	FetchPartial
	// FetchInvalidURL means the URL is not http://host[:port][/path].
	FetchInvalidURL
	// FetchDialFailed means name resolution or TCP connect failed.
	FetchDialFailed
	// FetchIOFailed means sending the request or reading the response failed.
	FetchIOFailed
	// FetchMalformed means the response has no header/body separator or status line.
	FetchMalformed
	// FetchBadStatus means the server answered with a non-2xx status.
	FetchBadStatus
)

// String returns a short outcome label.
func (o FetchOutcome) String() string {
	switch o {
	case FetchOK:
		return "ok"
	case FetchPartial:
		return "partial"
	case FetchInvalidURL:
		return "invalid_url"
	case FetchDialFailed:
		return "dial_failed"
	case FetchIOFailed:
		return "io_failed"
	case FetchMalformed:
		return "malformed"
	case FetchBadStatus:
		return "bad_status"
	default:
		return "unknown"
	}
}

// FetchResult is the explicit result of one GET.
// Body is empty on every failure outcome; Err explains the failure for logs only.
type FetchResult struct {
	Body    []byte
	Outcome FetchOutcome
	Err     error
}

// Fetcher retrieves one exporter payload.
// Params: ctx aborts dialing; rawURL is the exporter endpoint.
// Returns: fetch result with body or failure cause.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchResult
}

type wireTarget struct {
	host string
	port int
	path string
}

// WireClient issues single HTTP/1.1 GET requests over plain TCP.
// Params: none.
// Returns: wire client with fixed socket timeouts.
type WireClient struct {
	ioTimeout time.Duration
	dial      func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewWireClient creates a wire client with 5s read/write timeouts.
// Params: none.
// Returns: configured wire client.
func NewWireClient() *WireClient {
	dialer := &net.Dialer{Timeout: wireIOTimeout}
	return &WireClient{
		ioTimeout: wireIOTimeout,
		dial:      dialer.DialContext,
	}
}

// Get fetches url and returns the decoded body.
// Params: ctx aborts dialing; rawURL http endpoint.
// Returns: body bytes, empty on any failure.
func (c *WireClient) Get(ctx context.Context, rawURL string) []byte {
	return c.Fetch(ctx, rawURL).Body
}

// Fetch performs one GET and reports an explicit outcome.
// Params: ctx aborts dialing; rawURL http endpoint.
// Returns: fetch result; Body is empty unless Outcome is FetchOK or FetchPartial.
func (c *WireClient) Fetch(ctx context.Context, rawURL string) FetchResult {
	target, err := parseWireURL(rawURL)
	if err != nil {
		return FetchResult{Outcome: FetchInvalidURL, Err: err}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := c.dial(ctx, "tcp", net.JoinHostPort(target.host, strconv.Itoa(target.port)))
	if err != nil {
		return FetchResult{Outcome: FetchDialFailed, Err: fmt.Errorf("connect %s: %w", target.host, err)}
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return FetchResult{Outcome: FetchIOFailed, Err: fmt.Errorf("set write deadline: %w", err)}
	}
	if _, err := io.WriteString(conn, buildGetRequest(target)); err != nil {
		return FetchResult{Outcome: FetchIOFailed, Err: fmt.Errorf("send request: %w", err)}
	}

	response, err := readUntilClose(conn, c.ioTimeout)
	if err != nil {
		return FetchResult{Outcome: FetchIOFailed, Err: err}
	}

	return decodeResponse(response)
}

// parseWireURL splits http://host[:port][/path] into its parts.
// Params: rawURL endpoint string.
// Returns: parsed target or error for unsupported/malformed URL.
func parseWireURL(rawURL string) (wireTarget, error) {
	matches := wireURLPattern.FindStringSubmatch(rawURL)
	if matches == nil {
		return wireTarget{}, fmt.Errorf("unsupported url %q", rawURL)
	}

	target := wireTarget{
		host: matches[1],
		port: defaultHTTPPort,
		path: "/",
	}
	if matches[2] != "" {
		port, err := strconv.Atoi(matches[2])
		if err != nil || port <= 0 || port > 65535 {
			return wireTarget{}, fmt.Errorf("invalid port in url %q", rawURL)
		}
		target.port = port
	}
	if matches[3] != "" {
		target.path = matches[3]
	}
	return target, nil
}

// buildGetRequest renders the minimal request sent to exporters.
// Params: target parsed endpoint.
// Returns: raw HTTP/1.1 request text.
func buildGetRequest(target wireTarget) string {
	host := target.host
	if target.port != defaultHTTPPort {
		host = net.JoinHostPort(target.host, strconv.Itoa(target.port))
	}

	var builder strings.Builder
	builder.WriteString("GET ")
	builder.WriteString(target.path)
	builder.WriteString(" HTTP/1.1\r\n")
	builder.WriteString("Host: ")
	builder.WriteString(host)
	builder.WriteString("\r\n")
	builder.WriteString("Connection: close\r\n")
	builder.WriteString("\r\n")
	return builder.String()
}

// readUntilClose reads the whole response until the peer closes the connection.
// Params: conn open connection; timeout applies to every read.
// Returns: raw response bytes or read/size error.
func readUntilClose(conn net.Conn, timeout time.Duration) ([]byte, error) {
	var response bytes.Buffer
	buf := make([]byte, wireReadChunk)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if response.Len()+n > MaxResponseBytes {
				return nil, fmt.Errorf("response exceeds %d bytes", MaxResponseBytes)
			}
			response.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return response.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
	}
}

// decodeResponse splits raw response into status, headers and body.
// Params: raw full response bytes.
// Returns: fetch result with decoded body or failure outcome.
func decodeResponse(raw []byte) FetchResult {
	if len(raw) == 0 {
		return FetchResult{Outcome: FetchMalformed, Err: fmt.Errorf("empty response")}
	}

	headerEnd := bytes.Index(raw, headerTerminator)
	if headerEnd < 0 {
		return FetchResult{Outcome: FetchMalformed, Err: fmt.Errorf("missing header terminator")}
	}
	head := string(raw[:headerEnd])
	body := raw[headerEnd+len(headerTerminator):]

	statusLine, headerBlock, _ := strings.Cut(head, "\r\n")
	code, err := parseStatusLine(statusLine)
	if err != nil {
		return FetchResult{Outcome: FetchMalformed, Err: err}
	}
	if code < 200 || code >= 300 {
		return FetchResult{Outcome: FetchBadStatus, Err: fmt.Errorf("unexpected status %q", statusLine)}
	}

	if !isChunkedTransfer(headerBlock) {
		return FetchResult{Body: bytes.Clone(body), Outcome: FetchOK}
	}

	decoded, outcome := decodeChunked(body)
	if outcome == ChunkPartial {
		return FetchResult{Body: decoded, Outcome: FetchPartial}
	}
	return FetchResult{Body: decoded, Outcome: FetchOK}
}

// parseStatusLine extracts the numeric status code.
// Params: line first response line, e.g. "HTTP/1.1 200 OK".
// Returns: status code or malformed status error.
func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || len(fields[1]) != 3 {
		return 0, fmt.Errorf("malformed status code %q", fields[1])
	}
	return code, nil
}

// isChunkedTransfer reports whether headers advertise chunked transfer coding.
// Params: headerBlock header lines without status line.
// Returns: true when Transfer-Encoding lists chunked.
func isChunkedTransfer(headerBlock string) bool {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Transfer-Encoding") {
			continue
		}
		for _, coding := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(coding), "chunked") {
				return true
			}
		}
	}
	return false
}
