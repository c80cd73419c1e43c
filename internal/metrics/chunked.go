package metrics

import (
	"bytes"
	"strconv"
	"strings"
)

var crlf = []byte("\r\n")

// ChunkOutcome tells whether a chunked body was decoded up to its last chunk.
type ChunkOutcome uint8

const (
	// ChunkComplete means the zero-size terminating chunk was reached.
	ChunkComplete ChunkOutcome = iota
	// ChunkPartial means decoding stopped early; the decoded prefix is still usable.
	ChunkPartial
)

// decodeChunked decodes an HTTP/1.1 chunked body.
// Params: body raw bytes after the header terminator.
// Returns: decoded bytes and whether decoding reached the terminating chunk.
func decodeChunked(body []byte) ([]byte, ChunkOutcome) {
	decoded := make([]byte, 0, len(body))
	pos := 0

	for pos < len(body) {
		lineEnd := bytes.Index(body[pos:], crlf)
		if lineEnd < 0 {
			return decoded, ChunkPartial
		}

		size, ok := parseChunkSize(string(body[pos : pos+lineEnd]))
		if !ok {
			return decoded, ChunkPartial
		}
		if size == 0 {
			return decoded, ChunkComplete
		}

		pos += lineEnd + len(crlf)
		if size > uint64(len(body)-pos) {
			return decoded, ChunkPartial
		}
		end := pos + int(size)
		decoded = append(decoded, body[pos:end]...)
		// chunk data is followed by CRLF
		pos = end + len(crlf)
	}

	return decoded, ChunkPartial
}

// parseChunkSize parses the hex size of one chunk-size line.
// Params: line chunk-size line without CRLF, extensions after ';' are ignored.
// Returns: chunk size and false for empty or invalid tokens.
func parseChunkSize(line string) (uint64, bool) {
	token, _, _ := strings.Cut(line, ";")
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false
	}
	size, err := strconv.ParseUint(token, 16, 64)
	if err != nil {
		return 0, false
	}
	return size, true
}
