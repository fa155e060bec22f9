package server

import (
	"bytes"
	"io"
	"strings"

	"github.com/inkwell-md/inkwell/internal/errors"
)

// maxRequestBytes bounds how much of a request head is read before the
// connection is rejected. GET requests from browsers fit comfortably.
const maxRequestBytes = 8 * 1024

// request is the parsed head of one incoming request.
type request struct {
	Method  string
	Target  string
	Proto   string
	Headers map[string]string
}

// readRequest reads one request head, everything up to the blank line,
// and parses it. The body, if any, is never read; the routes served
// here have no use for one.
func readRequest(r io.Reader) (*request, error) {
	var buf []byte
	chunk := make([]byte, 1024)

	for {
		if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
			return parseRequest(string(buf[:idx]))
		}
		if len(buf) >= maxRequestBytes {
			return nil, errors.New(errors.KindProtocol, "oversized", "request head exceeds limit")
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF && len(buf) == 0 {
				return nil, io.EOF
			}
			return nil, errors.Wrap(errors.KindProtocol, "read", "reading request head", err)
		}
	}
}

func parseRequest(head string) (*request, error) {
	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errors.New(errors.KindProtocol, "empty", "empty request line")
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, errors.New(errors.KindProtocol, "request_line", "malformed request line")
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, errors.New(errors.KindProtocol, "proto", "unsupported protocol "+parts[2])
	}

	req := &request{
		Method:  parts[0],
		Target:  parts[1],
		Proto:   parts[2],
		Headers: make(map[string]string, len(lines)-1),
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.New(errors.KindProtocol, "header", "malformed header line")
		}
		req.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}
	return req, nil
}

// path returns the request target without its query string.
func (r *request) path() string {
	if i := strings.IndexByte(r.Target, '?'); i >= 0 {
		return r.Target[:i]
	}
	return r.Target
}
