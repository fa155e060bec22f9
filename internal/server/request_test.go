package server

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-md/inkwell/internal/errors"
)

func TestReadRequestParsesHead(t *testing.T) {
	raw := "GET /notes/a.md?x=1 HTTP/1.1\r\n" +
		"Host: localhost:8042\r\n" +
		"Accept: text/html\r\n\r\n" +
		"trailing bytes that belong to the next request"

	req, err := readRequest(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/notes/a.md?x=1", req.Target)
	assert.Equal(t, "/notes/a.md", req.path())
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, "localhost:8042", req.Headers["host"])
	assert.Equal(t, "text/html", req.Headers["accept"])
}

func TestReadRequestEOFOnClosedConnection(t *testing.T) {
	_, err := readRequest(strings.NewReader(""))
	assert.Equal(t, io.EOF, err)
}

func TestReadRequestRejectsOversizedHead(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nPadding: " + strings.Repeat("x", maxRequestBytes) + "\r\n\r\n"

	_, err := readRequest(strings.NewReader(raw))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProtocol))
}

func TestParseRequestRejectsMalformedLines(t *testing.T) {
	tests := []struct {
		name string
		head string
	}{
		{"missing proto", "GET /"},
		{"not http", "GET / SPDY/3"},
		{"empty", ""},
		{"bad header", "GET / HTTP/1.1\r\nno colon here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRequest(tt.head)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindProtocol))
		})
	}
}
