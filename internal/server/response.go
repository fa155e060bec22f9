package server

import (
	"fmt"
	"html"
	"net"
	"strings"
	"time"
)

// StatusTooManyDocs is the non-standard status returned when a
// connection batch has exhausted its distinct-document budget. It sits
// outside the registered 5xx range on purpose so clients cannot
// mistake it for an ordinary server failure.
const StatusTooManyDocs = 555

var statusTexts = map[int]string{
	200: "OK",
	400: "Bad Request",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
	503: "Service Unavailable",

	StatusTooManyDocs: "Too Many Note Documents",
}

func statusText(code int) string {
	if text, ok := statusTexts[code]; ok {
		return text
	}
	return "Unknown"
}

// busyResponse is written verbatim to connections accepted over the
// connection limit, before any request bytes are read.
const busyResponse = "HTTP/1.1 503 Service Unavailable\r\n" +
	"Content-Length: 0\r\n" +
	"Connection: close\r\n\r\n"

// bodyChunkSize bounds single write calls so one slow client cannot
// pin a large buffer in the kernel send queue.
const bodyChunkSize = 64 * 1024

const writeTimeout = 10 * time.Second

// writeResponse writes a complete response, body in bounded chunks.
func writeResponse(conn net.Conn, status int, contentType string, body []byte) error {
	var head strings.Builder
	fmt.Fprintf(&head, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	if contentType != "" {
		fmt.Fprintf(&head, "Content-Type: %s\r\n", contentType)
	}
	fmt.Fprintf(&head, "Content-Length: %d\r\n", len(body))
	head.WriteString("Cache-Control: no-store\r\n")
	if status == 405 {
		head.WriteString("Allow: GET\r\n")
	}
	head.WriteString("\r\n")

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(head.String())); err != nil {
		return err
	}

	for len(body) > 0 {
		chunk := body
		if len(chunk) > bodyChunkSize {
			chunk = chunk[:bodyChunkSize]
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(chunk); err != nil {
			return err
		}
		body = body[len(chunk):]
	}
	return nil
}

// writeError writes a minimal HTML error page for the given status.
func writeError(conn net.Conn, status int, detail string) error {
	body := fmt.Sprintf("<!DOCTYPE html>\n<html><head><title>%d %s</title></head>"+
		"<body><h1>%d %s</h1><p>%s</p></body></html>\n",
		status, statusText(status), status, statusText(status), html.EscapeString(detail))
	return writeResponse(conn, status, "text/html; charset=utf-8", []byte(body))
}
