package server

import (
	"context"
	"net"
	"time"

	"github.com/inkwell-md/inkwell/internal/errors"
	"github.com/inkwell-md/inkwell/internal/watcher"
)

const sseHeader = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/event-stream\r\n" +
	"Cache-Control: no-store\r\n" +
	"Connection: keep-alive\r\n\r\n"

const sseUpdateFrame = "event: update\r\ndata:\r\n\r\n"

// sseCommentFrame is a bare comment line; browsers ignore it, but
// writing it fails once the peer is gone.
const sseCommentFrame = ": ping\r\n\r\n"

// serveEvents turns the connection into a server-sent-event stream
// fed by the document watcher. It holds the connection until the peer
// closes, a write fails, or the server shuts down.
func (s *Server) serveEvents(ctx context.Context, conn net.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(sseHeader)); err != nil {
		return
	}

	sub := s.watch.Subscribe()
	defer s.watch.Unsubscribe(sub)

	remote := conn.RemoteAddr().String()
	s.log.Debug(ctx, "event stream open", "remote", remote)
	defer s.log.Debug(ctx, "event stream closed", "remote", remote)

	for {
		select {
		case <-ctx.Done():
			return

		case token := <-sub.C:
			frame := sseCommentFrame
			if token == watcher.TokenUpdate {
				frame = sseUpdateFrame
			}

			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := conn.Write([]byte(frame)); err != nil {
				s.log.Warn(ctx, errors.ErrSubscriberGone, "event stream write failed", "remote", remote)
				return
			}
			if peerClosed(conn) {
				return
			}
		}
	}
}

// peerClosed probes the connection with a zero-deadline read. SSE
// clients never send anything after the request, so a timeout means
// the peer is still there and EOF means it hung up.
func peerClosed(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now())
	var probe [1]byte
	_, err := conn.Read(probe[:])
	if err == nil {
		// Unexpected client bytes; discard them and keep streaming.
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}
	return true
}
