// Package server is the live-preview server: a small hand-rolled HTTP
// layer over raw TCP connections, one goroutine per connection.
//
// Plain net.Listener instead of net/http for two reasons. Admission
// control happens at accept time: a connection over the limit gets a
// canned 503 before any of its request is read, which net/http cannot
// express. And the document budget answers with a status code outside
// the registered range, which needs direct control of the status line.
package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inkwell-md/inkwell/internal/config"
	"github.com/inkwell-md/inkwell/internal/errors"
	"github.com/inkwell-md/inkwell/internal/filename"
	"github.com/inkwell-md/inkwell/internal/logging"
	"github.com/inkwell-md/inkwell/internal/renderer"
	"github.com/inkwell-md/inkwell/internal/rewrite"
	"github.com/inkwell-md/inkwell/internal/watcher"
)

// Server serves one note document live, plus whatever local files that
// document's links pull into the allow-set.
type Server struct {
	cfg *config.Config
	log logging.Logger

	docPath string
	root    string
	scheme  filename.Scheme
	mode    rewrite.Mode

	engine *renderer.Engine
	allow  *rewrite.AllowSet
	watch  *watcher.Watcher

	ln        net.Listener
	connCount atomic.Int32
	wg        sync.WaitGroup
	runCtx    context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.RWMutex
	delivered map[string]struct{}

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New builds a server for the note at docPath. The sandbox root is
// cfg.Viewer.Root when set, otherwise the note's own directory.
func New(cfg *config.Config, docPath string, log logging.Logger) (*Server, error) {
	abs, err := filepath.Abs(docPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "bad_path", "resolving document path", err)
	}

	root := cfg.Viewer.Root
	if root == "" {
		root = filepath.Dir(abs)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "bad_root", "resolving sandbox root", err)
	}

	mode, err := rewrite.ParseMode(cfg.Viewer.RewriteMode)
	if err != nil {
		return nil, err
	}

	w, err := watcher.New(abs, watcher.Config{
		Debounce:        cfg.Watcher.Debounce,
		Liveness:        cfg.Watcher.Liveness,
		IdleGrace:       cfg.Watcher.IdleGrace,
		TerminateOnIdle: cfg.Watcher.TerminateOnIdle,
	}, log)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logging.Discard()
	}

	return &Server{
		cfg:       cfg,
		log:       log.WithComponent("server"),
		docPath:   abs,
		root:      root,
		scheme:    cfg.FilenameScheme(),
		mode:      mode,
		engine:    renderer.New(cfg.Viewer.HighlightTheme, cfg.Viewer.CSS),
		allow:     rewrite.NewAllowSet(),
		watch:     w,
		delivered: make(map[string]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the listener and launches the accept loop and the
// watcher. It returns as soon as the listener is live; Addr is valid
// from then on.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(errors.KindIO, "listen", "binding "+addr, err)
	}
	s.ln = ln

	ctx, s.cancel = context.WithCancel(ctx)
	s.runCtx = ctx

	s.wg.Add(2)
	go s.superviseWatcher(ctx)
	go s.acceptLoop(ctx)

	s.log.Info(ctx, "listening", "addr", ln.Addr().String(), "doc", s.docPath)
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Done closes once the server has stopped serving, whether through
// Shutdown or through the watcher's idle self-termination. Before
// Start it returns a nil channel, which never becomes ready.
func (s *Server) Done() <-chan struct{} {
	if s.runCtx == nil {
		return nil
	}
	return s.runCtx.Done()
}

// Shutdown stops accepting, cancels every connection and the watcher,
// and waits for them up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.watch.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop tears the serving side down exactly once: cancels every
// worker, closes the listener, and closes connections that are mid
// read so their goroutines unblock.
func (s *Server) stop() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.ln != nil {
			s.ln.Close()
		}
		s.connsMu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.connsMu.Unlock()
	})
}

func (s *Server) track(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

// acceptLoop admits connections up to the configured limit. The
// connection one past the limit is answered with a canned 503 and
// closed without reading a single request byte.
func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Error(ctx, err, "accept failed, stopping")
			return
		}

		if s.connCount.Add(1) > int32(s.cfg.Server.MaxConnections) {
			s.connCount.Add(-1)
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.Write([]byte(busyResponse))
			conn.Close()
			s.log.Warn(ctx, nil, "connection limit reached, rejecting",
				"remote", conn.RemoteAddr().String(),
				"limit", s.cfg.Server.MaxConnections)
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.connCount.Add(-1)
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// superviseWatcher runs the watch loop and restarts it after fatal
// watch errors. A clean stop, including idle self-termination, shuts
// the whole server down.
func (s *Server) superviseWatcher(ctx context.Context) {
	defer s.wg.Done()

	for {
		err := s.watch.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.log.Info(ctx, "watcher stopped, shutting down")
			s.stop()
			return
		}

		s.log.Error(ctx, err, "watcher failed, restarting")
		if rerr := s.watch.Reset(); rerr != nil {
			// Serving without a watch would leave the page silently
			// stale; shut down instead.
			s.log.Error(ctx, rerr, "watcher restart failed, shutting down")
			s.stop()
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// ConnCount reports currently open connections.
func (s *Server) ConnCount() int {
	return int(s.connCount.Load())
}

func (s *Server) isNotePath(path string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	return s.cfg.IsNoteExtension(ext[1:])
}

// admitDocument enforces the distinct-document budget. A document
// already delivered on this server run is always admitted again.
func (s *Server) admitDocument(path string) bool {
	s.mu.RLock()
	_, seen := s.delivered[path]
	s.mu.RUnlock()
	if seen {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.delivered[path]; seen {
		return true
	}
	if len(s.delivered) >= s.cfg.Server.MaxDocs {
		return false
	}
	s.delivered[path] = struct{}{}
	return true
}
