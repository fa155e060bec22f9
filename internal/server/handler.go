package server

import (
	"context"
	stderrors "errors"
	"html/template"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/inkwell-md/inkwell/internal/errors"
	"github.com/inkwell-md/inkwell/internal/note"
	"github.com/inkwell-md/inkwell/internal/renderer"
	"github.com/inkwell-md/inkwell/internal/rewrite"
)

// keepAliveTimeout is how long an idle keep-alive connection may sit
// between requests before the server closes it.
const keepAliveTimeout = 75 * time.Second

// handleConn serves requests off one connection until the peer closes,
// an error occurs, or the event stream takes the connection over.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.log.Debug(ctx, "connection open", "remote", remote)

	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(keepAliveTimeout))
		req, err := readRequest(conn)
		if err != nil {
			var ne net.Error
			if stderrors.Is(err, io.EOF) || (stderrors.As(err, &ne) && ne.Timeout()) {
				// Peer hung up or the keep-alive idle window passed.
				return
			}
			s.log.Debug(ctx, "request read failed", "remote", remote, "reason", err.Error())
			writeError(conn, 400, "malformed request")
			return
		}

		if req.Method != "GET" {
			writeError(conn, 405, "only GET is served here")
			return
		}

		switch req.path() {
		case "/":
			s.serveNote(ctx, conn, s.docPath, true)
		case "/events":
			s.serveEvents(ctx, conn)
			return
		case "/favicon.ico":
			writeResponse(conn, 200, "image/svg+xml", []byte(faviconSVG))
		case "/css/viewer.css":
			writeResponse(conn, 200, "text/css; charset=utf-8", []byte(s.engine.CSS()))
		default:
			s.serveLocal(ctx, conn, req.path())
		}

		if strings.EqualFold(req.Headers["connection"], "close") {
			return
		}
	}
}

// serveNote renders one note document as a full viewer page. Render
// failures still produce a 200 page carrying the error and the raw
// content; only transport failures abort.
func (s *Server) serveNote(ctx context.Context, conn net.Conn, docPath string, liveReload bool) {
	content, err := note.Open(docPath)
	if err != nil {
		if content == nil {
			writeError(conn, 404, filepath.Base(docPath))
			return
		}
		// The header did not decode; the substitute page shows the
		// message and the raw content.
		s.log.Warn(ctx, err, "front matter rejected", "doc", docPath)
		writeResponse(conn, 200, "text/html; charset=utf-8",
			[]byte(s.engine.ErrorPage(docPath, err, content.Header+"\n"+content.Body)))
		return
	}

	markup := renderer.ClassifyPath(docPath)
	if markup == renderer.MarkupNone && s.isNotePath(docPath) {
		markup = renderer.MarkupPlain
	}

	body, rerr := s.engine.Render(markup, content.Body)
	if rerr != nil {
		s.log.Warn(ctx, rerr, "render failed", "doc", docPath)
		writeResponse(conn, 200, "text/html; charset=utf-8",
			[]byte(s.engine.ErrorPage(docPath, rerr, content.Header+content.Body)))
		return
	}

	rw, err := rewrite.New(s.root, filepath.Dir(docPath), s.mode, s.cfg.Viewer.RewriteExt,
		s.scheme, s.cfg.IsNoteExtension, s.allow, s.log)
	if err != nil {
		s.log.Error(ctx, err, "document escaped the sandbox", "doc", docPath)
		writeError(conn, 404, docPath)
		return
	}
	body = rw.RewriteFragment(body)

	title := s.pageTitle(docPath, content)
	page, err := s.engine.Page(renderer.PageData{
		Title:       title,
		FrontMatter: content.FrontMatter,
		RawHeader:   content.Header,
		Body:        template.HTML(body),
		CSSHref:     "/css/viewer.css",
		LiveReload:  liveReload,
	})
	if err != nil {
		writeResponse(conn, 200, "text/html; charset=utf-8",
			[]byte(s.engine.ErrorPage(docPath, err, content.Body)))
		return
	}

	writeResponse(conn, 200, "text/html; charset=utf-8", []byte(page))
}

// pageTitle prefers the header title and falls back to the filename
// stem.
func (s *Server) pageTitle(docPath string, content *note.Content) string {
	if content.FrontMatter != nil && content.FrontMatter.Title != "" {
		return content.FrontMatter.Title
	}
	c := s.scheme.Disassemble(filepath.Base(docPath))
	if c.Stem != "" {
		return c.Stem
	}
	return filepath.Base(docPath)
}

// serveLocal answers every path other than the fixed routes: local
// files inside the sandbox that an already-served page linked to.
// Membership in the allow-set is the gate; anything never produced by
// the link rewriter is a 404 regardless of whether it exists.
func (s *Server) serveLocal(ctx context.Context, conn net.Conn, reqPath string) {
	decoded, err := url.PathUnescape(reqPath)
	if err != nil {
		decoded = reqPath
	}

	clean := path.Clean(decoded)
	if !strings.HasPrefix(clean, "/") {
		writeError(conn, 404, reqPath)
		return
	}

	resolved := filepath.Join(s.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		writeError(conn, 404, reqPath)
		return
	}

	// A rewritten note link carries a rendered-page suffix; map it
	// back to the source file the rewriter allowed.
	target := resolved
	if !s.allow.Contains(target) {
		trimmed := strings.TrimSuffix(resolved, ".html")
		if trimmed != resolved && s.allow.Contains(trimmed) && s.isNotePath(trimmed) {
			target = trimmed
		} else {
			s.log.Debug(ctx, "path not in allow-set", "path", reqPath)
			writeError(conn, 404, reqPath)
			return
		}
	}

	if s.isNotePath(target) {
		if !s.admitDocument(target) {
			s.log.Warn(ctx, errors.ErrTooManyDocs, "document budget exhausted", "doc", target,
				"limit", s.cfg.Server.MaxDocs)
			writeError(conn, StatusTooManyDocs, filepath.Base(target))
			return
		}
		s.serveNote(ctx, conn, target, false)
		return
	}

	s.serveStatic(ctx, conn, target)
}

// serveStatic serves a raw file by its configured MIME type. An
// extension missing from the MIME table is not served at all.
func (s *Server) serveStatic(ctx context.Context, conn net.Conn, target string) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(target), "."))
	mime, ok := s.cfg.Viewer.MIMETypes[ext]
	if !ok {
		s.log.Debug(ctx, "extension not in MIME table", "path", target)
		writeError(conn, 404, filepath.Base(target))
		return
	}

	data, err := os.ReadFile(target)
	if err != nil {
		writeError(conn, 404, filepath.Base(target))
		return
	}
	writeResponse(conn, 200, mime, data)
}

const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 16 16">` +
	`<rect width="16" height="16" rx="3" fill="#0969da"/>` +
	`<path d="M4 12V4h2l2 4 2-4h2v8h-2V7.5L8 11 6 7.5V12z" fill="#fff"/></svg>`
