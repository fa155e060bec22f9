// Package rewrite rebases the hyperlinks and images of a rendered note
// onto the sandbox root and records every accepted destination in the
// shared allow-set. A destination accepted here is provably a
// descendant of the root; everything else is rejected per link without
// failing the surrounding page.
package rewrite

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/inkwell-md/inkwell/internal/errors"
	"github.com/inkwell-md/inkwell/internal/filename"
	"github.com/inkwell-md/inkwell/internal/logging"
)

// Mode selects how link destinations are rebased.
type Mode int

const (
	// ModeOff passes all destinations through unchanged.
	ModeOff Mode = iota
	// ModeRelative rebases relative destinations onto the document
	// directory; absolute ones pass through.
	ModeRelative
	// ModeAll rebases relative and absolute destinations.
	ModeAll
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "rel":
		return ModeRelative, nil
	case "all":
		return ModeAll, nil
	default:
		return ModeOff, errors.New(errors.KindConfig, "rewrite_mode", "unknown rewrite mode "+s)
	}
}

// Rewriter rebases one document's links. It is constructed per server
// run; the allow-set it feeds is shared with the connection manager.
type Rewriter struct {
	root       string
	docDir     string
	docRelSegs []string
	mode       Mode
	rewriteExt bool
	scheme     filename.Scheme
	isNoteExt  func(string) bool
	allow      *AllowSet
	log        logging.Logger
}

// New creates a Rewriter. root and docDir must be absolute, and docDir
// must be a descendant of root; this is asserted here so no rewrite
// ever starts from an unsandboxed base.
func New(root, docDir string, mode Mode, rewriteExt bool, scheme filename.Scheme,
	isNoteExt func(string) bool, allow *AllowSet, log logging.Logger) (*Rewriter, error) {

	root = filepath.Clean(root)
	docDir = filepath.Clean(docDir)
	if !filepath.IsAbs(root) || !filepath.IsAbs(docDir) {
		return nil, errors.New(errors.KindSandbox, "bad_root", "sandbox root and document directory must be absolute")
	}

	rel, err := filepath.Rel(root, docDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, errors.New(errors.KindSandbox, "doc_outside_root",
			"document directory "+docDir+" is not inside sandbox root "+root)
	}

	var segs []string
	if rel != "." {
		segs = strings.Split(filepath.ToSlash(rel), "/")
	}

	if log == nil {
		log = logging.Discard()
	}

	return &Rewriter{
		root:       root,
		docDir:     docDir,
		docRelSegs: segs,
		mode:       mode,
		rewriteExt: rewriteExt,
		scheme:     scheme,
		isNoteExt:  isNoteExt,
		allow:      allow,
		log:        log.WithComponent("rewrite"),
	}, nil
}

// Allow returns the shared allow-set.
func (r *Rewriter) Allow() *AllowSet {
	return r.allow
}

// RewriteFragment rewrites every anchor and image of a rendered HTML
// fragment. A link that cannot be sandboxed is replaced with an inline
// invalid-link marker; the rest of the fragment always survives.
func (r *Rewriter) RewriteFragment(fragment string) string {
	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		r.log.Warn(context.Background(), err, "parsing rendered fragment, serving unrewritten")
		return fragment
	}

	container := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	for _, n := range nodes {
		container.AppendChild(n)
	}

	r.walk(container)

	var buf bytes.Buffer
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return fragment
		}
	}
	return buf.String()
}

func (r *Rewriter) walk(n *html.Node) {
	// Collect children first: rewriting may replace n's children.
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		r.walk(c)
	}

	if n.Type != html.ElementNode {
		return
	}
	switch n.DataAtom {
	case atom.A:
		r.rewriteAnchor(n)
	case atom.Img:
		r.rewriteImage(n)
	}
}

func (r *Rewriter) rewriteAnchor(n *html.Node) {
	href, ok := attr(n, "href")
	if !ok {
		return
	}

	text := textContent(n)
	autolink := text == href || textEqualsDecoded(text, href)

	newDest, absPath, err := r.Rebase(href)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotLocal) {
			// Not local: leave the anchor untouched.
			return
		}
		r.log.Warn(context.Background(), err, "rejecting link", "href", href)
		replaceWithMarker(n, href)
		return
	}

	setAttr(n, "href", newDest)
	if absPath != "" {
		r.allow.Insert(absPath)
		if autolink {
			setTextContent(n, r.shortenLinkText(absPath))
		}
	}
}

func (r *Rewriter) rewriteImage(n *html.Node) {
	src, ok := attr(n, "src")
	if !ok {
		return
	}

	newDest, absPath, err := r.Rebase(src)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotLocal) {
			return
		}
		r.log.Warn(context.Background(), err, "rejecting image", "src", src)
		replaceWithMarker(n, src)
		return
	}

	setAttr(n, "src", newDest)
	if absPath != "" {
		r.allow.Insert(absPath)
	}
}

// shortenLinkText reduces an autolink's visible text to the filename
// stem. The sort tag is stripped only when a stem remains to stand in
// for it, and the extension is shown only when the file is not a note
// document.
func (r *Rewriter) shortenLinkText(absPath string) string {
	name := filepath.Base(absPath)
	c := r.scheme.Disassemble(name)

	display := c.Stem
	if display == "" {
		// All sort tag: stripping it would leave nothing and change
		// which file the text implies.
		display = c.SortTag
	}
	if c.HasCounter {
		display = r.scheme.Assemble(filename.Components{
			Stem: display, Counter: c.Counter, HasCounter: true,
		})
	}
	if c.Ext != "" && !r.isNoteExt(c.Ext) {
		display += "." + c.Ext
	}
	if display == "" {
		display = name
	}
	return display
}

// Rebase runs the sandbox algorithm for one destination. It returns
// the rewritten destination, the absolute filesystem path recorded in
// the allow-set (empty for non-local destinations), and an error when
// the destination escapes the root.
func (r *Rewriter) Rebase(dest string) (string, string, error) {
	if dest == "" || strings.HasPrefix(dest, "#") {
		return dest, "", errors.ErrNotLocal
	}

	lower := strings.ToLower(dest)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return dest, "", errors.ErrNotLocal
	}
	if strings.Contains(dest, "://") {
		if !strings.HasPrefix(lower, "file:///") {
			return dest, "", errors.ErrNotLocal
		}
		dest = dest[len("file://"):]
	}

	decoded := dest
	if u, err := url.PathUnescape(dest); err == nil {
		decoded = u
	}
	// Windows-style separators normalize to forward slashes.
	decoded = strings.ReplaceAll(decoded, "\\", "/")

	var frag string
	if i := strings.IndexByte(decoded, '#'); i >= 0 {
		decoded, frag = decoded[:i], decoded[i:]
	}

	abs := strings.HasPrefix(decoded, "/")
	passthrough := r.mode == ModeOff || (r.mode == ModeRelative && abs)

	// The base the destination is appended to: the document directory
	// for rebased relative links, the root for everything else. A
	// passed-through relative link resolves in the browser against
	// "/", which the server maps onto the root.
	var segs []string
	if !abs && !passthrough {
		segs = append(segs, r.docRelSegs...)
	}

	for _, part := range strings.Split(decoded, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(segs) == 0 {
				if passthrough {
					// The browser resolves these against "/", where
					// ".." clamps at the root.
					continue
				}
				return "", "", errors.Wrap(errors.KindSandbox, "sandbox_violation",
					"destination "+dest+" escapes the sandbox root", errors.ErrSandboxViolation)
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, part)
		}
	}

	joined := strings.Join(segs, "/")
	absPath := filepath.Join(r.root, filepath.FromSlash(joined))

	if passthrough {
		// dest still carries its fragment; nothing to re-append.
		return dest, absPath, nil
	}

	rewritten := "/" + joined
	if r.rewriteExt {
		if ext := strings.TrimPrefix(path.Ext(rewritten), "."); ext != "" && r.isNoteExt(ext) {
			rewritten += ".html"
		}
	}

	return rewritten + frag, absPath, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			visit(gc)
		}
	}
	visit(n)
	return b.String()
}

func setTextContent(n *html.Node, text string) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func textEqualsDecoded(text, href string) bool {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		return false
	}
	return text == decoded
}

// replaceWithMarker swaps a rejected anchor or image for an inline
// invalid-link marker so the page still renders.
func replaceWithMarker(n *html.Node, dest string) {
	marker := &html.Node{Type: html.ElementNode, DataAtom: atom.I, Data: "i",
		Attr: []html.Attribute{{Key: "class", Val: "invalid-link"}}}
	marker.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: `INVALID LOCAL LINK: "` + dest + `"`,
	})

	parent := n.Parent
	if parent == nil {
		return
	}
	parent.InsertBefore(marker, n)
	parent.RemoveChild(n)
}
