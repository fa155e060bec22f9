// Package renderer turns note content into the HTML pages the viewer
// serves: goldmark for markdown, a link-aware plain-text fallback for
// everything else, and the substitute error page shown when a render
// pass fails.
package renderer

import (
	"bytes"
	"html"
	"html/template"
	"regexp"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	ghtml "github.com/yuin/goldmark/renderer/html"

	"github.com/inkwell-md/inkwell/internal/errors"
	"github.com/inkwell-md/inkwell/internal/note"
)

// Engine renders note documents. One Engine serves a whole server run;
// it is safe for concurrent use because goldmark converters are.
type Engine struct {
	md       goldmark.Markdown
	pageTmpl *template.Template
	css      string
}

// New creates a render engine. highlightTheme names a chroma style;
// css overrides the built-in viewer stylesheet when non-empty.
func New(highlightTheme, css string) *Engine {
	if highlightTheme == "" {
		highlightTheme = "github"
	}
	if css == "" {
		css = defaultCSS
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle(highlightTheme),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(false),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			ghtml.WithUnsafe(),
		),
	)

	return &Engine{
		md:       md,
		pageTmpl: template.Must(template.New("page").Parse(pageTemplate)),
		css:      css,
	}
}

// Render converts body text of the given markup language to an HTML
// fragment.
func (e *Engine) Render(m Markup, body string) (string, error) {
	switch m {
	case MarkupMarkdown:
		var buf bytes.Buffer
		if err := e.md.Convert([]byte(body), &buf); err != nil {
			return "", errors.Wrap(errors.KindRender, "markdown", "converting markdown", err)
		}
		return buf.String(), nil
	case MarkupReST, MarkupPlain:
		return PlainHTML(body), nil
	default:
		return "", errors.New(errors.KindRender, "markup", "file is not a note document")
	}
}

var urlPattern = regexp.MustCompile(`(?:https?|ftp)://[^\s<>"')]+|\bwww\.[^\s<>"')]+`)

// PlainHTML escapes text and wraps URL-looking runs in anchors, so
// even unrenderable content keeps its links clickable.
func PlainHTML(text string) string {
	var b strings.Builder
	b.WriteString(`<pre class="plain">`)

	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		link := text[loc[0]:loc[1]]
		href := link
		if strings.HasPrefix(link, "www.") {
			href = "http://" + link
		}
		b.WriteString(`<a href="` + html.EscapeString(href) + `">` + html.EscapeString(link) + `</a>`)
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))

	b.WriteString("</pre>\n")
	return b.String()
}

// PageData is everything the full viewer page needs.
type PageData struct {
	Title       string
	FrontMatter *note.FrontMatter
	RawHeader   string
	Body        template.HTML
	// CSSHref links an external stylesheet instead of inlining the
	// engine's CSS.
	CSSHref string
	// LiveReload embeds the SSE client script when set.
	LiveReload bool
}

// CSS returns the stylesheet the engine inlines into pages, for
// serving it as a standalone asset.
func (e *Engine) CSS() string {
	return e.css
}

// Page assembles the complete HTML document around a rendered body.
func (e *Engine) Page(data PageData) (string, error) {
	var buf bytes.Buffer
	pd := struct {
		PageData
		CSS    template.CSS
		Script template.JS
	}{PageData: data, CSS: template.CSS(e.css)}
	if data.LiveReload {
		pd.Script = template.JS(sseClientScript)
	}
	if err := e.pageTmpl.Execute(&buf, pd); err != nil {
		return "", errors.Wrap(errors.KindRender, "page_template", "assembling viewer page", err)
	}
	return buf.String(), nil
}

// ErrorPage builds the substitute page shown when rendering fails: the
// triggering message plus the raw content as link-aware plain text.
// It never fails; the result is always servable.
func (e *Engine) ErrorPage(docPath string, cause error, raw string) string {
	var b strings.Builder
	b.WriteString(`<div class="render-error"><h2>Rendering failed</h2><p><code>`)
	b.WriteString(html.EscapeString(docPath))
	b.WriteString(`</code></p><p class="message">`)
	if cause != nil {
		b.WriteString(html.EscapeString(cause.Error()))
	}
	b.WriteString(`</p></div><hr>`)
	b.WriteString(PlainHTML(raw))

	page, err := e.Page(PageData{
		Title:      "Rendering error",
		Body:       template.HTML(b.String()),
		LiveReload: true,
	})
	if err != nil {
		// The template only fails on malformed data; fall back to the
		// bare fragment.
		return b.String()
	}
	return page
}

const pageTemplate = `<!DOCTYPE html>
<html{{if .FrontMatter}}{{if .FrontMatter.Lang}} lang="{{.FrontMatter.Lang}}"{{end}}{{end}}>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{if .CSSHref}}<link rel="stylesheet" href="{{.CSSHref}}">{{else}}<style>{{.CSS}}</style>{{end}}
</head>
<body>
{{- if .FrontMatter}}
<table class="header">
{{- if .FrontMatter.Title}}<tr><th>title</th><td>{{.FrontMatter.Title}}</td></tr>{{end}}
{{- if .FrontMatter.Subtitle}}<tr><th>subtitle</th><td>{{.FrontMatter.Subtitle}}</td></tr>{{end}}
{{- if .FrontMatter.Author}}<tr><th>author</th><td>{{.FrontMatter.Author}}</td></tr>{{end}}
{{- if .FrontMatter.Date}}<tr><th>date</th><td>{{.FrontMatter.Date}}</td></tr>{{end}}
{{- range $k, $v := .FrontMatter.Extra}}<tr><th>{{$k}}</th><td>{{$v}}</td></tr>{{end}}
</table>
{{- end}}
<main>
{{.Body}}
</main>
{{- if .LiveReload}}
<script>{{.Script}}</script>
{{- end}}
</body>
</html>
`

const sseClientScript = `
(function () {
	var source = new EventSource("/events");
	source.addEventListener("update", function () {
		location.reload();
	});
	source.onerror = function () {
		// The server is gone; retry happens automatically.
	};
})();
`

const defaultCSS = `
body { max-width: 50rem; margin: 2rem auto; padding: 0 1rem;
  font-family: system-ui, sans-serif; line-height: 1.55; color: #24292f; }
table.header { border-collapse: collapse; margin-bottom: 1.5rem;
  font-size: 0.85rem; color: #57606a; }
table.header th { text-align: right; padding-right: 0.6rem; font-weight: 600; }
pre { background: #f6f8fa; padding: 0.8rem; overflow-x: auto; border-radius: 6px; }
pre.plain { white-space: pre-wrap; }
code { font-family: ui-monospace, monospace; font-size: 0.9em; }
blockquote { border-left: 0.25em solid #d0d7de; color: #57606a;
  margin-left: 0; padding-left: 1em; }
img { max-width: 100%; }
a { color: #0969da; }
.render-error { border: 1px solid #cf222e; border-radius: 6px; padding: 1rem; }
.render-error .message { color: #cf222e; font-family: ui-monospace, monospace; }
i.invalid-link { color: #cf222e; }
`
