package renderer

import (
	"path/filepath"
	"strings"
)

// Markup identifies the markup language of a note document. It is a
// closed set; routing on file contents never happens, only on this
// classification.
type Markup int

const (
	// MarkupNone marks files that are not note documents at all.
	MarkupNone Markup = iota
	// MarkupMarkdown is converted through goldmark.
	MarkupMarkdown
	// MarkupReST is shown as link-aware plain text; converting
	// reStructuredText is out of scope.
	MarkupReST
	// MarkupPlain is shown as link-aware plain text.
	MarkupPlain
)

// String returns the string representation of the markup language.
func (m Markup) String() string {
	switch m {
	case MarkupMarkdown:
		return "markdown"
	case MarkupReST:
		return "restructuredtext"
	case MarkupPlain:
		return "plaintext"
	default:
		return "none"
	}
}

var markupByExtension = map[string]Markup{
	"md":       MarkupMarkdown,
	"markdown": MarkupMarkdown,
	"mdown":    MarkupMarkdown,
	"mkd":      MarkupMarkdown,
	"rst":      MarkupReST,
	"rest":     MarkupReST,
	"txt":      MarkupPlain,
	"txtnote":  MarkupPlain,
}

// ClassifyExtension maps an extension (without dot) to its markup
// language.
func ClassifyExtension(ext string) Markup {
	if m, ok := markupByExtension[strings.ToLower(ext)]; ok {
		return m
	}
	return MarkupNone
}

// ClassifyPath classifies by the path's extension.
func ClassifyPath(path string) Markup {
	return ClassifyExtension(strings.TrimPrefix(filepath.Ext(path), "."))
}
