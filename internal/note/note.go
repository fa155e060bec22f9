// Package note loads note documents: a YAML front-matter header
// delimited by "---" lines, followed by the markup body.
package note

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inkwell-md/inkwell/internal/errors"
)

// FrontMatter is the typed view of a note's YAML header. Fields the
// header does not declare stay zero; unknown keys are kept in Extra so
// the header table can show them.
type FrontMatter struct {
	Title    string         `yaml:"title"`
	Subtitle string         `yaml:"subtitle,omitempty"`
	Author   string         `yaml:"author,omitempty"`
	Date     string         `yaml:"date,omitempty"`
	Lang     string         `yaml:"lang,omitempty"`
	Extra    map[string]any `yaml:",inline"`
}

// Content is one loaded note document.
type Content struct {
	// Header is the raw YAML between the delimiters, without them.
	Header string
	// Body is everything after the header block.
	Body string
	// FrontMatter is the parsed header. Nil when there is no header.
	FrontMatter *FrontMatter
}

// Open reads and splits the note at path.
func Open(path string) (*Content, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "read_note", "reading note file", err)
	}
	return Parse(string(raw))
}

// Parse splits raw note text into header and body and decodes the
// header. A malformed YAML header is a render-kind error; the caller
// substitutes an error page rather than failing the request.
func Parse(raw string) (*Content, error) {
	header, body := split(raw)

	c := &Content{Header: header, Body: body}
	if header == "" {
		return c, nil
	}

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return c, errors.Wrap(errors.KindRender, "front_matter", "parsing YAML header", err)
	}
	c.FrontMatter = &fm

	return c, nil
}

// split separates the front-matter block from the body. The block
// starts with a "---" line at the very top and ends with a "---" or
// "..." line. Text without a leading delimiter is all body.
func split(raw string) (header, body string) {
	rest, ok := cutDelimiterLine(raw)
	if !ok {
		return "", raw
	}

	offset := len(raw) - len(rest)
	for i := 0; i <= len(rest); {
		lineEnd := strings.IndexByte(rest[i:], '\n')
		var line string
		next := len(rest)
		if lineEnd >= 0 {
			line = rest[i : i+lineEnd]
			next = i + lineEnd + 1
		} else {
			line = rest[i:]
		}
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "---" || trimmed == "..." {
			return raw[offset : offset+i], rest[next:]
		}
		if lineEnd < 0 {
			break
		}
		i = next
	}

	// Unterminated header: treat the whole text as body.
	return "", raw
}

// cutDelimiterLine strips a leading "---" line, tolerating a BOM and a
// trailing CR. Returns false when raw does not start with one.
func cutDelimiterLine(raw string) (string, bool) {
	s := strings.TrimPrefix(raw, "\uFEFF")
	if !strings.HasPrefix(s, "---") {
		return "", false
	}
	s = s[3:]
	s = strings.TrimPrefix(s, "\r")
	if !strings.HasPrefix(s, "\n") {
		return "", false
	}
	return s[1:], true
}
