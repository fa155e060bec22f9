// Package filename implements the structured filename codec used for
// note files: an optional leading sort tag, a stem, an optional
// bracketed copy counter, and an extension.
//
// The codec is lossless: assembling components always produces a name
// that disassembles back into the same components. Where a stem would
// be misread as starting with sort-tag characters or ending with a
// copy counter, a reserved extra separator is inserted during assembly
// and stripped again during disassembly.
package filename

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/inkwell-md/inkwell/internal/errors"
)

// MaxCopyCounter is the highest copy counter probed when searching for
// an unused filename.
const MaxCopyCounter = 9999

// Scheme holds the characters and separators the codec operates with.
// A Scheme is immutable once constructed; all methods are pure except
// SetNextUnused, which probes the filesystem.
type Scheme struct {
	// SortTagChars is the set of bytes a sort tag may consist of.
	SortTagChars string
	// SortTagSeparator terminates a sort tag. When non-empty, a
	// leading charset run without the separator is not a sort tag.
	SortTagSeparator string
	// ExtraSeparator is the reserved disambiguation string inserted
	// between sort tag and stem or between stem and copy counter.
	ExtraSeparator string
	// CounterOpening and CounterClosing bracket the copy counter.
	CounterOpening string
	CounterClosing string
	// MaxLength is the maximum assembled filename length in bytes.
	MaxLength int
}

// DefaultScheme returns the scheme used when no configuration
// overrides it.
func DefaultScheme() Scheme {
	return Scheme{
		SortTagChars:     "0123456789.-_ \t",
		SortTagSeparator: "-",
		ExtraSeparator:   "'",
		CounterOpening:   "(",
		CounterClosing:   ")",
		MaxLength:        250,
	}
}

// Components is the disassembled form of a filename. It is only ever
// held transiently; the assembled string is the persistent form.
type Components struct {
	SortTag    string
	Stem       string
	Counter    int
	HasCounter bool
	Ext        string
}

func (s Scheme) isTagChar(b byte) bool {
	return strings.IndexByte(s.SortTagChars, b) >= 0
}

// SplitSortTag splits a leading sort tag off name. The tag is the
// greedily matched charset prefix, trimmed back to the last occurrence
// of the separator so that the separator is never absorbed into the
// tag. A disambiguating extra separator left over from assembly is
// stripped from the remainder.
func (s Scheme) SplitSortTag(name string) (tag, rest string) {
	i := 0
	for i < len(name) && s.isTagChar(name[i]) {
		i++
	}

	if s.SortTagSeparator == "" {
		tag, rest = name[:i], name[i:]
	} else {
		idx := strings.LastIndex(name[:i], s.SortTagSeparator)
		if idx < 0 {
			return "", s.stripExtraSeparator(name)
		}
		tag, rest = name[:idx], name[idx+len(s.SortTagSeparator):]
	}

	return tag, s.stripExtraSeparator(rest)
}

// stripExtraSeparator removes one leading extra separator when it was
// inserted purely for disambiguation: followed by a sort-tag charset
// byte, followed by another extra separator, or terminating the name
// (empty stem).
func (s Scheme) stripExtraSeparator(rest string) string {
	es := s.ExtraSeparator
	if es == "" || !strings.HasPrefix(rest, es) {
		return rest
	}
	tail := rest[len(es):]
	if tail == "" || strings.HasPrefix(tail, es) || s.isTagChar(tail[0]) {
		return tail
	}
	return rest
}

// SplitCopyCounter splits a trailing copy counter off stem: the
// closing bracket, the digits, the opening bracket, and an adjoining
// extra separator if one was inserted during assembly. The original
// string is returned unchanged when any step fails.
func (s Scheme) SplitCopyCounter(stem string) (string, int, bool) {
	t, ok := strings.CutSuffix(stem, s.CounterClosing)
	if !ok {
		return stem, 0, false
	}

	j := len(t)
	for j > 0 && t[j-1] >= '0' && t[j-1] <= '9' {
		j--
	}
	if j == len(t) {
		return stem, 0, false
	}
	n, err := strconv.Atoi(t[j:])
	if err != nil {
		return stem, 0, false
	}

	t, ok = strings.CutSuffix(t[:j], s.CounterOpening)
	if !ok {
		return stem, 0, false
	}

	if s.ExtraSeparator != "" {
		t = strings.TrimSuffix(t, s.ExtraSeparator)
	}

	return t, n, true
}

// Disassemble splits a filename into its components: extension first,
// then sort tag from the front, then copy counter from the back.
func (s Scheme) Disassemble(name string) Components {
	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		base, ext = name[:dot], name[dot+1:]
	}

	tag, rest := s.SplitSortTag(base)
	stem, n, has := s.SplitCopyCounter(rest)

	return Components{SortTag: tag, Stem: stem, Counter: n, HasCounter: has, Ext: ext}
}

// needsExtraSeparator reports whether the stem, written directly after
// the sort tag and its separator, would disassemble differently: it is
// empty, it starts with the extra separator itself, or splitting it as
// a tagged name moves the tag boundary at all.
func (s Scheme) needsExtraSeparator(stem string) bool {
	if stem == "" {
		return true
	}
	if s.ExtraSeparator != "" && strings.HasPrefix(stem, s.ExtraSeparator) {
		return true
	}
	tag, rest := s.SplitSortTag(stem)
	return tag != "" || rest != stem
}

// counterAmbiguous reports whether appending a copy counter directly
// to stem would merge with an ending that already parses as a counter
// or with a trailing extra separator.
func (s Scheme) counterAmbiguous(stem string) bool {
	if _, _, ok := s.SplitCopyCounter(stem); ok {
		return true
	}
	return s.ExtraSeparator != "" && strings.HasSuffix(stem, s.ExtraSeparator)
}

// Assemble builds the filename for the given components, inserting the
// extra separator wherever disassembly would otherwise misparse.
func (s Scheme) Assemble(c Components) string {
	var b strings.Builder

	if c.SortTag != "" {
		b.WriteString(c.SortTag)
		b.WriteString(s.SortTagSeparator)
	}
	if s.ExtraSeparator != "" && s.needsExtraSeparator(c.Stem) {
		b.WriteString(s.ExtraSeparator)
	}
	b.WriteString(c.Stem)

	if c.HasCounter {
		if s.counterAmbiguous(c.Stem) {
			b.WriteString(s.ExtraSeparator)
		}
		b.WriteString(s.CounterOpening)
		b.WriteString(strconv.Itoa(c.Counter))
		b.WriteString(s.CounterClosing)
	}

	if c.Ext != "" {
		b.WriteByte('.')
		b.WriteString(c.Ext)
	}

	return b.String()
}

// Shorten truncates the stem portion of name so the whole filename
// fits MaxLength bytes. The cut lands on a UTF-8 boundary and never
// touches the extension. If the truncated ending happens to parse as a
// copy counter, the extra separator is appended to keep it inert.
func (s Scheme) Shorten(name string) string {
	if s.MaxLength <= 0 || len(name) <= s.MaxLength {
		return name
	}

	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		base, ext = name[:dot], name[dot:]
	}

	keep := s.MaxLength - len(ext)
	if keep < 0 {
		keep = 0
	}
	if keep > len(base) {
		keep = len(base)
	}
	base = truncateOnBoundary(base, keep)

	if _, _, ok := s.SplitCopyCounter(base); ok {
		base = truncateOnBoundary(base, len(base)-len(s.ExtraSeparator)) + s.ExtraSeparator
	}

	return base + ext
}

func truncateOnBoundary(str string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(str) {
		return str
	}
	for n > 0 && !utf8.RuneStart(str[n]) {
		n--
	}
	return str[:n]
}

// SetNextUnused returns a variant of path that does not exist on disk,
// probing copy counters 1..MaxCopyCounter in order. A path that does
// not exist is returned unchanged. When the whole range is taken,
// errors.ErrNoFreeFilename is returned.
func (s Scheme) SetNextUnused(path string) (string, error) {
	if _, err := os.Stat(path); stderrors.Is(err, fs.ErrNotExist) {
		return path, nil
	}

	dir, name := filepath.Split(path)
	c := s.Disassemble(name)
	c.HasCounter = true

	for n := 1; n <= MaxCopyCounter; n++ {
		c.Counter = n
		candidate := filepath.Join(dir, s.Assemble(c))
		if _, err := os.Stat(candidate); stderrors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}

	return "", errors.ErrNoFreeFilename
}
