//go:build property

package filename

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFilenameCodecProperties validates the round-trip law: assembling
// any component tuple and disassembling the result recovers the tuple,
// including adversarial stems that look like sort tags or counters.
func TestFilenameCodecProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4711)
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)
	scheme := DefaultScheme()

	sortTagGen := gen.RegexMatch(`([0-9._ ]{0,12})`)
	stemGen := gen.RegexMatch(`[0-9A-Za-z'()._ -]{0,24}`)
	extGen := gen.OneConstOf("md", "txt", "rst", "markdown", "")

	properties.Property("assemble/disassemble round-trips", prop.ForAll(
		func(tag, stem string, counter int, hasCounter bool, ext string) bool {
			// Sort tags must not contain the separator-terminating
			// ambiguity themselves: a tag ending in the separator
			// would merge with the inserted separator.
			if strings.HasSuffix(tag, scheme.SortTagSeparator) {
				return true
			}
			// A stem ending in a counter pattern with no explicit
			// counter legitimately disassembles as a counter; those
			// tuples are outside the codec's input domain.
			if !hasCounter {
				if _, _, ok := scheme.SplitCopyCounter(stem); ok {
					return true
				}
			}
			// Stems with a dot would donate part of themselves to the
			// extension when there is none.
			if ext == "" && strings.Contains(stem, ".") {
				return true
			}
			c := Components{
				SortTag:    tag,
				Stem:       stem,
				Counter:    counter,
				HasCounter: hasCounter,
				Ext:        ext,
			}
			if !hasCounter {
				c.Counter = 0
			}

			got := scheme.Disassemble(scheme.Assemble(c))
			return got == c
		},
		sortTagGen,
		stemGen,
		gen.IntRange(0, MaxCopyCounter),
		gen.Bool(),
		extGen,
	))

	properties.Property("split never panics and is conservative on malformed input", prop.ForAll(
		func(name string) bool {
			stem, _, ok := scheme.SplitCopyCounter(name)
			if !ok && stem != name {
				return false
			}
			tag, rest := scheme.SplitSortTag(name)
			_ = tag
			_ = rest
			return true
		},
		gen.AnyString(),
	))

	properties.Property("shorten respects the length budget and keeps the extension", prop.ForAll(
		func(stem string, max int) bool {
			s := scheme
			s.MaxLength = max
			name := stem + ".md"
			short := s.Shorten(name)
			if len(name) <= max {
				return short == name
			}
			// One extra separator may be appended after the cut.
			return strings.HasSuffix(short, ".md") &&
				len(short) <= max+len(s.ExtraSeparator)
		},
		gen.RegexMatch(`[0-9A-Za-z()._ -]{0,64}`),
		gen.IntRange(6, 32),
	))

	properties.TestingRun(t)
}
