package rewrite

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-md/inkwell/internal/filename"
)

func isNoteExt(ext string) bool {
	switch ext {
	case "md", "markdown", "rst", "txt":
		return true
	}
	return false
}

func newRewriter(t *testing.T, root, docDir string, mode Mode, rewriteExt bool) *Rewriter {
	t.Helper()
	r, err := New(root, docDir, mode, rewriteExt, filename.DefaultScheme(), isNoteExt, NewAllowSet(), nil)
	require.NoError(t, err)
	return r
}

func TestNewRejectsDocDirOutsideRoot(t *testing.T) {
	_, err := New("/my/notes", "/other/place", ModeRelative, false,
		filename.DefaultScheme(), isNoteExt, NewAllowSet(), nil)
	require.Error(t, err)

	_, err = New("/my/notes", "/my/notes/sub", ModeRelative, false,
		filename.DefaultScheme(), isNoteExt, NewAllowSet(), nil)
	require.NoError(t, err)

	// Equal directories are fine.
	_, err = New("/my/notes", "/my/notes", ModeRelative, false,
		filename.DefaultScheme(), isNoteExt, NewAllowSet(), nil)
	require.NoError(t, err)
}

func TestRebaseRelativeOntoDocDir(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs/note path", ModeRelative, false)

	dest, abs, err := r.Rebase("./down/../my note 1.md")
	require.NoError(t, err)
	assert.Equal(t, "/abs/note path/my note 1.md", dest)
	assert.Equal(t, filepath.Join("/my", "abs", "note path", "my note 1.md"), abs)
}

func TestRebaseUnderflowRejected(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	_, _, err := r.Rebase("../../dir/x.md")
	require.Error(t, err)
}

func TestRebaseAbsolutePassthroughInRelativeMode(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	dest, abs, err := r.Rebase("/pics/img.png")
	require.NoError(t, err)
	assert.Equal(t, "/pics/img.png", dest)
	assert.Equal(t, filepath.Join("/my", "pics", "img.png"), abs)
}

func TestRebaseAbsoluteInAllMode(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeAll, false)

	dest, abs, err := r.Rebase("/pics/../img.png")
	require.NoError(t, err)
	assert.Equal(t, "/img.png", dest)
	assert.Equal(t, filepath.Join("/my", "img.png"), abs)
}

func TestRebaseOffModePassesThrough(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeOff, false)

	dest, abs, err := r.Rebase("img.png")
	require.NoError(t, err)
	assert.Equal(t, "img.png", dest)
	// Browser resolves against "/", so the root is the base.
	assert.Equal(t, filepath.Join("/my", "img.png"), abs)
}

func TestRebasePassthroughParentTraversal(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeOff, false)

	dest, abs, err := r.Rebase("../x.md")
	require.NoError(t, err)
	assert.Equal(t, "../x.md", dest)
	// ".." clamps at the root, matching the browser's resolution
	// against "/".
	assert.Equal(t, filepath.Join("/my", "x.md"), abs)

	r = newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	dest, abs, err = r.Rebase("/../x.md")
	require.NoError(t, err)
	assert.Equal(t, "/../x.md", dest)
	assert.Equal(t, filepath.Join("/my", "x.md"), abs)
}

func TestRebaseNonLocalSchemes(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeAll, true)

	for _, dest := range []string{
		"https://example.com/page",
		"http://example.com",
		"ftp://host/file",
		"mailto:jane@example.com",
		"tel:+123456",
		"#section-2",
	} {
		got, abs, err := r.Rebase(dest)
		require.Error(t, err, dest)
		assert.Equal(t, dest, got)
		assert.Empty(t, abs)
	}
}

func TestRebaseFileScheme(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeAll, false)

	dest, abs, err := r.Rebase("file:///docs/x.png")
	require.NoError(t, err)
	assert.Equal(t, "/docs/x.png", dest)
	assert.Equal(t, filepath.Join("/my", "docs", "x.png"), abs)
}

func TestRebaseBackslashesNormalized(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	dest, _, err := r.Rebase(`sub\img.png`)
	require.NoError(t, err)
	assert.Equal(t, "/abs/sub/img.png", dest)
}

func TestRebasePercentDecoding(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	dest, abs, err := r.Rebase("my%20note.md")
	require.NoError(t, err)
	assert.Equal(t, "/abs/my note.md", dest)
	assert.Equal(t, filepath.Join("/my", "abs", "my note.md"), abs)
}

func TestRebaseNoteExtensionGetsHTMLSuffix(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, true)

	dest, abs, err := r.Rebase("other.md")
	require.NoError(t, err)
	assert.Equal(t, "/abs/other.md.html", dest)
	// The allow-set records the real file.
	assert.Equal(t, filepath.Join("/my", "abs", "other.md"), abs)

	dest, _, err = r.Rebase("img.png")
	require.NoError(t, err)
	assert.Equal(t, "/abs/img.png", dest)
}

func TestRebaseKeepsFragment(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, true)

	dest, _, err := r.Rebase("other.md#sec")
	require.NoError(t, err)
	assert.Equal(t, "/abs/other.md.html#sec", dest)
}

func TestRebaseIdempotent(t *testing.T) {
	for _, mode := range []Mode{ModeRelative, ModeAll} {
		r := newRewriter(t, "/my", "/my/abs/note path", mode, true)

		first, abs1, err := r.Rebase("./down/../my note 1.md")
		require.NoError(t, err)

		second, abs2, err := r.Rebase(first)
		require.NoError(t, err)
		assert.Equal(t, first, second, "mode %v", mode)
		_ = abs1
		_ = abs2
	}
}

func TestSandboxContainment(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs/deep", ModeAll, true)

	for _, dest := range []string{
		"x.md", "./x.md", "../x.md", "../../x.md", "/top.md",
		"a/b/../c.png", "sub/../../peer/file.txt",
	} {
		_, abs, err := r.Rebase(dest)
		if err != nil {
			continue
		}
		rel, relErr := filepath.Rel("/my", abs)
		require.NoError(t, relErr)
		assert.False(t, strings.HasPrefix(rel, ".."), "dest %q resolved to %q", dest, abs)
	}
}

func TestRewriteFragmentRewritesAndRecords(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	out := r.RewriteFragment(`<p><a href="./pic/../my note 1.md">see</a> <img src="img.png"></p>`)

	assert.Contains(t, out, `href="/abs/my note 1.md"`)
	assert.Contains(t, out, `src="/abs/img.png"`)
	assert.True(t, r.Allow().Contains(filepath.Join("/my", "abs", "my note 1.md")))
	assert.True(t, r.Allow().Contains(filepath.Join("/my", "abs", "img.png")))
}

func TestRewriteFragmentInvalidLinkMarker(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	out := r.RewriteFragment(`<p>before <a href="../../escape.md">bad</a> after</p>`)

	assert.Contains(t, out, "INVALID LOCAL LINK")
	assert.Contains(t, out, "before")
	assert.Contains(t, out, "after")
	assert.NotContains(t, out, `href="../../escape.md"`)
	assert.Equal(t, 0, r.Allow().Len())
}

func TestRewriteFragmentLeavesRemoteLinks(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeAll, true)

	in := `<p><a href="https://example.com/page">remote</a></p>`
	out := r.RewriteFragment(in)

	assert.Contains(t, out, `href="https://example.com/page"`)
	assert.Equal(t, 0, r.Allow().Len())
}

func TestRewriteFragmentAutolinkShortened(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	out := r.RewriteFragment(`<a href="20200908-My file(2).md">20200908-My file(2).md</a>`)

	// Sort tag and note extension disappear from the visible text.
	assert.Contains(t, out, ">My file(2)</a>")
	assert.Contains(t, out, `href="/abs/20200908-My file(2).md"`)
}

func TestRewriteFragmentAutolinkKeepsSortTagOnlyName(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	out := r.RewriteFragment(`<a href="20200908-'.md">20200908-'.md</a>`)

	// A stemless name keeps its sort tag as the visible text.
	assert.Contains(t, out, ">20200908</a>")
}

func TestRewriteFragmentNonAutolinkTextKept(t *testing.T) {
	r := newRewriter(t, "/my", "/my/abs", ModeRelative, false)

	out := r.RewriteFragment(`<a href="x.md">custom text</a>`)

	assert.Contains(t, out, ">custom text</a>")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("off")
	require.NoError(t, err)
	assert.Equal(t, ModeOff, m)

	m, err = ParseMode("rel")
	require.NoError(t, err)
	assert.Equal(t, ModeRelative, m)

	m, err = ParseMode("all")
	require.NoError(t, err)
	assert.Equal(t, ModeAll, m)

	_, err = ParseMode("bogus")
	require.Error(t, err)
}

func TestAllowSet(t *testing.T) {
	s := NewAllowSet()
	assert.False(t, s.Contains("/a"))

	s.Insert("/a")
	s.Insert("/a")
	assert.True(t, s.Contains("/a"))
	assert.Equal(t, 1, s.Len())
}
