package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-md/inkwell/internal/errors"
)

func testConfig() Config {
	return Config{
		Debounce:  20 * time.Millisecond,
		Liveness:  100 * time.Millisecond,
		IdleGrace: 150 * time.Millisecond,
	}
}

func writeNote(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "20200908-note.md")
	require.NoError(t, os.WriteFile(path, []byte("# one\n"), 0o644))
	return path
}

func expectToken(t *testing.T, s *Subscriber, want Token, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case tok := <-s.C:
			if tok == want {
				return
			}
			// Skip interleaved pings while waiting for an update.
		case <-deadline:
			t.Fatalf("no %v token within %v", want, within)
		}
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	dir := t.TempDir()
	w, err := New(writeNote(t, dir), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	a := w.Subscribe()
	b := w.Subscribe()
	assert.Equal(t, 2, w.SubscriberCount())

	w.Broadcast(TokenUpdate)
	assert.Equal(t, TokenUpdate, <-a.C)
	assert.Equal(t, TokenUpdate, <-b.C)
}

func TestBroadcastPrunesClosedSubscribers(t *testing.T) {
	dir := t.TempDir()
	w, err := New(writeNote(t, dir), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	a := w.Subscribe()
	b := w.Subscribe()
	a.Close()

	w.Broadcast(TokenPing)
	assert.Equal(t, 1, w.SubscriberCount())
	assert.Equal(t, TokenPing, <-b.C)
}

func TestBroadcastSkipsFullChannelButKeepsSubscriber(t *testing.T) {
	dir := t.TempDir()
	w, err := New(writeNote(t, dir), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	s := w.Subscribe()
	w.Broadcast(TokenUpdate)
	w.Broadcast(TokenUpdate) // channel full, skipped

	assert.Equal(t, 1, w.SubscriberCount())
	assert.Equal(t, TokenUpdate, <-s.C)
	select {
	case tok := <-s.C:
		t.Fatalf("unexpected second token %v", tok)
	default:
	}
}

func TestUnsubscribeRemovesImmediately(t *testing.T) {
	dir := t.TempDir()
	w, err := New(writeNote(t, dir), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	s := w.Subscribe()
	w.Unsubscribe(s)
	assert.Equal(t, 0, w.SubscriberCount())
}

func TestFileChangeBroadcastsUpdate(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir)

	w, err := New(path, testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := w.Subscribe()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("# two\n"), 0o644))

	expectToken(t, s, TokenUpdate, 2*time.Second)

	cancel()
	require.NoError(t, <-done)
}

func TestRenameReplaceKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir)

	w, err := New(path, testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := w.Subscribe()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)

	// Editor-style save: write a temp file, rename it over the note.
	tmp := filepath.Join(dir, ".note.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("# three\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	expectToken(t, s, TokenUpdate, 2*time.Second)

	// The watch is still armed: a later plain write is seen too.
	require.NoError(t, os.WriteFile(path, []byte("# four\n"), 0o644))
	expectToken(t, s, TokenUpdate, 2*time.Second)

	cancel()
	require.NoError(t, <-done)
}

func TestIrrelevantSiblingIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeNote(t, dir)

	w, err := New(path, testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := w.Subscribe()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("x"), 0o644))

	select {
	case tok := <-s.C:
		assert.Equal(t, TokenPing, tok, "only pings expected")
	case <-time.After(60 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestPingOnLivenessTimeout(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Liveness = 40 * time.Millisecond

	w, err := New(writeNote(t, dir), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := w.Subscribe()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	expectToken(t, s, TokenPing, 2*time.Second)

	cancel()
	require.NoError(t, <-done)
}

func TestIdleTermination(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Debounce:        10 * time.Millisecond,
		Liveness:        30 * time.Millisecond,
		IdleGrace:       50 * time.Millisecond,
		TerminateOnIdle: true,
	}

	w, err := New(writeNote(t, dir), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop despite no subscribers")
	}
}

func TestNoIdleTerminationWithSubscriber(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Debounce:        10 * time.Millisecond,
		Liveness:        30 * time.Millisecond,
		IdleGrace:       50 * time.Millisecond,
		TerminateOnIdle: true,
	}

	w, err := New(writeNote(t, dir), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = w.Subscribe()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-done:
		t.Fatal("watcher stopped despite a live subscriber")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNoIdleTerminationWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Debounce:  10 * time.Millisecond,
		Liveness:  30 * time.Millisecond,
		IdleGrace: 50 * time.Millisecond,
	}

	w, err := New(writeNote(t, dir), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-done:
		t.Fatal("watcher stopped although terminate_on_idle is off")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNewFailsOnMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "noexist", "note.md"), testConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindWatch))
}
