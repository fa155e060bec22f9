// Package watcher watches one note document for changes and fans the
// resulting reload signals out to any number of event-stream
// subscribers.
//
// The watch sits on the document's parent directory rather than the
// file itself: editors that save by rename-and-replace would otherwise
// silently detach the watch. Bursts of filesystem events coalesce
// within a debounce window; long quiet periods produce pings so
// subscribers can notice dead peer connections.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/inkwell-md/inkwell/internal/errors"
	"github.com/inkwell-md/inkwell/internal/logging"
)

// Token is a fan-out signal.
type Token int

const (
	// TokenUpdate means the document changed and the page should
	// reload.
	TokenUpdate Token = iota
	// TokenPing carries no information; it exists so subscribers
	// regularly touch their connection and detect closed peers.
	TokenPing
)

// String returns the string representation of the token.
func (t Token) String() string {
	switch t {
	case TokenUpdate:
		return "update"
	case TokenPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Subscriber is one registered event-stream receiver. C is nearly
// unbuffered; a subscriber that cannot keep up simply misses coalesced
// updates, it is not queued up behind them.
type Subscriber struct {
	C    chan Token
	done chan struct{}
	once sync.Once
}

// Close marks the subscriber as gone. Subsequent broadcasts prune it
// from the registry.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

// Config holds the watcher timings.
type Config struct {
	// Debounce is the coalescing window for change bursts.
	Debounce time.Duration
	// Liveness is how long the loop waits for an event before
	// broadcasting a ping instead.
	Liveness time.Duration
	// IdleGrace is the minimum lifetime before the watcher may stop
	// itself for lack of subscribers.
	IdleGrace time.Duration
	// TerminateOnIdle permits that self-stop.
	TerminateOnIdle bool
}

// Watcher watches a single document path.
type Watcher struct {
	path string
	dir  string
	cfg  Config

	fs  *fsnotify.Watcher
	log logging.Logger

	mu      sync.Mutex
	subs    []*Subscriber
	started time.Time
}

// New creates a watcher for the document at path and arms the
// underlying filesystem watch.
func New(path string, cfg Config, log logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindWatch, "bad_path", "resolving watch path", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.KindWatch, "create", "creating filesystem watcher", err)
	}

	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Wrap(errors.KindWatch, "arm", "watching "+dir, err)
	}

	if log == nil {
		log = logging.Discard()
	}

	return &Watcher{
		path: abs,
		dir:  dir,
		cfg:  cfg,
		fs:   fsw,
		log:  log.WithComponent("watcher"),
	}, nil
}

// Close releases the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Reset replaces a failed filesystem watch with a fresh one, keeping
// the subscriber registry intact. Callers use it between a fatal Run
// error and the next Run.
func (w *Watcher) Reset() error {
	w.fs.Close()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.KindWatch, "create", "creating filesystem watcher", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return errors.Wrap(errors.KindWatch, "arm", "watching "+w.dir, err)
	}
	w.fs = fsw
	return nil
}

// Subscribe registers a new fan-out receiver.
func (w *Watcher) Subscribe() *Subscriber {
	s := &Subscriber{
		C:    make(chan Token, 1),
		done: make(chan struct{}),
	}
	w.mu.Lock()
	w.subs = append(w.subs, s)
	w.mu.Unlock()
	return s
}

// Unsubscribe marks the subscriber gone and removes it immediately.
func (w *Watcher) Unsubscribe(s *Subscriber) {
	s.Close()
	w.mu.Lock()
	for i, sub := range w.subs {
		if sub == s {
			w.subs = append(w.subs[:i], w.subs[i+1:]...)
			break
		}
	}
	w.mu.Unlock()
}

// SubscriberCount returns the current registry size.
func (w *Watcher) SubscriberCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Run executes the watch loop until ctx is cancelled, the idle
// condition stops the watcher, or the filesystem watch fails fatally.
// A nil return means a clean stop; a KindWatch error means the watch
// could not be re-armed and the caller may restart the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.started = time.Now()
	w.mu.Unlock()

	liveness := w.cfg.Liveness
	if liveness <= 0 {
		liveness = 30 * time.Second
	}

	timer := time.NewTimer(liveness)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(liveness)

		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return errors.New(errors.KindWatch, "closed", "filesystem watch channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			if err := w.handleEvent(ctx, event); err != nil {
				return err
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New(errors.KindWatch, "closed", "filesystem watch error channel closed")
			}
			// Transient watch errors are logged; the watch stays armed.
			w.log.Warn(ctx, err, "filesystem watch error")

		case <-timer.C:
			w.Broadcast(TokenPing)
			if w.shouldStopIdle() {
				w.log.Info(ctx, "no subscribers past grace period, stopping watcher")
				return nil
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	return filepath.Clean(event.Name) == w.path
}

// handleEvent coalesces the burst around one event and broadcasts a
// single update. Remove and rename events require the directory watch
// to still be armed; losing it is fatal.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) error {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if err := w.rearm(); err != nil {
			return err
		}
	}

	w.debounce(ctx)
	w.log.Debug(ctx, "document changed", "op", event.Op.String())
	w.Broadcast(TokenUpdate)
	return nil
}

// debounce drains further events for the document until the window
// passes without one.
func (w *Watcher) debounce(ctx context.Context) {
	window := w.cfg.Debounce
	if window <= 0 {
		return
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(window)
		case <-timer.C:
			return
		}
	}
}

// rearm verifies the directory watch survived a remove or rename of
// the document. Editors replacing the file via rename keep the
// directory intact; only losing the directory itself is fatal.
func (w *Watcher) rearm() error {
	for _, watched := range w.fs.WatchList() {
		if watched == w.dir {
			return nil
		}
	}
	if err := w.fs.Add(w.dir); err != nil {
		return errors.Wrap(errors.KindWatch, "rearm", "re-arming watch on "+w.dir, err)
	}
	return nil
}

// Broadcast delivers a token to every live subscriber. A subscriber
// whose receiver is gone is pruned; one whose channel is momentarily
// full is skipped but kept.
func (w *Watcher) Broadcast(token Token) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.subs[:0]
	for _, s := range w.subs {
		select {
		case <-s.done:
			// Receiver is gone; drop it from the registry.
			continue
		default:
		}

		select {
		case s.C <- token:
		default:
			// Full channel: the subscriber is alive but behind; the
			// token is redundant for it anyway.
		}
		kept = append(kept, s)
	}
	w.subs = kept
}

func (w *Watcher) shouldStopIdle() bool {
	if !w.cfg.TerminateOnIdle {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs) == 0 && time.Since(w.started) > w.cfg.IdleGrace
}
