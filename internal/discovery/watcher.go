package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"modtool-go/internal/modtool"
)

const (
	DefaultInterval = 2 * time.Second
	settleDelay     = 250 * time.Millisecond
)

// Options configures a Watcher.
type Options struct {
	// Interval between polls. Zero uses DefaultInterval.
	Interval time.Duration
	// Notify also refreshes shortly after filesystem events under the
	// source root.
	Notify bool
	Logger modtool.Logger
}

// Watcher keeps the set of known mods for a Source up to date and publishes
// every non-empty Changes on its channel.
type Watcher struct {
	src      Source
	interval time.Duration
	notify   bool
	logger   modtool.Logger

	mu    sync.Mutex
	known Snapshot

	changes chan Changes
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewWatcher(src Source, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = modtool.NewNopLogger()
	}
	return &Watcher{
		src:      src,
		interval: opts.Interval,
		notify:   opts.Notify,
		logger:   opts.Logger,
		known:    make(Snapshot),
		changes:  make(chan Changes, 16),
	}
}

// Changes delivers each refresh that found something. It is closed when the
// watcher stops.
func (w *Watcher) Changes() <-chan Changes { return w.changes }

// Mods returns the known mod manifests, sorted.
func (w *Watcher) Mods() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var mods []string
	for p := range w.known {
		mods = append(mods, p)
	}
	sort.Strings(mods)
	return mods
}

// Refresh scans the source once and updates the known mods.
func (w *Watcher) Refresh(ctx context.Context) (Changes, error) {
	snap, err := w.src.Snapshot(ctx)
	if err != nil {
		return Changes{}, err
	}
	w.mu.Lock()
	c, next := Diff(w.known, snap)
	w.known = next
	w.mu.Unlock()

	for _, p := range c.Added {
		w.logger.Info("mod found", "path", p)
	}
	for _, p := range c.Removed {
		w.logger.Info("mod removed", "path", p)
	}
	for _, p := range c.Changed {
		w.logger.Info("mod changed", "path", p)
	}
	return c, nil
}

// Start runs the watcher in the background until Stop is called or ctx
// ends.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		w.err = w.Run(ctx)
	}()
}

// Stop ends a watcher started with Start and returns the error it stopped
// with, if any.
func (w *Watcher) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	return w.err
}

// Run refreshes immediately, then on every tick and, with Notify, shortly
// after filesystem events, until ctx ends. The Changes channel is closed on
// return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)

	var fsw *fsnotify.Watcher
	if w.notify {
		var err error
		fsw, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating filesystem watcher: %w", err)
		}
		defer fsw.Close()
		if err := addDirectories(fsw, w.src.Root()); err != nil {
			return err
		}
	}

	if err := w.publish(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	var events <-chan fsnotify.Event
	var fsErrors <-chan error
	if fsw != nil {
		events, fsErrors = fsw.Events, fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := w.publish(ctx); err != nil {
				return err
			}

		case <-settle.C:
			if err := w.publish(ctx); err != nil {
				return err
			}

		case evt, ok := <-events:
			if !ok {
				return errors.New("filesystem event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(fsw, evt.Name)
			}
			settle.Reset(settleDelay)

		case err, ok := <-fsErrors:
			if !ok {
				return errors.New("filesystem error channel closed unexpectedly")
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

// publish refreshes and sends non-empty changes. A failed scan is logged and
// retried on the next tick; only cancellation ends the loop.
func (w *Watcher) publish(ctx context.Context) error {
	c, err := w.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("refreshing mods", "root", w.src.Root(), "error", err)
		return nil
	}
	if c.Empty() {
		return nil
	}
	select {
	case w.changes <- c:
	case <-ctx.Done():
	}
	return nil
}

func addDirectories(fsw *fsnotify.Watcher, root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", root, err)
	}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}
	return nil
}

// maybeAddDir extends the watch to directories created after startup.
func (w *Watcher) maybeAddDir(fsw *fsnotify.Watcher, p string) {
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return
	}
	if err := addDirectories(fsw, p); err != nil {
		w.logger.Warn("watching new directory", "path", p, "error", err)
	}
}
