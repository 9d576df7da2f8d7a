// Package watcher reports settled changes to individual files. The parent
// directory is what fsnotify watches, so a file that an editor replaces by
// rename on save keeps being followed.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"lanchat/internal/util/logger/handlers/slogdiscard"
	"lanchat/internal/util/logger/sl"

	"github.com/fsnotify/fsnotify"
)

type Watcher struct {
	fs      *fsnotify.Watcher
	handler Handler
	log     *slog.Logger
	debounce *debouncer
	errs    chan error

	mu      sync.Mutex
	targets map[string]struct{}
	dirs    map[string]int
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup

	events    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	lastEvent atomic.Int64
}

func New(handler Handler, cfg Config) (*Watcher, error) {
	const op = "watcher.New"

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = DefaultErrorBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slogdiscard.NewDiscardLogger()
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w := &Watcher{
		fs:      fs,
		handler: handler,
		log:     cfg.Logger.With(slog.String("component", "watcher")),
		debounce: newDebouncer(cfg.Debounce),
		errs:    make(chan error, cfg.ErrorBuffer),
		targets: make(map[string]struct{}),
		dirs:    make(map[string]int),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Add follows the file at path. The file does not need to exist yet, its
// directory does.
func (w *Watcher) Add(path string) error {
	const op = "watcher.Add"

	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("%s: %w: %s", op, ErrDirectory, path)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if _, ok := w.targets[path]; ok {
		return nil
	}

	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	w.dirs[dir]++
	w.targets[path] = struct{}{}

	w.log.Debug("Watching file", slog.String("path", path))
	return nil
}

// Remove stops following path. Unknown paths are ignored.
func (w *Watcher) Remove(path string) error {
	const op = "watcher.Remove"

	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.targets[path]; !ok || w.closed {
		return nil
	}
	delete(w.targets, path)

	dir := filepath.Dir(path)
	if w.dirs[dir]--; w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		if err := w.fs.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	path := filepath.Clean(ev.Name)
	w.mu.Lock()
	_, watched := w.targets[path]
	w.mu.Unlock()
	if !watched {
		return
	}

	w.events.Add(1)
	w.lastEvent.Store(time.Now().UnixNano())

	// Дебаунсим: редакторы пишут файл несколькими событиями
	w.debounce.trigger(path, func() { w.deliver(path) })
}

func (w *Watcher) deliver(path string) {
	_, err := os.Stat(path)
	exists := err == nil

	if err := w.handler.FileChanged(path, exists); err != nil {
		w.report(fmt.Errorf("handler failed for %s: %w", path, err))
		return
	}
	w.delivered.Add(1)
}

func (w *Watcher) report(err error) {
	w.failed.Add(1)

	select {
	case w.errs <- err:
	default:
		w.log.Warn("Error buffer full, dropping error", sl.Err(err))
	}
}

// Close stops the watcher and drops changes that have not settled yet.
// Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.debounce.stop()

	if err := w.fs.Close(); err != nil {
		return fmt.Errorf("watcher.Close: %w", err)
	}
	return nil
}

// Errors reports handler and fsnotify failures. The channel is never
// closed; a full channel drops errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

func (w *Watcher) Stats() Stats {
	var last time.Time
	if ns := w.lastEvent.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Events:    w.events.Load(),
		Delivered: w.delivered.Load(),
		Failed:    w.failed.Load(),
		LastEvent: last,
	}
}
