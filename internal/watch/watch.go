// Package watch implements the filesystem watcher (spec.md §4.7, C6): a
// per-user recursive fsnotify watcher that debounces events and triggers
// incremental rescans. The debounce-timer-reset-on-event shape and the
// restart-on-error loop are grounded on ManuGH-xg2g's
// internal/proxy/watcher.go.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/scan"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// stabilityThreshold is how long a path must go unmodified before the
// watcher treats it as settled (spec.md §4.7 "stabilityThreshold 2s").
const stabilityThreshold = 2 * time.Second

// debounceInterval coalesces bursts of events within the same library (spec.md
// §4.7 "3s debounce on events").
const debounceInterval = 3 * time.Second

// restartDelay is how long the watcher waits before re-arming itself after
// an fsnotify error (spec.md §4.7 "restart after 5s on error").
const restartDelay = 5 * time.Second

// Scanner is the subset of *scan.Engine the watcher drives.
type Scanner interface {
	IncrementalScan(ctx context.Context, lib scan.Library) (*scan.IncrementalResult, error)
}

// Watcher watches one user's library roots and triggers incremental
// rescans on settled changes.
type Watcher struct {
	st      *store.Store
	scanner Scanner
	log     *slog.Logger

	libs []scan.Library

	mu       sync.Mutex
	debounce map[string]*time.Timer

	stop chan struct{}
	done chan struct{}
}

// New builds a Watcher over libs, all belonging to the same user.
func New(st *store.Store, scanner Scanner, libs []scan.Library, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		st:       st,
		scanner:  scanner,
		log:      log.With("component", "watch"),
		libs:     libs,
		debounce: make(map[string]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run watches until ctx is cancelled, restarting the underlying fsnotify
// watcher after any fatal error (spec.md §4.7 "restart after 5s on error").
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)
	for {
		if err := w.runOnce(ctx); err != nil {
			w.log.Warn("watcher error, restarting", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-time.After(restartDelay):
		}
	}
}

// Stop requests Run to return and waits for it to do so.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *Watcher) runOnce(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, lib := range w.libs {
		if err := addRecursive(fw, lib.Path); err != nil {
			w.log.Warn("watch library root", "path", lib.Path, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watch: events channel closed")
			}
			w.handleEvent(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watch: errors channel closed")
			}
			return err
		}
	}
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := fw.Add(path); addErr != nil {
			return nil
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if err := fw.Add(ev.Name); err != nil {
				w.log.Warn("watch new directory", "path", ev.Name, "error", err)
			}
		}
	}

	lib := w.libraryFor(ev.Name)
	if lib == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounce[lib.ID]; ok {
		t.Stop()
	}
	libCopy := *lib
	w.debounce[lib.ID] = time.AfterFunc(debounceInterval, func() {
		w.mu.Lock()
		delete(w.debounce, libCopy.ID)
		w.mu.Unlock()
		w.triggerRescan(ctx, libCopy)
	})
}

func (w *Watcher) libraryFor(path string) *scan.Library {
	for i := range w.libs {
		if withinRoot(w.libs[i].Path, path) {
			return &w.libs[i]
		}
	}
	return nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// triggerRescan waits out stabilityThreshold, then runs an incremental
// scan and pushes a HideEvent so clients reconcile (spec.md §4.7 "On each
// triggered scan: run incremental scan, ..., push a HideEvent so clients
// reconcile").
func (w *Watcher) triggerRescan(ctx context.Context, lib scan.Library) {
	select {
	case <-time.After(stabilityThreshold):
	case <-ctx.Done():
		return
	}

	result, err := w.scanner.IncrementalScan(ctx, lib)
	if err != nil {
		if !errors.Is(err, scan.ErrScanInProgress) {
			w.log.Warn("incremental rescan failed", "library", lib.ID, "error", err)
		}
		return
	}

	if err := store.PushHideEvent(w.st, &model.HideEvent{Path: lib.Path}); err != nil {
		w.log.Warn("push hide event after rescan", "library", lib.ID, "error", err)
	}
	w.log.Info("watch triggered rescan", "library", lib.ID, "toProcess", len(result.ToProcess), "removed", len(result.Removed))
}
