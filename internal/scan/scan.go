// Package scan implements the scan engine (spec.md §4.7, C5): full and
// incremental directory walks that produce ScanArtifacts and maintain the
// per-library ScanCache used to short-circuit unchanged directories.
package scan

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/vmunix/arrgo-renamer/internal/store"
)

// ignoredDirs are skipped entirely during a walk (spec.md §4.7).
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".svn":         true,
	"__pycache__":  true,
}

// videoExtensions is the whitelist of extensions a scan treats as media
// (spec.md §4.7).
var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".m4v": true,
	".mpg": true, ".mpeg": true, ".webm": true, ".wmv": true, ".flv": true,
	".ts": true, ".ogg": true, ".ogv": true, ".3gp": true, ".3g2": true,
}

// maxArtifactsPerLibrary bounds how many ScanArtifacts a library retains
// (spec.md §3 ScanArtifact retention note).
const maxArtifactsPerLibrary = 2

// ErrScanInProgress is returned when a scan or refresh is already running
// for the requested key (spec.md §4.7 "a second attempt returns a conflict
// error").
var ErrScanInProgress = errors.New("scan: already in progress")

// Library identifies one configured media root a scan walks.
type Library struct {
	ID       string
	Path     string
	Username string
}

// Engine runs full/incremental scans and enforces the per-path/per-refresh
// locks spec.md §4.7 describes.
type Engine struct {
	st  *store.Store
	log *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an Engine backed by st.
func New(st *store.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{st: st, log: log.With("component", "scan"), locks: make(map[string]*sync.Mutex)}
}

// tryAcquire attempts to lock key, returning (unlock, true) on success or
// (nil, false) if another scan already holds it.
func (e *Engine) tryAcquire(key string) (func(), bool) {
	e.mu.Lock()
	lk, ok := e.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[key] = lk
	}
	e.mu.Unlock()

	if !lk.TryLock() {
		return nil, false
	}
	return lk.Unlock, true
}

func scanPathKey(libPath string) string  { return "scanPath:" + libPath }
func refreshScanKey(scanID string) string { return "refreshScan:" + scanID }
