package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmunix/arrgo-renamer/internal/canonpath"
	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/parser"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// IncrementalResult reports what an incremental scan found (spec.md §4.7
// "produce {toProcess, currentCache, removed}").
type IncrementalResult struct {
	Artifact     *model.ScanArtifact
	ToProcess    []string
	CurrentCache model.ScanCache
	Removed      []string
}

// IncrementalScan re-walks the whole library tree but re-stats and
// re-parses only files whose parent directory's mtime differs from the
// cached value, diffing them against the prior ScanCache (spec.md §4.7
// "Incremental scan"). It shares the scanPath lock with
// FullScan, since "at most one full or incremental scan per library path"
// may run at a time.
func (e *Engine) IncrementalScan(ctx context.Context, lib Library) (*IncrementalResult, error) {
	unlock, ok := e.tryAcquire(scanPathKey(lib.Path))
	if !ok {
		return nil, ErrScanInProgress
	}
	defer unlock()

	var prior model.ScanCache
	hadPrior, err := e.st.Get(store.MapScanCache, lib.ID, &prior)
	if err != nil {
		return nil, fmt.Errorf("scan: load prior cache: %w", err)
	}
	if !hadPrior {
		prior = model.ScanCache{Files: map[string]model.FileStat{}, Dirs: map[string]time.Time{}}
	}

	current := model.ScanCache{
		Files:         make(map[string]model.FileStat, len(prior.Files)),
		Dirs:          make(map[string]time.Time, len(prior.Dirs)),
		InitialScanAt: prior.InitialScanAt,
	}
	for k, v := range prior.Files {
		current.Files[k] = v
	}

	var toProcess []string
	seenFiles := make(map[string]bool)

	walkErr := filepath.WalkDir(lib.Path, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			e.log.Warn("walk error", "path", path, "error", walkErr)
			return nil
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			canon, cErr := canonpath.Canonicalize(path)
			if cErr != nil {
				return nil
			}
			info, statErr := d.Info()
			if statErr != nil {
				return nil
			}
			current.Dirs[canon] = info.ModTime()
			return nil
		}

		if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		canon, cErr := canonpath.Canonicalize(path)
		if cErr != nil {
			return nil
		}
		dir := filepath.ToSlash(filepath.Dir(canon))
		if prior.Dirs[dir].Equal(current.Dirs[dir]) && hadPrior {
			// Parent directory mtime unchanged: trust the cached entry and
			// skip re-stat/re-parse of this file.
			seenFiles[canon] = true
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		seenFiles[canon] = true
		existing, hadFile := prior.Files[canon]
		if hadFile && existing.Mtime.Equal(info.ModTime()) && existing.Size == info.Size() {
			current.Files[canon] = existing
			return nil
		}

		id := existing.ID
		if id == "" {
			id = uuid.NewString()
		}
		current.Files[canon] = model.FileStat{Mtime: info.ModTime(), Size: info.Size(), ID: id}
		toProcess = append(toProcess, canon)

		parsed := parser.Parse(filepath.Base(path))
		if err := e.st.Set(store.MapParsedCache, canon, parsed); err != nil {
			e.log.Warn("persist parsed cache entry", "path", canon, "error", err)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan: incremental walk %s: %w", lib.Path, walkErr)
	}

	var removed []string
	for path := range prior.Files {
		if seenFiles[path] {
			continue
		}
		removed = append(removed, path)
		delete(current.Files, path)
	}
	for _, path := range removed {
		if err := e.removeStalePath(path); err != nil {
			e.log.Warn("remove stale path bookkeeping", "path", path, "error", err)
		}
	}

	artifact, err := e.buildArtifactFromCache(lib, current)
	if err != nil {
		return nil, err
	}
	if err := e.st.Set(store.MapScanCache, lib.ID, &current); err != nil {
		return nil, fmt.Errorf("scan: persist incremental cache: %w", err)
	}
	if err := e.st.Set(store.MapScans, artifact.ID, artifact); err != nil {
		return nil, fmt.Errorf("scan: persist artifact: %w", err)
	}
	if err := e.retainLatest(lib.ID); err != nil {
		e.log.Warn("retain latest artifacts", "library", lib.ID, "error", err)
	}

	return &IncrementalResult{Artifact: artifact, ToProcess: toProcess, CurrentCache: current, Removed: removed}, nil
}

// removeStalePath implements spec.md §4.7's "removed files" bookkeeping:
// parsedCache is dropped unconditionally, enrichCache only if the entry is
// neither applied nor hidden (preserving the audit trail for applied
// items).
func (e *Engine) removeStalePath(path string) error {
	if err := e.st.Delete(store.MapParsedCache, path); err != nil {
		return fmt.Errorf("drop parsed cache: %w", err)
	}

	var entry model.EnrichEntry
	ok, err := e.st.Get(store.MapEnrich, path, &entry)
	if err != nil {
		return fmt.Errorf("load enrich entry: %w", err)
	}
	if !ok || entry.Applied || entry.Hidden {
		return nil
	}
	return e.st.Delete(store.MapEnrich, path)
}

func (e *Engine) buildArtifactFromCache(lib Library, cache model.ScanCache) (*model.ScanArtifact, error) {
	items := make([]model.ScanItem, 0, len(cache.Files))
	for path, stat := range cache.Files {
		var entry *model.EnrichEntry
		var loaded model.EnrichEntry
		if ok, err := e.st.Get(store.MapEnrich, path, &loaded); err == nil && ok {
			entry = &loaded
		}
		items = append(items, model.ScanItem{ID: stat.ID, CanonicalPath: path, ScannedAt: time.Now(), Enrichment: entry})
	}
	return &model.ScanArtifact{
		ID:          uuid.NewString(),
		LibraryID:   lib.ID,
		Items:       items,
		TotalCount:  len(items),
		GeneratedAt: time.Now(),
		Username:    lib.Username,
	}, nil
}

// RefreshScan re-validates an existing ScanArtifact: drops items whose
// source has vanished (unless applied/hidden) and refreshes each
// surviving item's Enrichment pointer from the current enrich cache
// (spec.md §4.7 "Refreshes have their own lock").
func (e *Engine) RefreshScan(ctx context.Context, scanID string) (*model.ScanArtifact, error) {
	unlock, ok := e.tryAcquire(refreshScanKey(scanID))
	if !ok {
		return nil, ErrScanInProgress
	}
	defer unlock()

	var artifact model.ScanArtifact
	found, err := e.st.Get(store.MapScans, scanID, &artifact)
	if err != nil {
		return nil, fmt.Errorf("scan: load artifact %s: %w", scanID, err)
	}
	if !found {
		return nil, fmt.Errorf("scan: no artifact %s", scanID)
	}

	kept := artifact.Items[:0]
	for _, item := range artifact.Items {
		var entry model.EnrichEntry
		ok, err := e.st.Get(store.MapEnrich, item.CanonicalPath, &entry)
		if err != nil {
			e.log.Warn("load enrich entry during refresh", "path", item.CanonicalPath, "error", err)
		}

		if _, statErr := os.Stat(item.CanonicalPath); statErr != nil {
			if ok && (entry.Applied || entry.Hidden) {
				kept = append(kept, item)
			}
			continue
		}

		if ok {
			item.Enrichment = &entry
		}
		kept = append(kept, item)
	}
	artifact.Items = kept
	artifact.TotalCount = len(kept)

	if err := e.st.Set(store.MapScans, scanID, &artifact); err != nil {
		return nil, fmt.Errorf("scan: persist refreshed artifact: %w", err)
	}
	return &artifact, nil
}
