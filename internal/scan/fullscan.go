package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmunix/arrgo-renamer/internal/canonpath"
	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/parser"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// FullScan recursively walks lib.Path, building a fresh ScanCache and
// ScanArtifact (spec.md §4.7 "Full scan"). It holds the scanPath lock for
// lib.Path for its whole duration.
func (e *Engine) FullScan(ctx context.Context, lib Library) (*model.ScanArtifact, error) {
	unlock, ok := e.tryAcquire(scanPathKey(lib.Path))
	if !ok {
		return nil, ErrScanInProgress
	}
	defer unlock()

	cache := model.ScanCache{
		Files:         make(map[string]model.FileStat),
		Dirs:          make(map[string]time.Time),
		InitialScanAt: time.Now(),
	}
	var items []model.ScanItem

	err := filepath.WalkDir(lib.Path, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			e.log.Warn("walk error", "path", path, "error", walkErr)
			return nil
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			info, statErr := d.Info()
			if statErr != nil {
				return nil
			}
			canon, cErr := canonpath.Canonicalize(path)
			if cErr != nil {
				return nil
			}
			cache.Dirs[canon] = info.ModTime()
			return nil
		}

		if !videoExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		canon, cErr := canonpath.Canonicalize(path)
		if cErr != nil {
			return nil
		}
		id := uuid.NewString()
		cache.Files[canon] = model.FileStat{Mtime: info.ModTime(), Size: info.Size(), ID: id}

		parsed := parser.Parse(filepath.Base(path))
		if err := e.st.Set(store.MapParsedCache, canon, parsed); err != nil {
			e.log.Warn("persist parsed cache entry", "path", canon, "error", err)
		}

		items = append(items, model.ScanItem{ID: id, CanonicalPath: canon, ScannedAt: time.Now()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: walk %s: %w", lib.Path, err)
	}

	artifact := &model.ScanArtifact{
		ID:          uuid.NewString(),
		LibraryID:   lib.ID,
		Items:       items,
		TotalCount:  len(items),
		GeneratedAt: time.Now(),
		Username:    lib.Username,
	}

	if err := e.st.Set(store.MapScanCache, lib.ID, &cache); err != nil {
		return nil, fmt.Errorf("scan: persist scan cache: %w", err)
	}
	if err := e.st.Set(store.MapScans, artifact.ID, artifact); err != nil {
		return nil, fmt.Errorf("scan: persist artifact: %w", err)
	}
	if err := e.retainLatest(lib.ID); err != nil {
		e.log.Warn("retain latest artifacts", "library", lib.ID, "error", err)
	}
	return artifact, nil
}

// retainLatest keeps only the maxArtifactsPerLibrary most recent
// ScanArtifacts for libraryID, deleting older ones (spec.md §3 retention
// note).
func (e *Engine) retainLatest(libraryID string) error {
	raw, err := e.st.All(store.MapScans)
	if err != nil {
		return err
	}

	type entry struct {
		id          string
		generatedAt time.Time
	}
	var owned []entry
	for id, msg := range raw {
		var a model.ScanArtifact
		if err := json.Unmarshal(msg, &a); err != nil {
			continue
		}
		if a.LibraryID != libraryID {
			continue
		}
		owned = append(owned, entry{id: id, generatedAt: a.GeneratedAt})
	}
	if len(owned) <= maxArtifactsPerLibrary {
		return nil
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].generatedAt.After(owned[j].generatedAt) })
	for _, stale := range owned[maxArtifactsPerLibrary:] {
		if err := e.st.Delete(store.MapScans, stale.id); err != nil {
			e.log.Warn("delete stale scan artifact", "id", stale.id, "error", err)
		}
	}
	return nil
}
