package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	return New(st, nil), st
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestFullScanFindsVideoFilesAndSkipsIgnoredDirs(t *testing.T) {
	libDir := t.TempDir()
	writeFile(t, filepath.Join(libDir, "Show", "S01E01.mkv"), "video")
	writeFile(t, filepath.Join(libDir, "Show", "S01E01.nfo"), "metadata, not video")
	writeFile(t, filepath.Join(libDir, "node_modules", "ignored.mkv"), "should be skipped")

	e, st := newTestEngine(t)
	lib := Library{ID: "lib1", Path: libDir, Username: "alice"}

	artifact, err := e.FullScan(context.Background(), lib)
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.TotalCount)
	assert.Equal(t, "lib1", artifact.LibraryID)

	var cache model.ScanCache
	ok, err := st.Get(store.MapScanCache, "lib1", &cache)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cache.Files, 1)
}

func TestFullScanReturnsConflictWhenAlreadyRunning(t *testing.T) {
	libDir := t.TempDir()
	writeFile(t, filepath.Join(libDir, "a.mkv"), "video")

	e, _ := newTestEngine(t)
	lib := Library{ID: "lib1", Path: libDir}

	unlock, ok := e.tryAcquire(scanPathKey(libDir))
	require.True(t, ok)
	defer unlock()

	_, err := e.FullScan(context.Background(), lib)
	assert.ErrorIs(t, err, ErrScanInProgress)
}

func TestIncrementalScanSkipsUnchangedFiles(t *testing.T) {
	libDir := t.TempDir()
	path := filepath.Join(libDir, "Show", "S01E01.mkv")
	writeFile(t, path, "video")

	e, _ := newTestEngine(t)
	lib := Library{ID: "lib1", Path: libDir}

	_, err := e.FullScan(context.Background(), lib)
	require.NoError(t, err)

	result, err := e.IncrementalScan(context.Background(), lib)
	require.NoError(t, err)
	assert.Empty(t, result.ToProcess, "unchanged file should not be reprocessed")
	assert.Empty(t, result.Removed)
	assert.Equal(t, 1, result.Artifact.TotalCount)
}

func TestIncrementalScanDetectsNewFile(t *testing.T) {
	libDir := t.TempDir()
	writeFile(t, filepath.Join(libDir, "Show", "S01E01.mkv"), "video")

	e, _ := newTestEngine(t)
	lib := Library{ID: "lib1", Path: libDir}

	_, err := e.FullScan(context.Background(), lib)
	require.NoError(t, err)

	newPath := filepath.Join(libDir, "Show", "S01E02.mkv")
	writeFile(t, newPath, "video 2")
	// bump the directory mtime so the incremental walk re-examines it
	now := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(libDir, "Show"), now, now))

	result, err := e.IncrementalScan(context.Background(), lib)
	require.NoError(t, err)
	assert.Contains(t, result.ToProcess, mustCanon(t, newPath))
	assert.Equal(t, 2, result.Artifact.TotalCount)
}

func TestIncrementalScanDropsUnappliedEntryForRemovedFile(t *testing.T) {
	libDir := t.TempDir()
	path := filepath.Join(libDir, "Show", "S01E01.mkv")
	writeFile(t, path, "video")

	e, st := newTestEngine(t)
	lib := Library{ID: "lib1", Path: libDir}

	_, err := e.FullScan(context.Background(), lib)
	require.NoError(t, err)

	canon := mustCanon(t, path)
	require.NoError(t, st.Set(store.MapEnrich, canon, &model.EnrichEntry{Title: "Show"}))

	require.NoError(t, os.Remove(path))
	now := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(libDir, "Show"), now, now))

	result, err := e.IncrementalScan(context.Background(), lib)
	require.NoError(t, err)
	assert.Contains(t, result.Removed, canon)

	_, ok, err := func() (*model.EnrichEntry, bool, error) {
		var entry model.EnrichEntry
		ok, err := st.Get(store.MapEnrich, canon, &entry)
		return &entry, ok, err
	}()
	require.NoError(t, err)
	assert.False(t, ok, "unapplied entry for a removed file should be dropped")
}

func TestIncrementalScanPreservesAppliedEntryForRemovedFile(t *testing.T) {
	libDir := t.TempDir()
	path := filepath.Join(libDir, "Show", "S01E01.mkv")
	writeFile(t, path, "video")

	e, st := newTestEngine(t)
	lib := Library{ID: "lib1", Path: libDir}

	_, err := e.FullScan(context.Background(), lib)
	require.NoError(t, err)

	canon := mustCanon(t, path)
	require.NoError(t, st.Set(store.MapEnrich, canon, &model.EnrichEntry{Title: "Show", Applied: true, Hidden: true}))

	require.NoError(t, os.Remove(path))
	now := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(libDir, "Show"), now, now))

	_, err = e.IncrementalScan(context.Background(), lib)
	require.NoError(t, err)

	var entry model.EnrichEntry
	ok, err := st.Get(store.MapEnrich, canon, &entry)
	require.NoError(t, err)
	assert.True(t, ok, "applied entry must survive sweep-on-removal")
}

func mustCanon(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return filepath.ToSlash(filepath.Clean(abs))
}
