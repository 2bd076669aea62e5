package apply

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

func TestUnapproveRoundTripAfterApplyDeletesHardlinkByDefault(t *testing.T) {
	// spec.md §8 scenario S5: apply then unapprove with the default setting
	// deletes the target, clears flags, and re-injects the source.
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "Series", "Season 01", "Series (2021) - S01E01 - Pilot.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	artifact := model.ScanArtifact{ID: "scan1", LibraryID: "lib1"}
	require.NoError(t, st.Set(store.MapScans, "scan1", &artifact))

	e := New(st, "", true, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{})
	require.NoError(t, err)

	results, err := e.Unapprove(ctx, []string{src}, 0, UnapproveOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.True(t, results[0].Unlinked)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "unapprove should delete the hardlink target by default")

	_, statErr = os.Stat(src)
	assert.NoError(t, statErr, "source must remain untouched")

	var entry model.EnrichEntry
	ok, err := st.Get(store.MapEnrich, src, &entry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.Applied)
	assert.False(t, entry.Hidden)
	assert.Empty(t, entry.AppliedTo)

	var after model.ScanArtifact
	ok, err = st.Get(store.MapScans, "scan1", &after)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, after.Items, 1)
	assert.Equal(t, src, after.Items[0].CanonicalPath)
}

func TestUnapproveKeepsHardlinkWhenDeleteSettingIsFalse(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "file.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	e := New(st, "", false, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{})
	require.NoError(t, err)

	results, err := e.Unapprove(ctx, []string{src}, 0, UnapproveOptions{})
	require.NoError(t, err)
	assert.False(t, results[0].Unlinked)

	_, statErr := os.Stat(dst)
	assert.NoError(t, statErr, "target must survive when delete_hardlinks_on_unapprove is false")
}

func TestUnapproveMovesTargetBackWhenSourceWasDeleted(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "file.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	e := New(st, "", true, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(src))

	results, err := e.Unapprove(ctx, []string{src}, 0, UnapproveOptions{})
	require.NoError(t, err)
	assert.True(t, results[0].MovedBack)

	_, statErr := os.Stat(src)
	assert.NoError(t, statErr, "source should be restored from the target")
	_, statErr = os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))

	ok, err := st.Get(store.MapRenderedIndex, dst, &model.RenderedIndexRow{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnapproveSelectsMostRecentlyAppliedWhenNoPathsGiven(t *testing.T) {
	dir := t.TempDir()
	st := newTestStore(t)
	e := New(st, "", true, nil)

	older := model.EnrichEntry{Applied: true, AppliedAt: time.Now().Add(-time.Hour), AppliedTo: []string{filepath.Join(dir, "old-target")}}
	newer := model.EnrichEntry{Applied: true, AppliedAt: time.Now(), AppliedTo: []string{filepath.Join(dir, "new-target")}}
	require.NoError(t, st.Set(store.MapEnrich, filepath.Join(dir, "old-source"), &older))
	require.NoError(t, st.Set(store.MapEnrich, filepath.Join(dir, "new-source"), &newer))

	targets, err := e.resolveUnapproveTargets(nil, 1)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, filepath.Join(dir, "new-source"), targets[0])
}
