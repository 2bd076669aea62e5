package apply

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	return st
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestApplyHardlinksNewFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "Series", "Season 01", "Series (2021) - S01E01 - Pilot.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	e := New(st, "", true, nil)

	outcomes, err := e.Apply(context.Background(), []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusHardlinked, outcomes[0].Status)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	var entry model.EnrichEntry
	ok, err := st.Get(store.MapEnrich, src, &entry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.Applied)
	assert.True(t, entry.Hidden)
	assert.Contains(t, entry.AppliedTo, dst)

	var row model.RenderedIndexRow
	ok, err = st.Get(store.MapRenderedIndex, dst, &row)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, src, row.Source)
}

func TestApplyIsIdempotentWhenTargetAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "file.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	e := New(st, "", true, nil)

	_, err := e.Apply(context.Background(), []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{})
	require.NoError(t, err)

	outcomes, err := e.Apply(context.Background(), []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusExists, outcomes[0].Status)
}

func TestApplyNoopWhenSourceAndTargetAreTheSamePath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	e := New(st, "", true, nil)

	outcomes, err := e.Apply(context.Background(), []Plan{{ItemID: "1", FromPath: src, ToPath: src}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNoop, outcomes[0].Status)
}

func TestApplyReportsErrorForMissingSourceWithoutStoppingOtherPlans(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "in", "gone.mkv")
	present := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "file.mkv")
	writeFile(t, present, "video bytes")

	st := newTestStore(t)
	e := New(st, "", true, nil)

	outcomes, err := e.Apply(context.Background(), []Plan{
		{ItemID: "bad", FromPath: missing, ToPath: filepath.Join(dir, "out", "gone.mkv")},
		{ItemID: "good", FromPath: present, ToPath: dst},
	}, Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusError, outcomes[0].Status)
	assert.Error(t, outcomes[0].Err)
	assert.Equal(t, StatusHardlinked, outcomes[1].Status)
}

func TestApplyDryRunReportsPlannedWithoutWritingAnything(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "file.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	e := New(st, "", true, nil)

	outcomes, err := e.Apply(context.Background(), []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, outcomes[0].Status)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyRebasesTargetUnderOutputFolderOverride(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	originalRoot := filepath.Join(dir, "out")
	dst := filepath.Join(originalRoot, "Series", "Season 01", "file.mkv")
	override := filepath.Join(dir, "alt-out")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	e := New(st, originalRoot, true, nil)

	outcomes, err := e.Apply(context.Background(), []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{OutputFolder: override})
	require.NoError(t, err)
	want := filepath.Join(override, "Series", "Season 01", "file.mkv")
	assert.Equal(t, want, outcomes[0].ToPath)
	_, statErr := os.Stat(want)
	assert.NoError(t, statErr)
}

func TestApplyFiltersAppliedItemFromActiveScanAndPushesHideEvent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "file.mkv")
	dst := filepath.Join(dir, "out", "file.mkv")
	writeFile(t, src, "video bytes")

	st := newTestStore(t)
	artifact := model.ScanArtifact{
		ID:        "scan1",
		LibraryID: "lib1",
		Items: []model.ScanItem{
			{ID: "item1", CanonicalPath: src},
			{ID: "item2", CanonicalPath: filepath.Join(dir, "in", "other.mkv")},
		},
		TotalCount: 2,
	}
	require.NoError(t, st.Set(store.MapScans, "scan1", &artifact))

	e := New(st, "", true, nil)
	_, err := e.Apply(context.Background(), []Plan{{ItemID: "1", FromPath: src, ToPath: dst}}, Options{})
	require.NoError(t, err)

	var after model.ScanArtifact
	ok, err := st.Get(store.MapScans, "scan1", &after)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, after.Items, 1)
	assert.Equal(t, 1, after.TotalCount)

	events, err := st.All(store.MapHideEvents)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
