package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmunix/arrgo-renamer/internal/config"
	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Path: t.TempDir()},
		Users: map[string]config.UserConfig{
			"alice": {
				ScanOutputPath: t.TempDir(),
				RenameTemplate: "{title} ({year}) - {epLabel}",
				ClientOS:       "linux",
				OutputFolders: []config.OutputFolderConfig{
					{Path: "/media/out", Key: "anime", ArtworkProvider: "anilist"},
				},
			},
		},
		Libraries: []config.LibraryConfig{
			{ID: "lib1", Path: t.TempDir(), Username: "alice", Watch: false},
		},
	}
}

func TestNewWiresOneUserPipelinePerConfiguredUser(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	require.Contains(t, svc.users, "alice")
	p := svc.users["alice"]
	assert.NotNil(t, p.resolver)
	assert.NotNil(t, p.render)
	assert.NotNil(t, p.apply)
	require.NotNil(t, p.library)
	assert.Equal(t, "lib1", p.library.ID)

	// No library opted into Watch, so no watcher should have been built.
	assert.Empty(t, svc.watchers)
}

func TestUserPipelineForUnknownUserErrors(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	_, err = svc.userPipelineFor("nobody")
	assert.Error(t, err)
}

func TestLibraryByIDUnknownErrors(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	_, err = svc.libraryByID("nope")
	assert.Error(t, err)
}

func TestPreviewPlansRendersFromStoredEnrichEntry(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	entry := model.EnrichEntry{
		SeriesTitle:  "Example Show",
		Year:         "2021",
		Season:       intPtr(1),
		Episode:      intPtr(2),
		EpisodeTitle: "Pilot",
	}
	require.NoError(t, svc.st.Set(store.MapEnrich, "/media/in/example.s01e02.mkv", &entry))

	previews, err := svc.PreviewPlans(context.Background(), "alice", []string{"/media/in/example.s01e02.mkv"}, PreviewOptions{})
	require.NoError(t, err)
	require.Len(t, previews, 1)
	assert.Equal(t, "/media/in/example.s01e02.mkv", previews[0].CanonicalPath)
	assert.Contains(t, previews[0].Plan.RelativePath(), "Example Show")
}

func TestPreviewPlansSkipsPathsWithoutAnEnrichEntry(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	previews, err := svc.PreviewPlans(context.Background(), "alice", []string{"/media/in/missing.mkv"}, PreviewOptions{})
	require.NoError(t, err)
	assert.Empty(t, previews)
}

func TestListHiddenOrAppliedFiltersByFlag(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	require.NoError(t, svc.st.Set(store.MapEnrich, "/a", &model.EnrichEntry{Hidden: true}))
	require.NoError(t, svc.st.Set(store.MapEnrich, "/b", &model.EnrichEntry{Applied: true}))
	require.NoError(t, svc.st.Set(store.MapEnrich, "/c", &model.EnrichEntry{}))

	out, err := svc.ListHiddenOrApplied(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	paths := []string{out[0].Path, out[1].Path}
	assert.Contains(t, paths, "/a")
	assert.Contains(t, paths, "/b")
}

func TestListDuplicatesOnlyReturnsGroupsOfTwoOrMore(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	require.NoError(t, svc.st.Set(store.MapEnrich, "/a", &model.EnrichEntry{RenderedName: "same.mkv"}))
	require.NoError(t, svc.st.Set(store.MapEnrich, "/b", &model.EnrichEntry{RenderedName: "same.mkv"}))
	require.NoError(t, svc.st.Set(store.MapEnrich, "/c", &model.EnrichEntry{RenderedName: "unique.mkv"}))

	dupes, err := svc.ListDuplicates(context.Background())
	require.NoError(t, err)
	require.Contains(t, dupes, "same.mkv")
	assert.ElementsMatch(t, []string{"/a", "/b"}, dupes["same.mkv"])
	assert.NotContains(t, dupes, "unique.mkv")
}

func TestHideEventsSinceFiltersByTimestamp(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	cutoff := time.Now()
	require.NoError(t, svc.st.Set(store.MapHideEvents, "old", &model.HideEvent{Ts: cutoff.Add(-time.Hour), Path: "/old"}))
	require.NoError(t, svc.st.Set(store.MapHideEvents, "new", &model.HideEvent{Ts: cutoff.Add(time.Hour), Path: "/new"}))

	out, err := svc.HideEventsSince(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/new", out[0].Path)
}

func TestManualSeriesAndPathIDsRoundTrip(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	require.NoError(t, svc.SetManualSeriesIDs("example show", model.ManualSeriesIDs{TVDB: "12345"}))
	got, ok := svc.ManualSeriesIDs(context.Background(), "example show")
	require.True(t, ok)
	assert.Equal(t, "12345", got.TVDB)

	require.NoError(t, svc.SetManualPathIDs("/media/in/example.mkv", model.ManualPathIDs{AniDBEpisode: "999"}))
	gotPath, ok := svc.ManualPathIDs(context.Background(), "/media/in/example.mkv")
	require.True(t, ok)
	assert.Equal(t, "999", gotPath.AniDBEpisode)
}

func TestApprovedSeriesImageCacheRoundTripAndClear(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	img := &model.ApprovedSeriesImage{ImageURL: "https://example.invalid/cover.jpg"}
	require.NoError(t, svc.st.Set(store.MapApprovedSeriesImgs, approvedImageKey("anime", "example show"), img))

	got, ok, err := svc.ApprovedSeriesImage("anime", "example show")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, img.ImageURL, got.ImageURL)

	require.NoError(t, svc.ClearApprovedSeriesImageCache("anime", "example show"))
	_, ok, err = svc.ApprovedSeriesImage("anime", "example show")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepDelegatesToEnrichManager(t *testing.T) {
	svc, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	n, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 0)
}

func intPtr(n int) *int { return &n }
