package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers"
)

// fakeAdapter is a scriptable providers.Adapter for resolver tests.
type fakeAdapter struct {
	id            model.ProviderID
	searchFn      func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error)
	fetchByIDFn   func(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error)
	fetchEpisodeFn func(ctx context.Context, seriesRef string, season, episode int, opts providers.FetchOpts) (*providers.EpisodeHit, error)
}

func (f *fakeAdapter) ID() model.ProviderID { return f.id }

func (f *fakeAdapter) SearchSeries(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
	if f.searchFn == nil {
		return nil, nil
	}
	return f.searchFn(ctx, query, opts)
}

func (f *fakeAdapter) FetchByID(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error) {
	if f.fetchByIDFn == nil {
		return nil, nil
	}
	return f.fetchByIDFn(ctx, id, opts)
}

func (f *fakeAdapter) FetchEpisode(ctx context.Context, seriesRef string, season, episode int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
	if f.fetchEpisodeFn == nil {
		return nil, nil
	}
	return f.fetchEpisodeFn(ctx, seriesRef, season, episode, opts)
}

// fakeCache is an in-memory Cache fake.
type fakeCache struct {
	entries  map[string]*model.EnrichEntry
	failures map[string]*model.ProviderFailure
	skipped  []string
	cleared  []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*model.EnrichEntry{}, failures: map[string]*model.ProviderFailure{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) (*model.EnrichEntry, bool, error) {
	if e, ok := c.entries[key]; ok {
		return e, true, nil
	}
	if pf, ok := c.failures[key]; ok {
		return &model.EnrichEntry{ProviderFailure: pf}, true, nil
	}
	return nil, false, nil
}

func (c *fakeCache) RecordFailure(ctx context.Context, key string, pf model.ProviderFailure) error {
	c.failures[key] = &pf
	return nil
}

func (c *fakeCache) MarkFailureSkip(ctx context.Context, key string) error {
	c.skipped = append(c.skipped, key)
	return nil
}

func (c *fakeCache) ClearFailure(ctx context.Context, key string) error {
	c.cleared = append(c.cleared, key)
	delete(c.failures, key)
	return nil
}

// fakeManualIDs is a ManualIDs fake.
type fakeManualIDs struct {
	series map[string]*model.ManualSeriesIDs
	paths  map[string]*model.ManualPathIDs
}

func (m *fakeManualIDs) SeriesIDs(ctx context.Context, seriesKey string) (*model.ManualSeriesIDs, bool) {
	if m.series == nil {
		return nil, false
	}
	v, ok := m.series[seriesKey]
	return v, ok
}

func (m *fakeManualIDs) PathIDs(ctx context.Context, canonicalPath string) (*model.ManualPathIDs, bool) {
	if m.paths == nil {
		return nil, false
	}
	v, ok := m.paths[canonicalPath]
	return v, ok
}

func tmdbCandidate(title string) *providers.SeriesCandidate {
	return &providers.SeriesCandidate{TitleExact: title, TitleEnglish: title, Year: "2021", MediaFormat: "TV"}
}

func TestResolveOnceReturnsCachedCompleteBlockWithoutCallingAdapters(t *testing.T) {
	cache := newFakeCache()
	rendered := "My Show - S01E01 - Pilot"
	cache.entries["/lib/My Show/S01E01.mkv"] = &model.EnrichEntry{
		SeriesTitle: "My Show",
		Provider:    &model.ProviderBlock{Matched: true, RenderedName: rendered},
	}

	called := false
	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			called = true
			return tmdbCandidate("should not be used"), nil
		}},
	}

	r := New(adapters, cache, nil, nil)
	res, err := r.Resolve(context.Background(), Input{
		CanonicalPath: "/lib/My Show/S01E01.mkv",
		LibraryRoot:   "/lib",
		ProviderOrder: []model.ProviderID{model.ProviderTMDB},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if called {
		t.Fatalf("expected cached complete block to short-circuit adapter calls")
	}
	if res.SeriesTitle != "My Show" {
		t.Fatalf("expected cached series title, got %q", res.SeriesTitle)
	}
}

func TestResolveOnceSkipsRetryWhenFailureMemoized(t *testing.T) {
	cache := newFakeCache()
	cache.failures["/lib/Unknown/file.mkv"] = &model.ProviderFailure{Reason: model.ReasonNoMatch, AttemptCount: 1}

	called := false
	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			called = true
			return nil, nil
		}},
	}

	r := New(adapters, cache, nil, nil)
	_, err := r.Resolve(context.Background(), Input{
		CanonicalPath: "/lib/Unknown/file.mkv",
		LibraryRoot:   "/lib",
		ProviderOrder: []model.ProviderID{model.ProviderTMDB},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if called {
		t.Fatalf("expected memoized failure to skip adapter calls")
	}
	if len(cache.skipped) != 1 || cache.skipped[0] != "/lib/Unknown/file.mkv" {
		t.Fatalf("expected MarkFailureSkip to be recorded, got %v", cache.skipped)
	}
}

func TestResolveOnceForceBypassesMemoizedFailure(t *testing.T) {
	cache := newFakeCache()
	cache.failures["/lib/Show/S01E01.mkv"] = &model.ProviderFailure{Reason: model.ReasonNoMatch, AttemptCount: 1}

	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			return tmdbCandidate("Show"), nil
		}},
	}

	r := New(adapters, cache, nil, nil)
	res, err := r.Resolve(context.Background(), Input{
		CanonicalPath: "/lib/Show/S01E01.mkv",
		LibraryRoot:   "/lib",
		ProviderOrder: []model.ProviderID{model.ProviderTMDB},
		Force:         true,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.SeriesTitle != "Show" {
		t.Fatalf("expected Force to bypass memoized failure and produce a fresh match, got %+v", res)
	}
	if len(cache.cleared) != 1 {
		t.Fatalf("expected ClearFailure to run after a fresh match, got %v", cache.cleared)
	}
}

func TestResolveOnceRecordsFailureWhenNoProviderMatches(t *testing.T) {
	cache := newFakeCache()
	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB},
	}

	r := New(adapters, cache, nil, nil)
	res, err := r.Resolve(context.Background(), Input{
		CanonicalPath: "/lib/Show/S01E01.mkv",
		LibraryRoot:   "/lib",
		ProviderOrder: []model.ProviderID{model.ProviderTMDB},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Provider != nil {
		t.Fatalf("expected no provider block on failure, got %+v", res.Provider)
	}
	if _, ok := cache.failures["/lib/Show/S01E01.mkv"]; !ok {
		t.Fatalf("expected RecordFailure to be called")
	}
}

func TestResolveOnceFallsThroughProvidersInOrder(t *testing.T) {
	cache := newFakeCache()
	var calledTVDB, calledTMDB bool
	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTVDB: &fakeAdapter{id: model.ProviderTVDB, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			calledTVDB = true
			return nil, nil
		}},
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			calledTMDB = true
			return tmdbCandidate("Fallback Show"), nil
		}},
	}

	r := New(adapters, cache, nil, nil)
	res, err := r.Resolve(context.Background(), Input{
		CanonicalPath: "/lib/Fallback Show/S01E01.mkv",
		LibraryRoot:   "/lib",
		ProviderOrder: []model.ProviderID{model.ProviderTVDB, model.ProviderTMDB},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !calledTVDB || !calledTMDB {
		t.Fatalf("expected both providers to be tried, tvdb=%v tmdb=%v", calledTVDB, calledTMDB)
	}
	if res.SeriesTitle != "Fallback Show" {
		t.Fatalf("expected fallback provider's candidate, got %+v", res)
	}
}

func TestResolveOnceUsesManualSeriesIDOverride(t *testing.T) {
	cache := newFakeCache()
	manual := &fakeManualIDs{series: map[string]*model.ManualSeriesIDs{
		"manual show": {TMDB: "999"},
	}}

	var searchCalled, fetchByIDCalled bool
	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTMDB: &fakeAdapter{
			id: model.ProviderTMDB,
			searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
				searchCalled = true
				return tmdbCandidate("Wrong Match"), nil
			},
			fetchByIDFn: func(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error) {
				fetchByIDCalled = true
				if id != "999" {
					t.Fatalf("expected manual id 999, got %s", id)
				}
				return tmdbCandidate("Manual Show"), nil
			},
		},
	}

	r := New(adapters, cache, manual, nil)
	res, err := r.Resolve(context.Background(), Input{
		CanonicalPath: "/lib/Manual Show/S01E01.mkv",
		LibraryRoot:   "/lib",
		ProviderOrder: []model.ProviderID{model.ProviderTMDB},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !fetchByIDCalled {
		t.Fatalf("expected manual series ID to trigger FetchByID")
	}
	if searchCalled {
		t.Fatalf("expected manual series ID override to short-circuit SearchSeries")
	}
	if res.SeriesTitle != "Manual Show" {
		t.Fatalf("expected manual override candidate, got %+v", res)
	}
}

func TestBuildSeriesCandidatesElevatesParentFolderWhenFilenameIsEpisodeLike(t *testing.T) {
	parsed := &model.ParsedEntry{Title: "", StartsWithEp: true}
	candidates := buildSeriesCandidates("My Show/Season 1/S01E01.mkv", parsed)
	if len(candidates) == 0 || candidates[0] != "My Show" {
		t.Fatalf("expected parent folder elevated to first candidate, got %v", candidates)
	}
}

func TestBuildSeriesCandidatesSkipsSeasonAndExtrasFolders(t *testing.T) {
	parsed := &model.ParsedEntry{Title: "Some Title"}
	candidates := buildSeriesCandidates("My Show/Season 02/Extras/file.mkv", parsed)
	for _, c := range candidates {
		if c == "Extras" || c == "Season 02" {
			t.Fatalf("expected season/extras folders excluded, got %v", candidates)
		}
	}
	found := false
	for _, c := range candidates {
		if c == "My Show" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nearest non-season parent folder present, got %v", candidates)
	}
}

func TestBuildSeriesCandidatesIncludesCleanedBracketedVariant(t *testing.T) {
	parsed := &model.ParsedEntry{Title: "[Group] My.Show"}
	candidates := buildSeriesCandidates("file.mkv", parsed)
	found := false
	for _, c := range candidates {
		if c == "My Show" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a cleaned candidate without brackets/punctuation, got %v", candidates)
	}
}

func TestSegmentProvidersSplitsAtAniDBBoundaries(t *testing.T) {
	order := []model.ProviderID{model.ProviderAniDB, model.ProviderTVDB, model.ProviderTMDB, model.ProviderAniDB, model.ProviderKitsu}
	segs := segmentProviders(order)
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments (AniDB, batch, AniDB, batch), got %d: %+v", len(segs), segs)
	}
	if !segs[0].AniDB {
		t.Fatalf("expected first segment to be AniDB, got %+v", segs[0])
	}
	if segs[1].AniDB || len(segs[1].Providers) != 2 {
		t.Fatalf("expected second batched segment of 2, got %+v", segs[1])
	}
	if !segs[2].AniDB {
		t.Fatalf("expected third segment to be AniDB, got %+v", segs[2])
	}
	if segs[3].AniDB || len(segs[3].Providers) != 1 || segs[3].Providers[0] != model.ProviderKitsu {
		t.Fatalf("expected trailing batched segment of Kitsu, got %+v", segs[3])
	}
}

func TestOrderWithManualFirstMovesHintedProvidersToFront(t *testing.T) {
	order := []model.ProviderID{model.ProviderTVDB, model.ProviderAniList, model.ProviderTMDB}
	hint := []model.ProviderID{model.ProviderTMDB}
	got := orderWithManualFirst(order, hint)
	want := []model.ProviderID{model.ProviderTMDB, model.ProviderTVDB, model.ProviderAniList}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestOrderWithManualFirstNoHintReturnsOriginalOrder(t *testing.T) {
	order := []model.ProviderID{model.ProviderTVDB, model.ProviderTMDB}
	got := orderWithManualFirst(order, nil)
	if len(got) != 2 || got[0] != model.ProviderTVDB || got[1] != model.ProviderTMDB {
		t.Fatalf("expected unchanged order, got %v", got)
	}
}

func TestResolveAniListSequelRefetchesParentWhenEpisodeNotYetAired(t *testing.T) {
	next := 3
	cand := &providers.SeriesCandidate{
		ID:                "200",
		TitleExact:        "Sequel Season",
		NextAiringEpisode: &next,
		Relations: []providers.Relation{
			{Kind: providers.RelationPrequel, ID: "100"},
		},
	}
	episode := 10
	parsed := &model.ParsedEntry{Episode: &episode}

	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderAniList: &fakeAdapter{
			id: model.ProviderAniList,
			fetchByIDFn: func(ctx context.Context, id string, opts providers.FetchOpts) (*providers.SeriesCandidate, error) {
				if id != "100" {
					t.Fatalf("expected prequel id 100, got %s", id)
				}
				return &providers.SeriesCandidate{ID: "100", TitleExact: "Original Season"}, nil
			},
		},
	}

	r := New(adapters, newFakeCache(), nil, nil)
	got := r.resolveAniListSequel(context.Background(), cand, parsed)
	if got.TitleExact != "Original Season" {
		t.Fatalf("expected re-fetched parent candidate, got %+v", got)
	}
}

func TestResolveAniListSequelKeepsCandidateWhenEpisodeAlreadyAired(t *testing.T) {
	next := 12
	cand := &providers.SeriesCandidate{ID: "200", TitleExact: "Current Season", NextAiringEpisode: &next}
	episode := 5
	parsed := &model.ParsedEntry{Episode: &episode}

	r := New(nil, newFakeCache(), nil, nil)
	got := r.resolveAniListSequel(context.Background(), cand, parsed)
	if got != cand {
		t.Fatalf("expected unchanged candidate when episode already aired, got %+v", got)
	}
}

func TestFillEpisodeTitleWalksFallbackChainRejectingPlaceholders(t *testing.T) {
	block := &model.ProviderBlock{ID: "series-1"}
	season, episode := 1, 4
	block.Season = &season
	block.Episode = &episode

	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTVDB: &fakeAdapter{id: model.ProviderTVDB, fetchEpisodeFn: func(ctx context.Context, seriesRef string, s, e int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
			return &providers.EpisodeHit{Title: "Episode 4", Placeholder: true}, nil
		}},
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB, fetchEpisodeFn: func(ctx context.Context, seriesRef string, s, e int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
			return &providers.EpisodeHit{Title: "第四話"}, nil
		}},
		model.ProviderWikipedia: &fakeAdapter{id: model.ProviderWikipedia, fetchEpisodeFn: func(ctx context.Context, seriesRef string, s, e int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
			return &providers.EpisodeHit{Title: "The Real Title", Year: "2022"}, nil
		}},
	}

	r := New(adapters, newFakeCache(), nil, nil)
	r.fillEpisodeTitle(context.Background(), Input{}, block)

	if block.EpisodeTitle != "The Real Title" {
		t.Fatalf("expected chain to skip placeholder and non-Latin titles, got %q", block.EpisodeTitle)
	}
	if block.Year != "2022" {
		t.Fatalf("expected episode year to backfill block year, got %q", block.Year)
	}
}

func TestFillEpisodeTitlePrefersManualAniDBEpisodeID(t *testing.T) {
	block := &model.ProviderBlock{ID: "series-1"}
	season, episode := 1, 4
	block.Season = &season
	block.Episode = &episode

	manual := &fakeManualIDs{paths: map[string]*model.ManualPathIDs{
		"/lib/Show/S01E04.mkv": {AniDBEpisode: "ep-42"},
	}}

	var tvdbCalled bool
	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderAniDB: &fakeAdapter{id: model.ProviderAniDB, fetchEpisodeFn: func(ctx context.Context, seriesRef string, s, e int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
			if seriesRef != "ep-42" {
				t.Fatalf("expected manual AniDB episode ref, got %s", seriesRef)
			}
			return &providers.EpisodeHit{Title: "Manual Title"}, nil
		}},
		model.ProviderTVDB: &fakeAdapter{id: model.ProviderTVDB, fetchEpisodeFn: func(ctx context.Context, seriesRef string, s, e int, opts providers.FetchOpts) (*providers.EpisodeHit, error) {
			tvdbCalled = true
			return &providers.EpisodeHit{Title: "Should Not Win"}, nil
		}},
	}

	r := New(adapters, newFakeCache(), manual, nil)
	r.fillEpisodeTitle(context.Background(), Input{CanonicalPath: "/lib/Show/S01E04.mkv"}, block)

	if block.EpisodeTitle != "Manual Title" {
		t.Fatalf("expected manual AniDB episode to win, got %q", block.EpisodeTitle)
	}
	if tvdbCalled {
		t.Fatalf("expected fallback chain skipped once manual AniDB episode matched")
	}
}

func TestResolveYearFallsBackOnlyWhenProviderYearEmpty(t *testing.T) {
	block := &model.ProviderBlock{Year: "2010"}
	resolveYear(block, &model.ParsedEntry{Year: "1999"})
	if block.Year != "2010" {
		t.Fatalf("expected provider year to win, got %q", block.Year)
	}

	block2 := &model.ProviderBlock{}
	resolveYear(block2, &model.ParsedEntry{Year: "1999"})
	if block2.Year != "1999" {
		t.Fatalf("expected fallback to parsed year, got %q", block2.Year)
	}
}

func TestInferMediaFormatMovieSignalWithoutSeriesSignal(t *testing.T) {
	block := &model.ProviderBlock{MediaFormat: "MOVIE"}
	res := &Result{}
	inferMediaFormat(res, block)
	if res.IsMovie == nil || !*res.IsMovie {
		t.Fatalf("expected isMovie=true, got %+v", res.IsMovie)
	}
}

func TestInferMediaFormatSeriesSignalWithoutMovieSignal(t *testing.T) {
	block := &model.ProviderBlock{MediaFormat: "TV"}
	res := &Result{}
	inferMediaFormat(res, block)
	if res.IsMovie == nil || *res.IsMovie {
		t.Fatalf("expected isMovie=false, got %+v", res.IsMovie)
	}
}

func TestInferMediaFormatAmbiguousLeavesUnknown(t *testing.T) {
	block := &model.ProviderBlock{MediaFormat: "MOVIE TV SPECIAL"}
	res := &Result{}
	inferMediaFormat(res, block)
	if res.IsMovie != nil {
		t.Fatalf("expected isMovie left nil on conflicting signals, got %v", *res.IsMovie)
	}
}

func TestInferMediaFormatPrefersAlreadySetIsMovie(t *testing.T) {
	v := true
	block := &model.ProviderBlock{IsMovie: &v, MediaFormat: "TV"}
	res := &Result{}
	inferMediaFormat(res, block)
	if res.IsMovie == nil || !*res.IsMovie {
		t.Fatalf("expected pre-set IsMovie to pass through unchanged, got %+v", res.IsMovie)
	}
}

func TestSequelIndexExtractsTrailingNumeral(t *testing.T) {
	if got, ok := SequelIndex("My Movie Part II"); !ok || got != "II" {
		t.Fatalf("expected trailing roman numeral II, got %q ok=%v", got, ok)
	}
	if got, ok := SequelIndex("My Movie 3"); !ok || got != "3" {
		t.Fatalf("expected trailing arabic numeral 3, got %q ok=%v", got, ok)
	}
	if _, ok := SequelIndex("My Movie"); ok {
		t.Fatalf("expected no match for a title without a trailing numeral")
	}
}

func TestSkipAnimeProvidersSkipsAniListAndKitsu(t *testing.T) {
	cache := newFakeCache()
	var anilistCalled, kitsuCalled, tmdbCalled bool
	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderAniList: &fakeAdapter{id: model.ProviderAniList, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			anilistCalled = true
			return tmdbCandidate("anilist"), nil
		}},
		model.ProviderKitsu: &fakeAdapter{id: model.ProviderKitsu, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			kitsuCalled = true
			return tmdbCandidate("kitsu"), nil
		}},
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			tmdbCalled = true
			return tmdbCandidate("Non-Anime Show"), nil
		}},
	}

	r := New(adapters, cache, nil, nil)
	res, err := r.Resolve(context.Background(), Input{
		CanonicalPath:      "/lib/Non-Anime Show/S01E01.mkv",
		LibraryRoot:        "/lib",
		ProviderOrder:      []model.ProviderID{model.ProviderAniList, model.ProviderKitsu, model.ProviderTMDB},
		SkipAnimeProviders: true,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if anilistCalled || kitsuCalled {
		t.Fatalf("expected AniList/Kitsu skipped, anilist=%v kitsu=%v", anilistCalled, kitsuCalled)
	}
	if !tmdbCalled {
		t.Fatalf("expected TMDB still tried")
	}
	if res.SeriesTitle != "Non-Anime Show" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestResolveSameCanonicalPathConcurrentlyDedupesViaSingleflight(t *testing.T) {
	cache := newFakeCache()
	var callCount int
	block := make(chan struct{})
	first := true

	adapters := map[model.ProviderID]providers.Adapter{
		model.ProviderTMDB: &fakeAdapter{id: model.ProviderTMDB, searchFn: func(ctx context.Context, query string, opts providers.SearchOpts) (*providers.SeriesCandidate, error) {
			callCount++
			if first {
				first = false
				<-block
			}
			return tmdbCandidate("Dedup Show"), nil
		}},
	}

	r := New(adapters, cache, nil, nil)
	in := Input{CanonicalPath: "/lib/Dedup Show/S01E01.mkv", LibraryRoot: "/lib", ProviderOrder: []model.ProviderID{model.ProviderTMDB}}

	done := make(chan *Result, 2)
	go func() {
		res, _ := r.Resolve(context.Background(), in)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	go func() {
		res, _ := r.Resolve(context.Background(), in)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	close(block)

	r1 := <-done
	r2 := <-done
	if callCount != 1 {
		t.Fatalf("expected singleflight to dedupe concurrent calls into one adapter invocation, got %d", callCount)
	}
	if r1.SeriesTitle != "Dedup Show" || r2.SeriesTitle != "Dedup Show" {
		t.Fatalf("expected both callers to get the resolved result, got %+v / %+v", r1, r2)
	}
}
