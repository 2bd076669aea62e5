// Package resolver implements the metadata resolver (spec.md §4.5, C9):
// orchestrates provider adapters in caller-specified order, merges their
// results into one ProviderBlock, and memoizes failures. Orchestration
// shape is grounded on the teacher's internal/importer.Importer.Import
// three-phase (prepare/execute/notify) structure, generalized here to a
// parse -> candidate-build -> provider-segments -> merge pipeline.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vmunix/arrgo-renamer/internal/canonpath"
	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/parser"
	"github.com/vmunix/arrgo-renamer/internal/providers"
)

// Cache is the subset of the enrichment cache manager (C10) the resolver
// needs: cached-result short-circuiting and failure memoization. Defined
// here (not imported from internal/enrich) so the two packages don't form
// an import cycle - internal/enrich will implement this interface.
type Cache interface {
	Get(ctx context.Context, key string) (*model.EnrichEntry, bool, error)
	RecordFailure(ctx context.Context, key string, pf model.ProviderFailure) error
	MarkFailureSkip(ctx context.Context, key string) error
	ClearFailure(ctx context.Context, key string) error
}

// ManualIDs resolves user-pinned provider IDs, per spec.md §4.5 ("Manual
// IDs, if present, reorder providers so manual-ID providers attempt
// first").
type ManualIDs interface {
	SeriesIDs(ctx context.Context, seriesKey string) (*model.ManualSeriesIDs, bool)
	PathIDs(ctx context.Context, canonicalPath string) (*model.ManualPathIDs, bool)
}

// Input carries everything one resolve call needs (spec.md §4.5 inputs).
type Input struct {
	CanonicalPath      string
	Username           string
	LibraryRoot        string
	ProviderOrder      []model.ProviderID
	TMDBKey            string
	TVDBUserPIN        string
	Force              bool
	ForceHash          bool
	SkipAnimeProviders bool
}

// Result is the merged resolver output (spec.md §4.5 output shape).
type Result struct {
	Title               string
	SeriesTitle         string
	SeriesTitleEnglish  string
	SeriesTitleRomaji   string
	SeriesTitleExact    string
	OriginalSeriesTitle string
	Year                string
	Season              *int
	Episode             *int
	EpisodeTitle        string
	EpisodeRange        string
	IsMovie             *bool
	MediaFormat         string
	Provider            *model.ProviderBlock
	Source              string
	ExtraGuess          string
	Parsed              *model.ParsedEntry
}

// Resolver orchestrates the provider adapters.
type Resolver struct {
	adapters map[model.ProviderID]providers.Adapter
	cache    Cache
	manual   ManualIDs
	log      *slog.Logger

	sf singleflight.Group
}

// New builds a Resolver over the given adapter set.
func New(adapters map[model.ProviderID]providers.Adapter, cache Cache, manual ManualIDs, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{adapters: adapters, cache: cache, manual: manual, log: log.With("component", "resolver")}
}

// Resolve runs the full pipeline for one file, collapsing concurrent calls
// for the same canonical path into one in-flight lookup via singleflight
// (spec.md §5: "serialize updates to a single key").
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Result, error) {
	v, err, _ := r.sf.Do(in.CanonicalPath, func() (interface{}, error) {
		return r.resolveOnce(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (r *Resolver) resolveOnce(ctx context.Context, in Input) (*Result, error) {
	key := in.CanonicalPath

	cached, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolver: cache lookup %s: %w", key, err)
	}

	if ok && !in.Force {
		if cached.ProviderFailure != nil {
			if err := r.cache.MarkFailureSkip(ctx, key); err != nil {
				r.log.Warn("mark failure skip", "path", key, "error", err)
			}
			return resultFromEntry(cached), nil
		}
		if cached.Provider.Complete() {
			return resultFromEntry(cached), nil
		}
	}

	rel := canonpath.StripRoot(key, in.LibraryRoot)
	basename := path.Base(rel)
	parsed := parser.Parse(basename)

	candidates := buildSeriesCandidates(rel, parsed)
	if len(candidates) == 0 {
		res := &Result{Parsed: parsed, Title: parsed.Title, Season: parsed.Season, Episode: parsed.Episode, EpisodeRange: parsed.EpisodeRange, Year: parsed.Year}
		if err := r.cache.RecordFailure(ctx, key, model.ProviderFailure{
			Reason: model.ReasonNoMatch, AttemptCount: 1, FirstAttemptAt: time.Now(), LastAttemptAt: time.Now(),
		}); err != nil {
			r.log.Warn("record failure", "path", key, "error", err)
		}
		return res, nil
	}

	segments := segmentProviders(orderWithManualFirst(in.ProviderOrder, r.manualOrderHint(ctx, candidates[0])))

	block, source, err := r.runSegments(ctx, in, candidates, parsed, segments)
	if err != nil {
		return nil, err
	}

	if block == nil || !block.Matched {
		reason := model.ReasonNoMatch
		lastErr := ""
		if err != nil {
			reason = model.ReasonError
			lastErr = err.Error()
		}
		if recErr := r.cache.RecordFailure(ctx, key, model.ProviderFailure{
			Reason: reason, LastError: lastErr, AttemptCount: 1, FirstAttemptAt: time.Now(), LastAttemptAt: time.Now(),
		}); recErr != nil {
			r.log.Warn("record failure", "path", key, "error", recErr)
		}
		return &Result{Parsed: parsed, Title: parsed.Title, Season: parsed.Season, Episode: parsed.Episode, EpisodeRange: parsed.EpisodeRange, Year: parsed.Year}, nil
	}

	if err := r.cache.ClearFailure(ctx, key); err != nil {
		r.log.Warn("clear failure", "path", key, "error", err)
	}

	res := mergeResult(parsed, block, source)
	inferMediaFormat(res, block)
	return res, nil
}

func (r *Resolver) manualOrderHint(ctx context.Context, seriesCandidate string) []model.ProviderID {
	if r.manual == nil {
		return nil
	}
	ids, ok := r.manual.SeriesIDs(ctx, normalizeSeriesKey(seriesCandidate))
	if !ok || ids == nil {
		return nil
	}
	var first []model.ProviderID
	if ids.AniList != "" {
		first = append(first, model.ProviderAniList)
	}
	if ids.TVDB != "" {
		first = append(first, model.ProviderTVDB)
	}
	if ids.TMDB != "" {
		first = append(first, model.ProviderTMDB)
	}
	return first
}

func normalizeSeriesKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func resultFromEntry(e *model.EnrichEntry) *Result {
	return &Result{
		Title:               e.Title,
		SeriesTitle:         e.SeriesTitle,
		SeriesTitleEnglish:  e.SeriesTitleEnglish,
		SeriesTitleRomaji:   e.SeriesTitleRomaji,
		SeriesTitleExact:    e.SeriesTitleExact,
		OriginalSeriesTitle: e.OriginalSeriesTitle,
		Year:                e.Year,
		Season:              e.Season,
		Episode:             e.Episode,
		EpisodeTitle:        e.EpisodeTitle,
		EpisodeRange:        e.EpisodeRange,
		IsMovie:             e.IsMovie,
		MediaFormat:         e.MediaFormat,
		Provider:            e.Provider,
		Parsed:              e.Parsed,
		ExtraGuess:          e.ExtraGuess,
	}
}

func mergeResult(parsed *model.ParsedEntry, block *model.ProviderBlock, source string) *Result {
	res := &Result{
		Parsed:              parsed,
		Title:               block.Title,
		SeriesTitle:         block.SeriesTitleExact,
		SeriesTitleEnglish:  block.SeriesTitleEnglish,
		SeriesTitleRomaji:   block.SeriesTitleRomaji,
		SeriesTitleExact:    block.SeriesTitleExact,
		OriginalSeriesTitle: block.OriginalSeriesTitle,
		Year:                block.Year,
		Season:              block.Season,
		Episode:             block.Episode,
		EpisodeTitle:        block.EpisodeTitle,
		IsMovie:             block.IsMovie,
		MediaFormat:         block.MediaFormat,
		Provider:            block,
		Source:              source,
	}
	if res.Title == "" {
		res.Title = parsed.Title
	}
	if res.Season == nil {
		res.Season = parsed.Season
	}
	if res.Episode == nil {
		res.Episode = parsed.Episode
	}
	if res.EpisodeRange == "" {
		res.EpisodeRange = parsed.EpisodeRange
	}
	if res.Year == "" {
		res.Year = parsed.Year
	}
	return res
}

func candidateToSeriesCandidate(c *providers.SeriesCandidate) *model.ProviderBlock {
	return &model.ProviderBlock{
		Title:                c.TitleExact,
		SeriesTitleEnglish:   c.TitleEnglish,
		SeriesTitleRomaji:    c.TitleRomaji,
		SeriesTitleExact:     c.TitleExact,
		OriginalSeriesTitle:  c.OriginalTitle,
		Year:                 c.Year,
		IsMovie:              c.IsMovie,
		MediaFormat:          c.MediaFormat,
		DetectedSeasonNumber: c.DetectedSeasonNumber,
		Matched:              true,
	}
}

