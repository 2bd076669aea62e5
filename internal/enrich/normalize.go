package enrich

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers/anilist"
)

var titleCaser = cases.Title(language.Und)

// normalizeEnrichEntry runs the fixed sequence of cleanups spec.md §4.6
// requires on every update, in order: source coercion, colon-before-Part-N
// stripping, season-suffix stripping, parent-fallback override, confident-
// parsed-title preference, then apostrophe/quote and all-caps cleanup.
func normalizeEnrichEntry(e *model.EnrichEntry) {
	coerceProviderSource(e)
	stripColonBeforePartN(e)
	stripSeasonSuffixes(e)
	overrideParentFallback(e)
	preferConfidentParsedTitle(e)
	enforceQuoteAndCaseStyle(e)
}

// coerceProviderSource guards against a provider adapter writing a stray
// serialized-object artifact into Source (e.g. a retry path that forgot to
// unwrap a result before assigning it) - Source is always a plain string in
// this model, so any value carrying brace/bracket characters is corrupted
// and reset to empty rather than persisted.
func coerceProviderSource(e *model.EnrichEntry) {
	if e.Provider == nil {
		return
	}
	if strings.ContainsAny(e.Provider.Source, "{}[]") {
		e.Provider.Source = ""
	}
}

var partNRegex = regexp.MustCompile(`:\s*(Part\s+\d+)`)

// stripColonBeforePartN turns "Deathly Hallows: Part 1" into
// "Deathly Hallows Part 1" (spec.md §4.6).
func stripColonBeforePartN(e *model.EnrichEntry) {
	e.Title = partNRegex.ReplaceAllString(e.Title, " $1")
	e.SeriesTitle = partNRegex.ReplaceAllString(e.SeriesTitle, " $1")
	e.SeriesTitleExact = partNRegex.ReplaceAllString(e.SeriesTitleExact, " $1")
	e.SeriesTitleEnglish = partNRegex.ReplaceAllString(e.SeriesTitleEnglish, " $1")
}

func isMovie(e *model.EnrichEntry) bool {
	return e.IsMovie != nil && *e.IsMovie
}

// stripSeasonSuffixes removes "Season N"-style suffixes from seriesTitle/
// title for non-movies, using the AniList-aware stripper shared with the
// anilist adapter's own candidate scoring (spec.md §4.6: "using the
// AniList-aware stripper").
func stripSeasonSuffixes(e *model.EnrichEntry) {
	if isMovie(e) {
		return
	}
	e.Title = anilist.StripSeasonSuffix(e.Title)
	e.SeriesTitle = anilist.StripSeasonSuffix(e.SeriesTitle)
	e.SeriesTitleExact = anilist.StripSeasonSuffix(e.SeriesTitleExact)
	e.SeriesTitleEnglish = anilist.StripSeasonSuffix(e.SeriesTitleEnglish)
}

// overrideParentFallback replaces seriesTitle with the relation-resolved
// child title when the cached provider block carries one (spec.md §4.6:
// "the cached provider looks like a parent fallback, override seriesTitle
// with the matching child relation's title").
func overrideParentFallback(e *model.EnrichEntry) {
	if e.Provider == nil || e.Provider.ParentSeriesTitle == "" {
		return
	}
	if e.SeriesTitleExact == e.Provider.ParentSeriesTitle {
		return
	}
	e.SeriesTitle = e.Provider.ParentSeriesTitle
	e.SeriesTitleExact = e.Provider.ParentSeriesTitle
}

// confidentTitleMinLen: a parsed title (trimmed) must be longer than this
// to count as trustworthy enough to override a parent-ish provider title
// (spec.md §4.6).
const confidentTitleMinLen = 2

// preferConfidentParsedTitle prefers the parsed filename title over a
// provider title that looks like a parent series (shorter than, and a
// prefix of, the parsed title) when the parsed title is long enough to be
// confident (spec.md §4.6).
func preferConfidentParsedTitle(e *model.EnrichEntry) {
	if e.Parsed == nil || len(strings.TrimSpace(e.Parsed.Title)) <= confidentTitleMinLen {
		return
	}
	parsed := strings.TrimSpace(e.Parsed.Title)
	if e.SeriesTitleExact == "" {
		return
	}
	if len(e.SeriesTitleExact) >= len(parsed) {
		return
	}
	if !strings.HasPrefix(strings.ToLower(parsed), strings.ToLower(e.SeriesTitleExact)) {
		return
	}
	e.SeriesTitle = parsed
	e.SeriesTitleExact = parsed
}

var (
	curlyApostrophe = strings.NewReplacer("‘", "'", "’", "'", "“", "\"", "”", "\"")
	allCapsRegex    = regexp.MustCompile(`^[^a-z]*[A-Z]{2}[^a-z]*$`)
)

// enforceQuoteAndCaseStyle straightens curly quotes/apostrophes to ASCII
// and title-cases any field that is entirely upper-case (spec.md §4.6).
func enforceQuoteAndCaseStyle(e *model.EnrichEntry) {
	e.Title = straightenAndCase(e.Title)
	e.SeriesTitle = straightenAndCase(e.SeriesTitle)
	e.SeriesTitleExact = straightenAndCase(e.SeriesTitleExact)
	e.SeriesTitleEnglish = straightenAndCase(e.SeriesTitleEnglish)
	e.EpisodeTitle = straightenAndCase(e.EpisodeTitle)
}

func straightenAndCase(s string) string {
	if s == "" {
		return s
	}
	s = curlyApostrophe.Replace(s)
	if allCapsRegex.MatchString(s) {
		s = titleCaser.String(strings.ToLower(s))
	}
	return s
}
