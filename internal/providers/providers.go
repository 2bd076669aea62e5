// Package providers defines the common contract every metadata provider
// adapter implements (spec.md §4.4, C8). Each concrete adapter lives in its
// own subpackage (anidb, anilist, tvdb, tmdb, wikipedia, kitsu).
package providers

import (
	"context"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

// SearchOpts carries the season hint and strictness knobs a search needs.
type SearchOpts struct {
	Season        *int
	ParentFolder  bool // true when the query came from a parent-folder candidate (stricter threshold, spec.md §4.5)
	SkipAnimeOnly bool
}

// FetchOpts carries per-call overrides (API keys, force flags).
type FetchOpts struct {
	Force     bool
	ForceHash bool
}

// RelationKind tags an AniList-style relation edge (spec.md §9).
type RelationKind string

const (
	RelationParent      RelationKind = "PARENT"
	RelationPrequel     RelationKind = "PREQUEL"
	RelationSequel      RelationKind = "SEQUEL"
	RelationSource      RelationKind = "SOURCE"
	RelationSideStory   RelationKind = "SIDE_STORY"
	RelationAlternative RelationKind = "ALTERNATIVE"
	RelationOther       RelationKind = "OTHER"
)

// Relation points at another candidate by external ID, tagged with its
// relation to the current one.
type Relation struct {
	Kind RelationKind
	ID   string
}

// SeriesCandidate is the best match a provider found for a series query.
type SeriesCandidate struct {
	ID                  string
	TitleEnglish        string
	TitleRomaji         string
	TitleExact          string
	OriginalTitle       string
	Year                string
	IsMovie             *bool
	MediaFormat         string
	Relations           []Relation
	NextAiringEpisode   *int
	DetectedSeasonNumber *int
	Score               float64
	Raw                 any
}

// EpisodeHit is what a provider returned for one (series, season, episode).
type EpisodeHit struct {
	Title       string
	Year        string
	AirDate     string
	Placeholder bool // true for "Episode 13"-style non-titles
	Raw         any
}

// Adapter is implemented by each provider package.
type Adapter interface {
	ID() model.ProviderID
	SearchSeries(ctx context.Context, query string, opts SearchOpts) (*SeriesCandidate, error)
	FetchEpisode(ctx context.Context, seriesRef string, season, episode int, opts FetchOpts) (*EpisodeHit, error)
	FetchByID(ctx context.Context, id string, opts FetchOpts) (*SeriesCandidate, error)
}

// IsPlaceholderTitle reports whether an episode title is a stand-in like
// "Episode 13", "Ep. 3", or a pure numeral - rejected per spec.md §4.5's
// episode-title fallback chain.
func IsPlaceholderTitle(title string) bool {
	return placeholderRegex.MatchString(title) || isPureNumeric(title)
}
