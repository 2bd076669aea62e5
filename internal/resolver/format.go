package resolver

import (
	"regexp"
	"strings"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

// resolveYear applies spec.md §4.5's year resolution order: episode
// air-date (specials only) -> series/season start date -> AniList
// startDate.year -> TVDB episode air-date (preferred over series date) ->
// TMDB release dates -> parsed filename year. Provider adapters already
// populate block.Year with their own best year per their own contract
// (TVDB prefers episode date internally, AniList prefers startDate/season
// year), so this only falls back to the parsed year when nothing upstream
// supplied one. Specials (season 0) get no separate handling here: an
// episode air-date year is used only if an adapter already put it in
// block.Year.
func resolveYear(block *model.ProviderBlock, parsed *model.ParsedEntry) {
	if block.Year != "" {
		return
	}
	if parsed.Year != "" {
		block.Year = parsed.Year
	}
}

// movieTokens and seriesTokens are the substrings a raw provider payload may carry
// that identify whether a title is a movie or a series (spec.md §4.5).
var movieTokens = []string{"MOVIE", "FILM"}
var seriesTokens = []string{"TV", "TV_SHORT", "OVA", "ONA", "SPECIAL", "first_air_date"}

// inferMediaFormat implements spec.md §4.5's media-format inference rule:
// "A movie signal without an opposing series signal sets isMovie = true;
// otherwise false; else unknown (leave as null)."
func inferMediaFormat(res *Result, block *model.ProviderBlock) {
	if block.IsMovie != nil {
		res.IsMovie = block.IsMovie
		res.MediaFormat = block.MediaFormat
		return
	}

	upper := strings.ToUpper(block.MediaFormat)
	hasMovie := containsAny(upper, movieTokens)
	hasSeries := containsAny(upper, seriesTokens)

	switch {
	case hasMovie && !hasSeries:
		v := true
		res.IsMovie = &v
	case hasSeries && !hasMovie:
		v := false
		res.IsMovie = &v
	default:
		res.IsMovie = nil
	}
	res.MediaFormat = block.MediaFormat
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// sequelIndexRegex extracts a trailing Roman or Arabic numeral (optionally
// preceded by "Part") from a movie title. Only tests call SequelIndex; the
// render engine does not substitute sequel titles.
var sequelIndexRegex = regexp.MustCompile(`(?i)\b(part\s*)?([ivx]+|\d+)\s*$`)

// SequelIndex returns the trailing numeral index of a movie title, if any.
func SequelIndex(title string) (string, bool) {
	m := sequelIndexRegex.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return m[2], true
}
