// Package render implements the render engine (spec.md §4.8, C11): template
// expansion of an EnrichEntry into a sanitized, OS-truncated filename and
// folder path. The token-substitution core is a generalization of the
// teacher's internal/importer/renamer.go applyTemplate ({name}/{name:02}
// regex substitution over a var map); sanitize/truncate generalizes
// internal/importer/sanitize.go's SanitizeFilename to the OS-aware byte
// budgets this spec requires.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

// DefaultTemplate is the spec's default rename template (spec.md §4.8).
const DefaultTemplate = "{title} ({year}) - {epLabel} - {episodeTitle}"

// ClientOS selects the byte budget used for basename truncation (spec.md
// §6.2 client_os / §4.8 point 8).
type ClientOS string

const (
	OSWindows ClientOS = "windows"
	OSMac     ClientOS = "mac"
	OSLinux   ClientOS = "linux"
)

// maxBasenameBytes are the OS-specific basename (without extension) byte
// budgets (spec.md §4.8 point 8, §8 property 5).
var maxBasenameBytes = map[ClientOS]int{
	OSWindows: 200,
	OSMac:     240,
	OSLinux:   240,
}

func limitFor(os ClientOS) int {
	if n, ok := maxBasenameBytes[os]; ok {
		return n
	}
	return maxBasenameBytes[OSLinux]
}

// tokenPattern matches {name} placeholders - no zero-pad specifier needed
// for the spec's token set, unlike the teacher's {name:02} quality/season
// template vars, since epLabel is pre-formatted by formatEpLabel below.
var tokenPattern = regexp.MustCompile(`\{(\w+)\}`)

// Plan is one file's computed rename target (spec.md §4.8/§4.9).
type Plan struct {
	IsMovie          bool
	SeriesFolder     string // sanitized, titlecased series name, no year
	SeasonFolder     string // "Season NN", empty for movies
	MovieFolder      string // "{Title} ({Year})", empty for series
	Basename         string // sanitized, truncated, without extension
	MetadataFilename string // Basename (alias, spec §4.9 step 6)
}

// RelativePath returns the plan's folder+basename (no extension) joined
// with "/", the layout described in spec.md §4.8 "Folder layout".
func (p *Plan) RelativePath() string {
	if p.IsMovie {
		return p.MovieFolder + "/" + p.Basename
	}
	if p.SeasonFolder != "" {
		return p.SeriesFolder + "/" + p.SeasonFolder + "/" + p.Basename
	}
	return p.SeriesFolder + "/" + p.Basename
}

// Aliases maps a literal series name to a canonical folder name
// (series-aliases.json, spec.md §4.8 "Folder layout" / §6.1).
type Aliases map[string]string

// Engine renders EnrichEntry values into Plans.
type Engine struct {
	Template string
	ClientOS ClientOS
	Aliases  Aliases
}

// New builds an Engine; an empty template uses DefaultTemplate.
func New(template string, clientOS ClientOS, aliases Aliases) *Engine {
	if template == "" {
		template = DefaultTemplate
	}
	if aliases == nil {
		aliases = Aliases{}
	}
	return &Engine{Template: template, ClientOS: clientOS, Aliases: aliases}
}

// Render computes the full Plan for entry, whose basename (without
// extension) came from the source file named by basenameNoExt; tmdbID is
// the optional {tmdbId} token value.
func (e *Engine) Render(entry *model.EnrichEntry, basenameNoExt, tmdbID string) *Plan {
	isMovie := entry.IsMovie != nil && *entry.IsMovie

	seriesTitle := pickSeriesTitle(entry)
	canonicalSeries := stripSeasonSuffix(seriesTitle)

	var epLabel string
	if !isMovie {
		epLabel = formatEpLabel(entry)
	}

	vars := map[string]string{
		"title":        cleanBaseTitle(canonicalSeries),
		"basename":     basenameNoExt,
		"year":         entry.Year,
		"epLabel":      epLabel,
		"episodeTitle": entry.EpisodeTitle,
		"season":       fmtIntPtr(entry.Season),
		"episode":      fmtIntPtr(entry.Episode),
		"episodeRange": entry.EpisodeRange,
		"tmdbId":       tmdbID,
	}

	rendered := expandTemplate(e.Template, vars)
	rendered = insertYearParenthetical(rendered, entry.Year, isMovie)
	rendered = cleanupArtifacts(rendered)
	basename := sanitize(rendered)
	basename = truncate(basename, epLabel, entry.Year, canonicalSeries, limitFor(e.ClientOS))

	plan := &Plan{IsMovie: isMovie, Basename: basename, MetadataFilename: basename}
	folderName := canonicalSeries
	if alias, ok := e.Aliases[seriesTitle]; ok {
		folderName = alias
	} else if alias, ok := e.Aliases[canonicalSeries]; ok {
		folderName = alias
	}
	if isMovie {
		plan.MovieFolder = sanitize(fmt.Sprintf("%s (%s)", titleCaseIfAllCaps(folderName), entry.Year))
	} else {
		plan.SeriesFolder = sanitize(titleCaseIfAllCaps(folderName))
		if entry.Season != nil {
			plan.SeasonFolder = fmt.Sprintf("Season %02d", *entry.Season)
		} else {
			plan.SeasonFolder = "Season 01"
		}
	}
	return plan
}

// pickSeriesTitle applies EnrichEntry invariant 4 (spec.md §3): explicit
// English -> explicit exact -> first non-episode-looking candidate ->
// parsed title.
func pickSeriesTitle(entry *model.EnrichEntry) string {
	switch {
	case entry.SeriesTitleEnglish != "":
		return entry.SeriesTitleEnglish
	case entry.SeriesTitleExact != "":
		return entry.SeriesTitleExact
	case entry.SeriesTitle != "":
		return entry.SeriesTitle
	case entry.ParentCandidate != "":
		return entry.ParentCandidate
	case entry.Parsed != nil:
		return entry.Parsed.Title
	default:
		return entry.Title
	}
}

// formatEpLabel computes "SxxEyy", "Eyy", or "E{range}" (spec.md §4.8 point
// 3); AniDB raw episode codes (S2/C1/T1) are preserved verbatim by callers
// that set entry.EpisodeRange to the raw code instead of a numeric range
// (spec.md §4.8 point 7).
func formatEpLabel(entry *model.EnrichEntry) string {
	if entry.EpisodeRange != "" && isRawAniDBCode(entry.EpisodeRange) {
		return entry.EpisodeRange
	}
	switch {
	case entry.Season != nil && entry.Episode != nil:
		return fmt.Sprintf("S%02dE%02d", *entry.Season, *entry.Episode)
	case entry.EpisodeRange != "":
		return fmt.Sprintf("E%s", entry.EpisodeRange)
	case entry.Episode != nil:
		return fmt.Sprintf("E%02d", *entry.Episode)
	default:
		return ""
	}
}

var rawAniDBCodeRegex = regexp.MustCompile(`(?i)^[SCT]\d+$`)

func isRawAniDBCode(s string) bool { return rawAniDBCodeRegex.MatchString(s) }

func fmtIntPtr(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func expandTemplate(template string, vars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return ""
	})
}

var (
	multiSpaceRegex  = regexp.MustCompile(`\s+`)
	emptyParensRegex = regexp.MustCompile(`\(\s*\)`)
	doubleDashRegex  = regexp.MustCompile(`\s*-\s*-\s*`)
	edgeDashRegex    = regexp.MustCompile(`^[\s-]+|[\s-]+$`)
)

// cleanupArtifacts removes empty-token leftovers (spec.md §4.8 point 5):
// "()", "- -", leading/trailing "-", and collapses whitespace.
func cleanupArtifacts(s string) string {
	s = emptyParensRegex.ReplaceAllString(s, "")
	for {
		next := doubleDashRegex.ReplaceAllString(s, " - ")
		if next == s {
			break
		}
		s = next
	}
	s = edgeDashRegex.ReplaceAllString(s, "")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var yearParenRegex = regexp.MustCompile(`\(\d{4}\)`)

// insertYearParenthetical implements spec.md §4.8 point 6: if year is
// present but not already parenthesized at the correct position, insert
// "(year)" before the first episode marker, else before the first " - ",
// else at the end.
func insertYearParenthetical(s, year string, isMovie bool) string {
	if year == "" || isMovie {
		return s
	}
	if yearParenRegex.MatchString(s) {
		return s
	}
	marker := regexp.MustCompile(`\bS\d{1,2}E\d{1,3}\b|\bE\d{1,3}\b`)
	paren := fmt.Sprintf("(%s)", year)
	if loc := marker.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[:loc[0]]) + " " + paren + " - " + strings.TrimSpace(s[loc[0]:])
	}
	if idx := strings.Index(s, " - "); idx >= 0 {
		return strings.TrimSpace(s[:idx]) + " " + paren + s[idx:]
	}
	return strings.TrimSpace(s) + " " + paren
}

var illegalCharsRegex = regexp.MustCompile(`[\\/:*?"<>|]`)

// sanitize removes the characters forbidden by common filesystems (spec.md
// §4.8 point 8, §8 property 6), generalizing the teacher's illegalChars
// regex (which additionally scrubbed null bytes and path separators - kept
// here as well since a rendered name must never smuggle a path component).
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = illegalCharsRegex.ReplaceAllString(s, "")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.Trim(s, " .")
}

// cleanBaseTitle strips existing episode markers and trailing
// episode-title fragments from a series title while preserving subtitles
// joined by colons (spec.md §4.8 point 4).
func cleanBaseTitle(title string) string {
	title = regexp.MustCompile(`(?i)\s*-\s*S\d{1,2}E\d{1,3}.*$`).ReplaceAllString(title, "")
	return strings.TrimSpace(title)
}

var seasonSuffixRegex = regexp.MustCompile(`(?i)\s*[-(]?\s*(Season\s+\d+|\d+(?:st|nd|rd|th)\s+Season|Second\s+Season|Third\s+Season|S0?\d{1,2})\)?\s*$`)

// stripSeasonSuffix removes trailing season-suffix tokens from a series
// title (spec.md §4.8 "Folder layout", glossary "Season suffix"); aliases
// bypass this (handled by the caller checking the alias map on the
// original title first).
func stripSeasonSuffix(title string) string {
	return strings.TrimSpace(seasonSuffixRegex.ReplaceAllString(title, ""))
}

// titleCaseIfAllCaps title-cases a folder/series name that was originally
// ALL-CAPS, matching the enrich cache manager's display normalization
// (spec.md §4.6) so folder names never surface as shouted text.
func titleCaseIfAllCaps(s string) string {
	if s == "" || s != strings.ToUpper(s) || s == strings.ToLower(s) {
		return s
	}
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// truncate applies the OS-aware byte-budget truncation (spec.md §4.8 point
// 8): prefer preserving the "Title (Year) - SxxEyy" prefix and truncate
// only the episode-title suffix with an ellipsis.
func truncate(basename, epLabel, year, title string, limit int) string {
	if len(basename) <= limit {
		return basename
	}
	prefix := title
	if year != "" {
		prefix = fmt.Sprintf("%s (%s)", title, year)
	}
	if epLabel != "" {
		prefix = fmt.Sprintf("%s - %s", prefix, epLabel)
	}
	prefix = sanitize(prefix)
	if len(prefix) >= limit {
		return truncateBytes(prefix, limit)
	}
	const ellipsis = "..."
	budget := limit - len(prefix) - len(" - ") - len(ellipsis)
	if budget <= 0 {
		return prefix
	}
	rest := strings.TrimPrefix(basename[len(prefix):], " - ")
	rest = truncateBytes(rest, budget)
	return prefix + " - " + rest + ellipsis
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8
// sequence.
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	b := []byte(s)[:n]
	for len(b) > 0 && !isUTF8Boundary(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isUTF8Boundary(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	last := b[len(b)-1]
	return last&0xC0 != 0x80
}
