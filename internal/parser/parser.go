// Package parser turns a release-group-noisy video filename into a
// best-effort ParsedEntry: title, season, episode, episode range, episode
// title and year (spec.md §4.1). It never fails; on ambiguity it returns
// the best partial fill with nulls for unresolved fields.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

// Pre-compiled regex patterns, mirroring the package-level compiled-once
// table style of pkg/release/parser.go.
var (
	bracketGroupRegex = regexp.MustCompile(`\[[^\[\]]*\]|\([^()]*\)`)
	versionSuffixRegex = regexp.MustCompile(`(?i)\bv[2-9]\b`)

	yearRegex = regexp.MustCompile(`\b(19|20)\d{2}\b`)

	seasonEpRegex      = regexp.MustCompile(`(?i)\bS(\d{1,2})E(\d{1,3})(?:-E?(\d{1,3}))?\b`)
	altSeasonEpRegex   = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{1,3})\b`)
	nxRegex            = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
	epDotRegex         = regexp.MustCompile(`(?i)\bep?\.?\s*(\d{1,3}(?:\.\d)?)\b`)
	episodeWordRegex   = regexp.MustCompile(`(?i)\bEpisode\s+(\d{1,3}(?:\.\d)?)\b`)
	decimalEpRegex     = regexp.MustCompile(`\b(\d{1,3}\.\d)\b`)
	seasonOnlyRegex    = regexp.MustCompile(`(?i)\bS(\d{1,2})\b`)

	releaseTagRegex = regexp.MustCompile(`(?i)\b(1080p|720p|2160p|4k|x264|x265|h264|h265|hevc|avc|bluray|web-?dl|webrip|hdtv|aac|flac|dts|remux)\b`)

	leadingEpisodeMarkerRegex = regexp.MustCompile(`(?i)^\s*(S\d{1,2}E\d{1,3}|E\d{1,3}|\d{1,2}x\d{1,3})\s*[-–]\s*`)

	curlyApostropheReplacer = strings.NewReplacer(
		"‘", "'", "’", "'", "“", "\"", "”", "\"",
	)

	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Parse extracts a ParsedEntry from basename, the file's base name
// (including extension; the extension is stripped internally).
func Parse(basename string) *model.ParsedEntry {
	name := strings.TrimSuffix(basename, extOf(basename))
	entry := &model.ParsedEntry{ParsedName: name}

	// 1. strip bracketed release-group tags
	residue := bracketGroupRegex.ReplaceAllString(name, " ")
	// 2. strip version suffixes (v2, v3, ...)
	residue = versionSuffixRegex.ReplaceAllString(residue, " ")

	entry.StartsWithEp = leadingEpisodeMarkerRegex.MatchString(strings.TrimSpace(name))

	// Season/episode detection, most specific pattern first.
	if m := seasonEpRegex.FindStringSubmatch(residue); m != nil {
		season := atoiPtr(m[1])
		entry.Season = season
		ep := atoiPtr(m[2])
		entry.Episode = ep
		if m[3] != "" {
			entry.EpisodeRange = fmtRange(m[2], m[3])
		}
	} else if m := nxRegex.FindStringSubmatch(residue); m != nil {
		entry.Season = atoiPtr(m[1])
		entry.Episode = atoiPtr(m[2])
	} else if m := decimalEpRegex.FindStringSubmatch(residue); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			ep := int(f)
			entry.Episode = &ep
		}
	} else if m := episodeWordRegex.FindStringSubmatch(residue); m != nil {
		entry.Episode = atoiFloatPtr(m[1])
	} else if m := epDotRegex.FindStringSubmatch(residue); m != nil {
		entry.Episode = atoiFloatPtr(m[1])
	} else if m := seasonOnlyRegex.FindStringSubmatch(residue); m != nil {
		entry.Season = atoiPtr(m[1])
	}

	entry.EpisodeLikely = looksEpisodeLike(residue, entry)

	// Year: last 4-digit year token found, matching the teacher's
	// "last valid year wins" heuristic (titles can contain a year token
	// that is itself part of the title, e.g. "2001 A Space Odyssey").
	if years := yearRegex.FindAllString(residue, -1); len(years) > 0 {
		entry.Year = years[len(years)-1]
	}

	// Episode title: trailing "- Episode Title" segment after the last
	// recognized marker.
	entry.EpisodeTitle = extractEpisodeTitle(residue)

	// Title: strip release tags and markers, keep the residue before the
	// first marker as the candidate title.
	entry.Title = extractTitle(residue, entry)

	return entry
}

func extOf(basename string) string {
	if idx := strings.LastIndex(basename, "."); idx > 0 && idx < len(basename)-1 {
		ext := basename[idx:]
		if len(ext) <= 5 {
			return ext
		}
	}
	return ""
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func atoiFloatPtr(s string) *int {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

func fmtRange(start, end string) string {
	pad := func(s string) string {
		if len(s) == 1 {
			return "0" + s
		}
		return s
	}
	return pad(start) + "-" + pad(end)
}

// looksEpisodeLike decides whether the residue reads as "just an episode
// marker" with no real title preceding it - used by the resolver (spec.md
// §4.5 precondition 3) to prefer the parent folder as series title.
func looksEpisodeLike(residue string, entry *model.ParsedEntry) bool {
	trimmed := strings.TrimSpace(residue)
	if entry.StartsWithEp {
		return true
	}
	if entry.Episode != nil {
		stripped := seasonEpRegex.ReplaceAllString(trimmed, "")
		stripped = nxRegex.ReplaceAllString(stripped, "")
		stripped = epDotRegex.ReplaceAllString(stripped, "")
		stripped = strings.TrimSpace(stripped)
		return len(stripped) < 3
	}
	return false
}

func extractEpisodeTitle(residue string) string {
	idx := strings.LastIndex(residue, " - ")
	if idx < 0 {
		idx = strings.LastIndex(residue, " – ")
	}
	if idx < 0 {
		return ""
	}
	candidate := strings.TrimSpace(residue[idx+3:])
	candidate = releaseTagRegex.ReplaceAllString(candidate, "")
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || yearRegex.MatchString(candidate) {
		return ""
	}
	return normalizeApostrophes(candidate)
}

func extractTitle(residue string, entry *model.ParsedEntry) string {
	work := residue
	if entry.StartsWithEp {
		work = leadingEpisodeMarkerRegex.ReplaceAllString(work, "")
	}
	// Cut at the first marker: season/episode token, release tag, or year.
	cut := len(work)
	for _, re := range []*regexp.Regexp{seasonEpRegex, nxRegex, epDotRegex, episodeWordRegex, seasonOnlyRegex, releaseTagRegex, yearRegex} {
		if loc := re.FindStringIndex(work); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
	}
	title := work[:cut]
	title = strings.TrimSpace(strings.Trim(title, "-– "))
	title = whitespaceRegex.ReplaceAllString(title, " ")
	return normalizeApostrophes(title)
}

func normalizeApostrophes(s string) string {
	return curlyApostropheReplacer.Replace(s)
}
