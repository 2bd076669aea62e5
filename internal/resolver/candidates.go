package resolver

import (
	"regexp"
	"strings"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

// seasonFolderRegex matches folder names like "Season 1", "S01", "Series 2".
var seasonFolderRegex = regexp.MustCompile(`(?i)^(season|series|s)\s*0*\d{1,3}$`)

// extrasFolderRegex matches folders that hold bonus material, never series
// names (spec.md §4.5 precondition 2).
var extrasFolderRegex = regexp.MustCompile(`(?i)^(featurettes?|extras?|bonus|specials?|ovas?)$`)

// buildSeriesCandidates computes candidate series names in priority order:
// parsed title, then the nearest parent-folder name that isn't a season or
// extras folder, then cleaned variants of each (spec.md §4.5 precondition
// 2-3). When the filename looks episode-like, the parent-folder name moves
// ahead of the parsed title.
func buildSeriesCandidates(relPath string, parsed *model.ParsedEntry) []string {
	var candidates []string
	seen := map[string]bool{}

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if seen[key] {
			return
		}
		seen[key] = true
		candidates = append(candidates, s)
	}

	parentFolder := nearestUsableParentFolder(relPath)

	elevateParent := parsed.StartsWithEp || parsed.EpisodeLikely
	if elevateParent && parentFolder != "" {
		add(parentFolder)
	}

	if parsed.Title != "" {
		add(parsed.Title)
	}
	if parentFolder != "" {
		add(parentFolder)
	}

	for _, c := range append([]string{}, candidates...) {
		if cleaned := cleanCandidate(c); cleaned != c {
			add(cleaned)
		}
	}

	return candidates
}

// nearestUsableParentFolder walks parent directory segments closest-first,
// skipping season-folder and extras-folder tokens.
func nearestUsableParentFolder(relPath string) string {
	dir := relPath
	if idx := strings.LastIndex(relPath, "/"); idx >= 0 {
		dir = relPath[:idx]
	} else {
		return ""
	}
	segments := strings.Split(dir, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSpace(segments[i])
		if seg == "" {
			continue
		}
		if seasonFolderRegex.MatchString(seg) || extrasFolderRegex.MatchString(seg) {
			continue
		}
		return seg
	}
	return ""
}

var bracketedRegex = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
var punctuationRegex = regexp.MustCompile(`[._]+`)

func cleanCandidate(s string) string {
	s = bracketedRegex.ReplaceAllString(s, " ")
	s = punctuationRegex.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// IsParentFolderCandidate reports whether candidate came from a parent
// folder rather than the parsed filename title, used to pick the stricter
// AniList acceptance threshold (spec.md §4.5 point 2).
func IsParentFolderCandidate(relPath, parsed string, candidate string) bool {
	return !strings.EqualFold(candidate, parsed) && !strings.EqualFold(candidate, cleanCandidate(parsed))
}
