package core

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vmunix/arrgo-renamer/internal/artwork"
	"github.com/vmunix/arrgo-renamer/internal/config"
	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// pendingArtworkSource implements artwork.CandidateSource by scanning the
// enrich cache for applied entries that fall under a configured output
// folder and have no cached image yet (spec.md §4.11: "one cover image
// per (output-root bucket, series) once that series has at least one
// applied entry").
type pendingArtworkSource struct {
	st  *store.Store
	cfg *config.Config
}

// PendingArtwork implements artwork.CandidateSource.
func (p *pendingArtworkSource) PendingArtwork(ctx context.Context, limit int) ([]artwork.Candidate, error) {
	raw, err := p.st.All(store.MapEnrich)
	if err != nil {
		return nil, fmt.Errorf("pendingArtwork: load enrich entries: %w", err)
	}
	cached, err := p.st.All(store.MapApprovedSeriesImgs)
	if err != nil {
		return nil, fmt.Errorf("pendingArtwork: load approved series images: %w", err)
	}

	var entries []model.EnrichEntry
	for _, msg := range raw {
		var entry model.EnrichEntry
		if jsonErr := json.Unmarshal(msg, &entry); jsonErr != nil {
			continue
		}
		if !entry.Applied || len(entry.AppliedTo) == 0 {
			continue
		}
		entries = append(entries, entry)
	}

	var candidates []artwork.Candidate
	seen := make(map[string]bool)
	for username, uc := range p.cfg.Users {
		for _, ofc := range uc.OutputFolders {
			if ofc.Path == "" {
				continue
			}
			bucket := artwork.Bucket{Username: username, Key: ofc.Key, Provider: ofc.ArtworkProvider}
			for _, entry := range entries {
				if !appliedUnderFolder(entry.AppliedTo, ofc.Path) {
					continue
				}
				name := seriesDisplayName(&entry)
				if name == "" {
					continue
				}
				seriesKey := normalizeSeriesKey(name)
				cacheKey := approvedImageKey(bucket.Key, seriesKey)
				if _, ok := cached[cacheKey]; ok {
					continue
				}
				if seen[cacheKey] {
					continue
				}
				seen[cacheKey] = true
				candidates = append(candidates, artwork.Candidate{Bucket: bucket, SeriesKey: seriesKey, SeriesName: name})
				if len(candidates) >= limit {
					return candidates, nil
				}
			}
		}
	}
	return candidates, nil
}

// appliedUnderFolder reports whether any of targets sits beneath root.
func appliedUnderFolder(targets []string, root string) bool {
	cleanRoot := strings.TrimSuffix(filepath.ToSlash(root), "/") + "/"
	for _, t := range targets {
		if strings.HasPrefix(filepath.ToSlash(t), cleanRoot) {
			return true
		}
	}
	return false
}

// seriesDisplayName applies the same series-title precedence render.Engine
// uses to pick a folder name (spec.md §3 EnrichEntry invariant 4): explicit
// English -> explicit exact -> generic series title -> parent candidate ->
// parsed title.
func seriesDisplayName(entry *model.EnrichEntry) string {
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
