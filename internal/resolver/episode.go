package resolver

import (
	"context"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers"
)

// episodeChain is the fixed episode-title fallback order (spec.md §4.5):
// "manual AniDB episode ID -> TVDB -> TMDB ... -> Wikipedia ... -> Kitsu".
var episodeChain = []model.ProviderID{model.ProviderTVDB, model.ProviderTMDB, model.ProviderWikipedia, model.ProviderKitsu}

// fillEpisodeTitle walks the fixed fallback chain, rejecting placeholders
// and preferring Latin-script titles, and fills block.EpisodeTitle (plus a
// year if the episode carries an air date and none is set yet).
func (r *Resolver) fillEpisodeTitle(ctx context.Context, in Input, block *model.ProviderBlock) {
	season := 1
	if block.Season != nil {
		season = *block.Season
	} else if block.DetectedSeasonNumber != nil {
		season = *block.DetectedSeasonNumber
	}
	episode := 0
	if block.Episode != nil {
		episode = *block.Episode
	} else {
		return
	}

	if r.manual != nil {
		if pathIDs, ok := r.manual.PathIDs(ctx, in.CanonicalPath); ok && pathIDs != nil && pathIDs.AniDBEpisode != "" {
			if adapter, ok := r.adapters[model.ProviderAniDB]; ok {
				if hit, err := adapter.FetchEpisode(ctx, pathIDs.AniDBEpisode, season, episode, providers.FetchOpts{}); err == nil && hit != nil && hit.Title != "" {
					block.EpisodeTitle = hit.Title
					return
				}
			}
		}
	}

	for _, pid := range episodeChain {
		adapter, ok := r.adapters[pid]
		if !ok {
			continue
		}
		seriesRef := block.ID
		if seriesRef == "" {
			continue
		}
		hit, err := adapter.FetchEpisode(ctx, seriesRef, season, episode, providers.FetchOpts{})
		if err != nil || hit == nil || hit.Title == "" {
			continue
		}
		if hit.Placeholder {
			continue
		}
		if providers.IsNonLatinOnly(hit.Title) {
			continue
		}
		block.EpisodeTitle = hit.Title
		if block.Year == "" && hit.Year != "" {
			block.Year = hit.Year
		}
		if sources := block.Sources; sources == nil {
			block.Sources = &model.ProviderSources{Episode: &model.SourceRef{ID: seriesRef, Display: hit.Title}}
		} else {
			sources.Episode = &model.SourceRef{ID: seriesRef, Display: hit.Title}
		}
		return
	}
}
