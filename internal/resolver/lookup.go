package resolver

import (
	"context"
	"os"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers"
	"github.com/vmunix/arrgo-renamer/internal/providers/anidb"
)

// runSegments drives the segmented provider lookup (spec.md §4.5) and
// returns the merged series+episode ProviderBlock plus a human-readable
// source label.
func (r *Resolver) runSegments(ctx context.Context, in Input, candidates []string, parsed *model.ParsedEntry, segments []Segment) (*model.ProviderBlock, string, error) {
	var block *model.ProviderBlock
	var source string
	var lastErr error

	for _, seg := range segments {
		if seg.AniDB {
			b, src, err := r.runAniDBSegment(ctx, in, candidates, parsed)
			if err != nil {
				lastErr = err
				continue
			}
			if b != nil && b.Matched {
				block = b
				source = src
				break
			}
			continue
		}

		b, src, err := r.runBatchSegment(ctx, in, candidates, parsed, seg.Providers)
		if err != nil {
			lastErr = err
			continue
		}
		if b != nil && b.Matched {
			block = b
			source = src
			break
		}
	}

	if block == nil {
		return nil, "", lastErr
	}

	if parsed.Season != nil && parsed.Episode != nil && (block.IsMovie == nil || !*block.IsMovie) {
		r.fillEpisodeTitle(ctx, in, block)
	}

	resolveYear(block, parsed)
	block.RenderedName = block.SeriesTitleExact
	return block, source, nil
}

// runAniDBSegment performs ED2K hashing and UDP lookup. Hashing is
// expensive, so it only runs when AniDB is the user's first-choice
// provider or forced (spec.md §4.4).
func (r *Resolver) runAniDBSegment(ctx context.Context, in Input, candidates []string, parsed *model.ParsedEntry) (*model.ProviderBlock, string, error) {
	adapter, ok := r.adapters[model.ProviderAniDB]
	if !ok {
		return nil, "", nil
	}
	client, ok := adapter.(*anidb.Client)
	if !ok {
		return nil, "", nil
	}

	isFirstChoice := len(in.ProviderOrder) > 0 && in.ProviderOrder[0] == model.ProviderAniDB
	if !isFirstChoice && !in.ForceHash {
		return nil, "", nil
	}

	f, err := os.Open(in.CanonicalPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	hash, size, err := anidb.HashFile(f)
	if err != nil {
		return nil, "", err
	}

	cand, _, err := client.LookupByHash(ctx, hash, size)
	if err != nil {
		return nil, "", err
	}
	if cand == nil {
		return nil, "", nil
	}
	block := candidateToSeriesCandidate(cand)
	block.Provider = model.ProviderAniDB
	block.Source = "anidb"
	return block, "anidb", nil
}

// runBatchSegment tries each non-AniDB provider in order, each against
// every series candidate in priority order, stopping at the first match.
func (r *Resolver) runBatchSegment(ctx context.Context, in Input, candidates []string, parsed *model.ParsedEntry, order []model.ProviderID) (*model.ProviderBlock, string, error) {
	var lastErr error
	for _, pid := range order {
		adapter, ok := r.adapters[pid]
		if !ok {
			continue
		}
		if in.SkipAnimeProviders && (pid == model.ProviderAniList || pid == model.ProviderKitsu) {
			continue
		}

		// Manual series ID override short-circuits the search step.
		if r.manual != nil {
			if seriesIDs, ok := r.manual.SeriesIDs(ctx, normalizeSeriesKey(candidates[0])); ok && seriesIDs != nil {
				if id := manualIDFor(pid, seriesIDs); id != "" {
					cand, err := adapter.FetchByID(ctx, id, providers.FetchOpts{Force: in.Force, ForceHash: in.ForceHash})
					if err != nil {
						lastErr = err
					} else if cand != nil {
						block := candidateToSeriesCandidate(cand)
						block.Provider = pid
						block.Source = string(pid) + ":manual"
						return block, string(pid), nil
					}
				}
			}
		}

		for _, candidate := range candidates {
			opts := providers.SearchOpts{Season: parsed.Season, ParentFolder: IsParentFolderCandidate("", parsed.Title, candidate)}
			cand, err := adapter.SearchSeries(ctx, candidate, opts)
			if err != nil {
				lastErr = err
				continue
			}
			if cand == nil {
				continue
			}
			if pid == model.ProviderAniList {
				cand = r.resolveAniListSequel(ctx, cand, parsed)
			}
			block := candidateToSeriesCandidate(cand)
			block.Provider = pid
			block.Source = string(pid)
			return block, string(pid), nil
		}
	}
	return nil, "", lastErr
}

func manualIDFor(pid model.ProviderID, ids *model.ManualSeriesIDs) string {
	switch pid {
	case model.ProviderAniList:
		return ids.AniList
	case model.ProviderTMDB:
		return ids.TMDB
	case model.ProviderTVDB:
		return ids.TVDB
	default:
		return ""
	}
}

// resolveAniListSequel implements spec.md §4.5's sequel re-fetch rule:
// "When the chosen media is a sequel that has not yet aired the requested
// episode ... re-fetches the PARENT/PREQUEL/SOURCE relation and uses it
// instead".
func (r *Resolver) resolveAniListSequel(ctx context.Context, cand *providers.SeriesCandidate, parsed *model.ParsedEntry) *providers.SeriesCandidate {
	if parsed.Episode == nil || cand.NextAiringEpisode == nil {
		return cand
	}
	if *parsed.Episode <= *cand.NextAiringEpisode-1 {
		return cand
	}

	adapter, ok := r.adapters[model.ProviderAniList]
	if !ok {
		return cand
	}

	for _, kind := range []providers.RelationKind{providers.RelationParent, providers.RelationPrequel, providers.RelationSource} {
		for _, rel := range cand.Relations {
			if rel.Kind != kind {
				continue
			}
			parent, err := adapter.FetchByID(ctx, rel.ID, providers.FetchOpts{})
			if err != nil || parent == nil {
				continue
			}
			return parent
		}
	}
	return cand
}
