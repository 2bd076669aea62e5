package resolver

import "github.com/vmunix/arrgo-renamer/internal/model"

// Segment is either a lone-AniDB step or a batched "metaLookup" step over
// the other providers in caller order (spec.md §4.5: "the resolver splits
// this into segments at AniDB boundaries; AniDB runs alone, other providers
// batch as one metaLookup call").
type Segment struct {
	AniDB     bool
	Providers []model.ProviderID
}

func segmentProviders(order []model.ProviderID) []Segment {
	var segments []Segment
	var batch []model.ProviderID

	flush := func() {
		if len(batch) > 0 {
			segments = append(segments, Segment{Providers: batch})
			batch = nil
		}
	}

	for _, p := range order {
		if p == model.ProviderAniDB {
			flush()
			segments = append(segments, Segment{AniDB: true, Providers: []model.ProviderID{p}})
			continue
		}
		batch = append(batch, p)
	}
	flush()
	return segments
}

// orderWithManualFirst moves manual-ID-pinned providers (hint) to the
// front of order, preserving the caller's relative order otherwise
// (spec.md §4.5: "Manual IDs, if present, reorder providers so manual-ID
// providers attempt first").
func orderWithManualFirst(order []model.ProviderID, hint []model.ProviderID) []model.ProviderID {
	if len(hint) == 0 {
		return order
	}
	hintSet := make(map[model.ProviderID]bool, len(hint))
	for _, p := range hint {
		hintSet[p] = true
	}
	result := make([]model.ProviderID, 0, len(order))
	result = append(result, hint...)
	for _, p := range order {
		if !hintSet[p] {
			result = append(result, p)
		}
	}
	return result
}
