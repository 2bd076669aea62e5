package core

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vmunix/arrgo-renamer/internal/apply"
	"github.com/vmunix/arrgo-renamer/internal/artwork"
	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/render"
	"github.com/vmunix/arrgo-renamer/internal/resolver"
	"github.com/vmunix/arrgo-renamer/internal/scan"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// Scan runs a full scan of libraryID (spec.md §6.3 "scan(libPath)").
func (s *Service) Scan(ctx context.Context, libraryID string) (*model.ScanArtifact, error) {
	lib, err := s.libraryByID(libraryID)
	if err != nil {
		return nil, err
	}
	return s.scanEngine.FullScan(ctx, lib)
}

// IncrementalScan runs an incremental scan of libraryID (spec.md §6.3
// "incrementalScan(libPath)").
func (s *Service) IncrementalScan(ctx context.Context, libraryID string) (*scan.IncrementalResult, error) {
	lib, err := s.libraryByID(libraryID)
	if err != nil {
		return nil, err
	}
	return s.scanEngine.IncrementalScan(ctx, lib)
}

// ForceFullScan rescans every configured library (spec.md §6.3
// "forceFullScan()").
func (s *Service) ForceFullScan(ctx context.Context) ([]*model.ScanArtifact, error) {
	artifacts := make([]*model.ScanArtifact, 0, len(s.libraries))
	var firstErr error
	for _, lib := range s.libraries {
		a, err := s.scanEngine.FullScan(ctx, lib)
		if err != nil {
			s.log.Warn("force full scan", "library", lib.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, firstErr
}

// EnrichOptions carries the per-call overrides spec.md §6.3's
// enrich(path, {...}) accepts.
type EnrichOptions struct {
	Force              bool
	ForceHash          bool
	SkipAnimeProviders bool
}

// Enrich resolves metadata for one canonical path and merges it into the
// enrich cache (spec.md §6.3 "enrich(path, {...})").
func (s *Service) Enrich(ctx context.Context, username, canonicalPath string, opts EnrichOptions) (*model.EnrichEntry, error) {
	p, err := s.userPipelineFor(username)
	if err != nil {
		return nil, err
	}
	if p.library == nil {
		return nil, fmt.Errorf("core: user %q has no configured library", username)
	}

	uc := s.cfg.Users[username]
	in := resolver.Input{
		CanonicalPath:      canonicalPath,
		Username:           username,
		LibraryRoot:        p.library.Path,
		ProviderOrder:      uc.ProviderOrder(),
		TMDBKey:            uc.TMDBAPIKey,
		TVDBUserPIN:        uc.TVDBV4UserPIN,
		Force:              opts.Force,
		ForceHash:          opts.ForceHash,
		SkipAnimeProviders: opts.SkipAnimeProviders,
	}
	res, err := p.resolver.Resolve(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("core: resolve %s: %w", canonicalPath, err)
	}
	return s.enrichMgr.Update(ctx, canonicalPath, res)
}

// EnrichBulk resolves metadata for every path in paths (spec.md §6.3
// "enrichBulk(paths[])"). Per-path errors are logged and skipped, mirroring
// the apply engine's own "never stop at the first failure" discipline.
func (s *Service) EnrichBulk(ctx context.Context, username string, paths []string, opts EnrichOptions) ([]*model.EnrichEntry, error) {
	entries := make([]*model.EnrichEntry, 0, len(paths))
	for _, path := range paths {
		entry, err := s.Enrich(ctx, username, path, opts)
		if err != nil {
			s.log.Warn("enrich bulk item failed", "path", path, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PlanPreview pairs a source path with its computed render plan (spec.md
// §6.3 "previewPlans(items[], {...})").
type PlanPreview struct {
	CanonicalPath string
	Plan          *render.Plan
}

// PreviewOptions overrides a user's default render template/output path
// for one previewPlans call.
type PreviewOptions struct {
	Template   string
	OutputPath string
	TMDBID     string
}

// PreviewPlans renders the output plan for each path without touching
// disk (spec.md §6.3 "previewPlans").
func (s *Service) PreviewPlans(ctx context.Context, username string, paths []string, opts PreviewOptions) ([]PlanPreview, error) {
	p, err := s.userPipelineFor(username)
	if err != nil {
		return nil, err
	}

	engine := p.render
	if opts.Template != "" {
		engine = render.New(opts.Template, p.render.ClientOS, p.render.Aliases)
	}

	previews := make([]PlanPreview, 0, len(paths))
	for _, path := range paths {
		var entry model.EnrichEntry
		ok, err := s.st.Get(store.MapEnrich, path, &entry)
		if err != nil {
			return nil, fmt.Errorf("core: load enrich entry %s: %w", path, err)
		}
		if !ok {
			s.log.Warn("preview plans: no enrich entry", "path", path)
			continue
		}
		basename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		plan := engine.Render(&entry, basename, opts.TMDBID)
		previews = append(previews, PlanPreview{CanonicalPath: path, Plan: plan})
	}
	return previews, nil
}

// Apply materializes plans as hardlinks for username (spec.md §6.3
// "apply(plans[], {...})").
func (s *Service) Apply(ctx context.Context, username string, plans []apply.Plan, opts apply.Options) ([]apply.Outcome, error) {
	p, err := s.userPipelineFor(username)
	if err != nil {
		return nil, err
	}
	return p.apply.Apply(ctx, plans, opts)
}

// Unapprove reverses Apply for username (spec.md §6.3 "unapprove({...})").
func (s *Service) Unapprove(ctx context.Context, username string, paths []string, n int, opts apply.UnapproveOptions) ([]apply.UnapproveResult, error) {
	p, err := s.userPipelineFor(username)
	if err != nil {
		return nil, err
	}
	return p.apply.Unapprove(ctx, paths, n, opts)
}

// Sweep drops stale enrich entries (spec.md §6.3 "sweep() (admin)").
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.enrichMgr.Sweep(ctx)
}

// PathEntry pairs a canonical path with its enrich entry, used by
// ListHiddenOrApplied and ListDuplicates.
type PathEntry struct {
	Path  string
	Entry *model.EnrichEntry
}

// ListHiddenOrApplied returns every entry that is currently hidden or
// applied (spec.md §6.3 "listHiddenOrApplied()").
func (s *Service) ListHiddenOrApplied(ctx context.Context) ([]PathEntry, error) {
	raw, err := s.st.All(store.MapEnrich)
	if err != nil {
		return nil, fmt.Errorf("core: list hidden/applied: %w", err)
	}
	out := make([]PathEntry, 0, len(raw))
	for path, msg := range raw {
		var entry model.EnrichEntry
		if jsonErr := json.Unmarshal(msg, &entry); jsonErr != nil {
			continue
		}
		if entry.Hidden || entry.Applied {
			out = append(out, PathEntry{Path: path, Entry: &entry})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ListDuplicates groups enrich entries (applied or not) whose RenderedName is the same
// under different source paths (spec.md §6.3 "listDuplicates()") - the
// renamer's one reachable notion of a duplicate, since two sources that
// render identically would otherwise silently overwrite one another's
// hardlink target.
func (s *Service) ListDuplicates(ctx context.Context) (map[string][]string, error) {
	raw, err := s.st.All(store.MapEnrich)
	if err != nil {
		return nil, fmt.Errorf("core: list duplicates: %w", err)
	}
	byName := make(map[string][]string)
	for path, msg := range raw {
		var entry model.EnrichEntry
		if jsonErr := json.Unmarshal(msg, &entry); jsonErr != nil {
			continue
		}
		if entry.RenderedName == "" {
			continue
		}
		byName[entry.RenderedName] = append(byName[entry.RenderedName], path)
	}
	dupes := make(map[string][]string)
	for name, paths := range byName {
		if len(paths) > 1 {
			sort.Strings(paths)
			dupes[name] = paths
		}
	}
	return dupes, nil
}

// HideEventsSince returns hide events recorded after ts (spec.md §6.3
// "hideEventsSince(ts)").
func (s *Service) HideEventsSince(ctx context.Context, ts time.Time) ([]model.HideEvent, error) {
	raw, err := s.st.All(store.MapHideEvents)
	if err != nil {
		return nil, fmt.Errorf("core: list hide events: %w", err)
	}
	out := make([]model.HideEvent, 0, len(raw))
	for _, msg := range raw {
		var ev model.HideEvent
		if jsonErr := json.Unmarshal(msg, &ev); jsonErr != nil {
			continue
		}
		if ev.Ts.After(ts) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts.Before(out[j].Ts) })
	return out, nil
}

// ManualSeriesIDs returns the manual provider IDs pinned for seriesKey
// (spec.md §6.3 "manualIds.get").
func (s *Service) ManualSeriesIDs(ctx context.Context, seriesKey string) (*model.ManualSeriesIDs, bool) {
	return s.manualIDs.SeriesIDs(ctx, seriesKey)
}

// SetManualSeriesIDs pins manual provider IDs for seriesKey (spec.md §6.3
// "manualIds.set").
func (s *Service) SetManualSeriesIDs(seriesKey string, ids model.ManualSeriesIDs) error {
	return s.manualIDs.SetSeriesIDs(seriesKey, ids)
}

// ManualPathIDs returns the manual provider IDs pinned for canonicalPath.
func (s *Service) ManualPathIDs(ctx context.Context, canonicalPath string) (*model.ManualPathIDs, bool) {
	return s.manualIDs.PathIDs(ctx, canonicalPath)
}

// SetManualPathIDs pins manual provider IDs for canonicalPath.
func (s *Service) SetManualPathIDs(canonicalPath string, ids model.ManualPathIDs) error {
	return s.manualIDs.SetPathIDs(canonicalPath, ids)
}

// ApprovedSeriesImage returns the cached artwork for one (outputKey,
// seriesKey) pair, if any (spec.md §6.3 "approvedSeries.list").
func (s *Service) ApprovedSeriesImage(outputKey, seriesKey string) (*model.ApprovedSeriesImage, bool, error) {
	var img model.ApprovedSeriesImage
	ok, err := s.st.Get(store.MapApprovedSeriesImgs, approvedImageKey(outputKey, seriesKey), &img)
	if err != nil {
		return nil, false, fmt.Errorf("core: load approved series image: %w", err)
	}
	return &img, ok, nil
}

// ListApprovedSeriesImages returns every cached artwork entry (spec.md
// §6.3 "approvedSeries.list").
func (s *Service) ListApprovedSeriesImages(ctx context.Context) (map[string]*model.ApprovedSeriesImage, error) {
	raw, err := s.st.All(store.MapApprovedSeriesImgs)
	if err != nil {
		return nil, fmt.Errorf("core: list approved series images: %w", err)
	}
	out := make(map[string]*model.ApprovedSeriesImage, len(raw))
	for key, msg := range raw {
		var img model.ApprovedSeriesImage
		if jsonErr := json.Unmarshal(msg, &img); jsonErr != nil {
			continue
		}
		out[key] = &img
	}
	return out, nil
}

// FetchApprovedSeriesImage fetches and caches artwork for one series on
// demand (spec.md §6.3 "approvedSeries.fetchImage").
func (s *Service) FetchApprovedSeriesImage(ctx context.Context, username, outputKey, seriesName string) (*model.ApprovedSeriesImage, error) {
	uc, ok := s.cfg.Users[username]
	if !ok {
		return nil, fmt.Errorf("core: no configured user %q", username)
	}
	var provider string
	for _, ofc := range uc.OutputFolders {
		if ofc.Key == outputKey {
			provider = ofc.ArtworkProvider
			break
		}
	}
	cand := artwork.Candidate{
		Bucket:     artwork.Bucket{Username: username, Key: outputKey, Provider: provider},
		SeriesKey:  normalizeSeriesKey(seriesName),
		SeriesName: seriesName,
	}
	return s.artworkWorker.FetchOne(ctx, cand)
}

// FetchAllApprovedSeriesImages fetches artwork for every pending
// candidate immediately, rather than waiting for the background tick
// (spec.md §6.3 "approvedSeries.fetchAll").
func (s *Service) FetchAllApprovedSeriesImages(ctx context.Context) (int, error) {
	src := &pendingArtworkSource{st: s.st, cfg: s.cfg}
	fetched := 0
	attempted := make(map[string]bool)
	for {
		candidates, err := src.PendingArtwork(ctx, 25)
		if err != nil {
			return fetched, err
		}
		if len(candidates) == 0 {
			return fetched, nil
		}

		progressed := false
		for _, cand := range candidates {
			key := approvedImageKey(cand.Bucket.Key, cand.SeriesKey)
			if attempted[key] {
				continue
			}
			attempted[key] = true

			img, err := s.artworkWorker.FetchOne(ctx, cand)
			if err != nil {
				s.log.Warn("fetch all approved series images", "series", cand.SeriesKey, "error", err)
				continue
			}
			if img != nil {
				fetched++
				progressed = true
			}
		}
		if !progressed {
			return fetched, nil
		}
	}
}

// ClearApprovedSeriesImageCache drops one cached artwork entry so the next
// tick re-fetches it (spec.md §6.3 "approvedSeries.clearCache").
func (s *Service) ClearApprovedSeriesImageCache(outputKey, seriesKey string) error {
	return s.st.Delete(store.MapApprovedSeriesImgs, approvedImageKey(outputKey, seriesKey))
}

func approvedImageKey(outputKey, seriesKey string) string {
	return outputKey + "::" + seriesKey
}

func normalizeSeriesKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
