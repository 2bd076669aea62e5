package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// defaultUnapproveCount is the default N when the caller asks for "the most
// recently applied entries" without an explicit path list (spec.md §4.10).
const defaultUnapproveCount = 10

// UnapproveResult reports what happened for one canonical path.
type UnapproveResult struct {
	CanonicalPath string
	MovedBack     bool
	Unlinked      bool
	Err           error
}

// UnapproveOptions overrides the deleteOnUnapprove default for one call.
type UnapproveOptions struct {
	DeleteHardlinks *bool // nil means use the engine default
}

// Unapprove reverses Apply for the given canonical paths, or for the N most
// recently applied entries (by AppliedAt descending) when paths is empty
// (spec.md §4.10).
func (e *Engine) Unapprove(ctx context.Context, paths []string, n int, opts UnapproveOptions) ([]UnapproveResult, error) {
	targets, err := e.resolveUnapproveTargets(paths, n)
	if err != nil {
		return nil, err
	}

	deleteHardlinks := e.deleteOnUnapprove
	if opts.DeleteHardlinks != nil {
		deleteHardlinks = *opts.DeleteHardlinks
	}

	results := make([]UnapproveResult, 0, len(targets))
	reinject := make(map[string]bool, len(targets))
	for _, path := range targets {
		r := e.unapproveOne(path, deleteHardlinks)
		results = append(results, r)
		if r.Err == nil {
			reinject[path] = true
		}
	}

	if len(reinject) > 0 {
		if err := e.reinjectIntoScans(reinject); err != nil {
			e.log.Warn("reinject unapproved paths into scans", "error", err)
		}
	}
	return results, nil
}

// resolveUnapproveTargets implements the "explicit list or most-recent-N"
// selection spec.md §4.10 describes for Unapprove's input.
func (e *Engine) resolveUnapproveTargets(paths []string, n int) ([]string, error) {
	if len(paths) > 0 {
		return paths, nil
	}
	if n <= 0 {
		n = defaultUnapproveCount
	}

	raw, err := e.st.All(store.MapEnrich)
	if err != nil {
		return nil, fmt.Errorf("unapprove: load enrich entries: %w", err)
	}

	type applied struct {
		path string
		at   time.Time
	}
	var candidates []applied
	for path, msg := range raw {
		var entry model.EnrichEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			continue
		}
		if !entry.Applied {
			continue
		}
		candidates = append(candidates, applied{path: path, at: entry.AppliedAt})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.After(candidates[j].at) })
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.path)
	}
	return out, nil
}

// unapproveOne implements spec.md §4.10's per-entry 4-step behavior.
func (e *Engine) unapproveOne(canonicalPath string, deleteHardlinks bool) UnapproveResult {
	res := UnapproveResult{CanonicalPath: canonicalPath}

	var entry model.EnrichEntry
	ok, err := e.st.Get(store.MapEnrich, canonicalPath, &entry)
	if err != nil {
		res.Err = fmt.Errorf("unapprove: load enrich entry: %w", err)
		return res
	}
	if !ok {
		res.Err = fmt.Errorf("unapprove: no enrich entry for %s", canonicalPath)
		return res
	}

	_, sourceErr := os.Stat(canonicalPath)
	sourceMissing := sourceErr != nil

	// 1. Source missing and a prior target exists -> move it back.
	if sourceMissing && len(entry.AppliedTo) > 0 {
		target := entry.AppliedTo[len(entry.AppliedTo)-1]
		if err := mkdirParent(canonicalPath); err != nil {
			res.Err = fmt.Errorf("unapprove: mkdir source parent: %w", err)
			return res
		}
		if err := os.Rename(target, canonicalPath); err != nil {
			res.Err = fmt.Errorf("unapprove: move target back to source: %w", err)
			return res
		}
		res.MovedBack = true
		if err := e.st.Delete(store.MapRenderedIndex, target); err != nil {
			e.log.Warn("drop rendered index row", "target", target, "error", err)
		}
	} else if deleteHardlinks {
		// 2. Otherwise, best-effort unlink every tracked target.
		for _, target := range entry.AppliedTo {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				e.log.Warn("unlink applied target", "target", target, "error", err)
				res.Err = err
				continue
			}
			res.Unlinked = true
			if err := e.st.Delete(store.MapRenderedIndex, target); err != nil {
				e.log.Warn("drop rendered index row", "target", target, "error", err)
			}
		}
	}

	// 3. Clear applied bookkeeping.
	entry.Applied = false
	entry.Hidden = false
	entry.AppliedAt = time.Time{}
	entry.AppliedTo = nil

	// 4. Persist.
	if err := e.st.Set(store.MapEnrich, canonicalPath, &entry); err != nil {
		res.Err = fmt.Errorf("unapprove: persist enrich entry: %w", err)
	}
	return res
}

// reinjectIntoScans adds canonicalPath back into every active scan artifact
// it is no longer present in (spec.md §4.10 point 3). Items dropped by Apply
// lost their ScanItem identity, so re-injection mints a fresh one.
func (e *Engine) reinjectIntoScans(paths map[string]bool) error {
	scans, err := e.st.All(store.MapScans)
	if err != nil {
		return fmt.Errorf("load scans: %w", err)
	}

	for scanID, raw := range scans {
		var artifact model.ScanArtifact
		if err := json.Unmarshal(raw, &artifact); err != nil {
			continue
		}
		present := make(map[string]bool, len(artifact.Items))
		for _, item := range artifact.Items {
			present[item.CanonicalPath] = true
		}
		changed := false
		for path := range paths {
			if present[path] {
				continue
			}
			artifact.Items = append(artifact.Items, model.ScanItem{
				ID:            uuid.NewString(),
				CanonicalPath: path,
				ScannedAt:     time.Now(),
			})
			changed = true
		}
		if !changed {
			continue
		}
		artifact.TotalCount = len(artifact.Items)
		if err := e.st.Set(store.MapScans, scanID, &artifact); err != nil {
			e.log.Warn("persist reinjected scan artifact", "scanId", scanID, "error", err)
		}
	}
	return nil
}
