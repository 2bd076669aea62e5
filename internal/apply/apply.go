// Package apply implements the apply engine (spec.md §4.9, C12) and the
// unapprove engine (spec.md §4.10, C13 - same package, unapprove.go): it
// materializes render plans as hardlinks into the output tree, with
// retry/idempotence and RenderedIndex bookkeeping, and reverses them on
// request. The hardlink-with-retry shape generalizes the teacher's
// internal/importer/copy.go CopyFile (mkdir-parent-first,
// stat-destination-first), adapted from a copy to os.Link because the spec
// requires publishing without destroying the source.
package apply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// Status is the per-plan outcome kind (spec.md §4.9).
type Status string

const (
	StatusNoop       Status = "noop"
	StatusExists     Status = "exists"
	StatusHardlinked Status = "hardlinked"
	StatusPlanned    Status = "planned" // dry-run: would hardlink
	StatusError      Status = "error"
)

// Plan is one requested publish operation (spec.md §4.9 input).
type Plan struct {
	ItemID   string
	FromPath string
	ToPath   string
}

// Options carries the per-call overrides spec.md §4.9 describes.
type Options struct {
	// OutputFolder re-bases ToPath's portion beneath OriginalOutputRoot
	// under this override, preserving the series/season layout.
	OutputFolder string
	DryRun       bool
}

// Outcome reports what happened for one Plan.
type Outcome struct {
	ItemID string
	ToPath string
	Status Status
	Err    error
}

const maxHardlinkRetries = 3
const mkdirRetryDelay = 50 * time.Millisecond

// Engine applies and unapplies render plans.
type Engine struct {
	st                 *store.Store
	originalOutputRoot string
	deleteOnUnapprove  bool
	log                *slog.Logger
}

// New builds an Engine. originalOutputRoot is the server-configured output
// root used to compute Options.OutputFolder overrides (spec.md §4.9 point
// 3); deleteOnUnapprove is the default for the
// delete_hardlinks_on_unapprove setting (spec.md §6.2, default true).
func New(st *store.Store, originalOutputRoot string, deleteOnUnapprove bool, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{st: st, originalOutputRoot: originalOutputRoot, deleteOnUnapprove: deleteOnUnapprove, log: log.With("component", "apply")}
}

// Apply materializes plans as hardlinks (spec.md §4.9). Per-plan errors are
// collected into the returned Outcomes and never stop the remaining plans
// (spec.md "Failure semantics": "not transactional across plans").
func (e *Engine) Apply(ctx context.Context, plans []Plan, opts Options) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(plans))
	applied := make(map[string]string, len(plans)) // fromPath -> toPath

	for _, p := range plans {
		o := e.applyOne(ctx, p, opts)
		outcomes = append(outcomes, o)
		if !opts.DryRun && (o.Status == StatusHardlinked || o.Status == StatusExists) {
			applied[p.FromPath] = o.ToPath
		}
	}

	if !opts.DryRun && len(applied) > 0 {
		if err := e.filterScansAndNotify(applied); err != nil {
			e.log.Warn("filter scan artifacts after apply", "error", err)
		}
	}
	return outcomes, nil
}

func (e *Engine) applyOne(ctx context.Context, p Plan, opts Options) Outcome {
	out := Outcome{ItemID: p.ItemID, ToPath: p.ToPath}

	// 1. Resolve fromPath; error if missing.
	if _, err := os.Stat(p.FromPath); err != nil {
		out.Status = StatusError
		out.Err = fmt.Errorf("apply: source missing: %w", err)
		return out
	}

	toPath := p.ToPath
	if opts.OutputFolder != "" {
		toPath = rebaseUnderOverride(toPath, e.originalOutputRoot, opts.OutputFolder)
		out.ToPath = toPath
	}

	// 2. If fromPath == toPath -> noop.
	if p.FromPath == toPath {
		out.Status = StatusNoop
		return out
	}

	if opts.DryRun {
		if _, err := os.Stat(toPath); err == nil {
			out.Status = StatusExists
		} else {
			out.Status = StatusPlanned
		}
		return out
	}

	// 4. mkdir -p the parent of toPath (retry once after 50ms if it races).
	if err := mkdirParent(toPath); err != nil {
		out.Status = StatusError
		out.Err = fmt.Errorf("apply: mkdir parent: %w", err)
		return out
	}

	// 5. If toPath exists -> report exists (idempotent).
	if _, err := os.Stat(toPath); err == nil {
		out.Status = StatusExists
		if markErr := e.markApplied(p.FromPath, toPath); markErr != nil {
			e.log.Warn("mark applied for pre-existing target", "path", p.FromPath, "error", markErr)
		}
		return out
	}

	// 6. hardlink(fromPath, toPath) with up to 3 retries (EEXIST = success).
	if err := hardlinkWithRetry(p.FromPath, toPath); err != nil {
		out.Status = StatusError
		out.Err = fmt.Errorf("apply: hardlink: %w", err)
		return out
	}
	out.Status = StatusHardlinked

	if err := e.markApplied(p.FromPath, toPath); err != nil {
		e.log.Warn("mark applied", "path", p.FromPath, "error", err)
	}
	return out
}

// rebaseUnderOverride implements spec.md §4.9 point 3: compute the
// relative portion of toPath beneath originalRoot and re-base it under
// override, preserving series/season layout.
func rebaseUnderOverride(toPath, originalRoot, override string) string {
	if originalRoot == "" {
		return toPath
	}
	root := strings.TrimSuffix(filepath.ToSlash(originalRoot), "/") + "/"
	slashPath := filepath.ToSlash(toPath)
	if !strings.HasPrefix(slashPath, root) {
		return toPath
	}
	rel := strings.TrimPrefix(slashPath, root)
	return filepath.Join(override, rel)
}

func mkdirParent(toPath string) error {
	dir := filepath.Dir(toPath)
	err := os.MkdirAll(dir, 0o755)
	if err == nil {
		return nil
	}
	time.Sleep(mkdirRetryDelay)
	return os.MkdirAll(dir, 0o755)
}

func hardlinkWithRetry(from, to string) error {
	var lastErr error
	for attempt := 0; attempt <= maxHardlinkRetries; attempt++ {
		err := os.Link(from, to)
		if err == nil {
			return nil
		}
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return lastErr
}

// markApplied sets the applied/hidden bookkeeping on the enrich entry and
// upserts the RenderedIndex row (spec.md §4.9 point 6).
func (e *Engine) markApplied(fromPath, toPath string) error {
	var entry model.EnrichEntry
	ok, err := e.st.Get(store.MapEnrich, fromPath, &entry)
	if err != nil {
		return fmt.Errorf("load enrich entry: %w", err)
	}
	if !ok {
		entry = model.EnrichEntry{}
	}

	base := filepath.Base(toPath)
	ext := filepath.Ext(base)
	metadataFilename := strings.TrimSuffix(base, ext)

	entry.Applied = true
	entry.Hidden = true
	entry.AppliedAt = time.Now()
	entry.AppliedTo = appendUnique(entry.AppliedTo, toPath)
	entry.RenderedName = base
	entry.MetadataFilename = metadataFilename

	if err := e.st.Set(store.MapEnrich, fromPath, &entry); err != nil {
		return fmt.Errorf("persist enrich entry: %w", err)
	}

	row := model.RenderedIndexRow{
		Source:           fromPath,
		RenderedName:     base,
		AppliedTo:        toPath,
		MetadataFilename: metadataFilename,
		Provider:         entry.Provider,
		Parsed:           entry.Parsed,
	}
	if err := e.st.Set(store.MapRenderedIndex, toPath, &row); err != nil {
		return fmt.Errorf("persist rendered index row: %w", err)
	}
	return nil
}

func appendUnique(paths []string, p string) []string {
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}

// filterScansAndNotify implements spec.md §4.9 point 7: filter each scan
// artifact to drop paths that are now applied, persist, push a HideEvent.
func (e *Engine) filterScansAndNotify(applied map[string]string) error {
	scans, err := e.st.All(store.MapScans)
	if err != nil {
		return fmt.Errorf("load scans: %w", err)
	}

	var hidden []string
	for scanID, raw := range scans {
		var artifact model.ScanArtifact
		if jsonErr := json.Unmarshal(raw, &artifact); jsonErr != nil {
			continue
		}
		filtered := artifact.Items[:0]
		changed := false
		for _, item := range artifact.Items {
			if _, ok := applied[item.CanonicalPath]; ok {
				changed = true
				hidden = append(hidden, item.CanonicalPath)
				continue
			}
			filtered = append(filtered, item)
		}
		if !changed {
			continue
		}
		artifact.Items = filtered
		artifact.TotalCount = len(filtered)
		if err := e.st.Set(store.MapScans, scanID, &artifact); err != nil {
			e.log.Warn("persist filtered scan artifact", "scanId", scanID, "error", err)
		}
	}

	for _, path := range hidden {
		if err := e.pushHideEvent(path, ""); err != nil {
			e.log.Warn("push hide event", "path", path, "error", err)
		}
	}
	return nil
}

func (e *Engine) pushHideEvent(path, originalPath string) error {
	return store.PushHideEvent(e.st, &model.HideEvent{Path: path, OriginalPath: originalPath})
}

