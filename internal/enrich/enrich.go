// Package enrich implements the enrichment cache manager (spec.md §4.6,
// C10): it normalizes resolver output, preserves the apply/hide bookkeeping
// across overwrites, memoizes provider failures, and sweeps stale entries.
// Implements the resolver.Cache interface so internal/resolver never
// imports this package directly (resolver.Cache is defined in
// internal/resolver itself, closing the cycle the other way).
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/resolver"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// Manager is the enrichment cache manager.
type Manager struct {
	st  *store.Store
	log *slog.Logger
}

// New builds a Manager backed by st.
func New(st *store.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{st: st, log: log.With("component", "enrich")}
}

// Get returns the normalized entry for key, implementing resolver.Cache.
func (m *Manager) Get(ctx context.Context, key string) (*model.EnrichEntry, bool, error) {
	var entry model.EnrichEntry
	ok, err := m.st.Get(store.MapEnrich, key, &entry)
	if err != nil {
		return nil, false, fmt.Errorf("enrich: get %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Update merges res onto the prior entry for key, runs normalization, and
// persists the result (spec.md §4.6 "update(key, patch)"). The prior
// value's applied/hidden/appliedAt/appliedTo/metadataFilename/renderedName
// always survive the merge.
func (m *Manager) Update(ctx context.Context, key string, res *resolver.Result) (*model.EnrichEntry, error) {
	var prior model.EnrichEntry
	hadPrior, err := m.st.Get(store.MapEnrich, key, &prior)
	if err != nil {
		return nil, fmt.Errorf("enrich: load prior entry %s: %w", key, err)
	}

	entry := prior
	if !hadPrior {
		entry = model.EnrichEntry{}
	}

	entry.Title = res.Title
	entry.SeriesTitle = res.SeriesTitle
	entry.SeriesTitleExact = res.SeriesTitleExact
	entry.SeriesTitleEnglish = res.SeriesTitleEnglish
	entry.SeriesTitleRomaji = res.SeriesTitleRomaji
	entry.OriginalSeriesTitle = res.OriginalSeriesTitle
	entry.Year = res.Year
	entry.IsMovie = res.IsMovie
	entry.MediaFormat = res.MediaFormat
	entry.EpisodeTitle = res.EpisodeTitle
	entry.Season = res.Season
	entry.Episode = res.Episode
	entry.EpisodeRange = res.EpisodeRange
	entry.Provider = res.Provider
	entry.Parsed = res.Parsed
	entry.ExtraGuess = res.ExtraGuess
	entry.SourceID = res.Source
	entry.Timestamp = time.Now()
	entry.CachedAt = time.Now()

	normalizeEnrichEntry(&entry)

	if entry.Provider != nil && entry.Provider.Matched {
		entry.ProviderFailure = nil
	}

	if err := m.st.Set(store.MapEnrich, key, &entry); err != nil {
		return nil, fmt.Errorf("enrich: persist %s: %w", key, err)
	}
	return &entry, nil
}

// RecordFailure memoizes a negative provider lookup, implementing
// resolver.Cache.
func (m *Manager) RecordFailure(ctx context.Context, key string, pf model.ProviderFailure) error {
	var entry model.EnrichEntry
	hadPrior, err := m.st.Get(store.MapEnrich, key, &entry)
	if err != nil {
		return fmt.Errorf("enrich: load for record-failure %s: %w", key, err)
	}
	if hadPrior && entry.ProviderFailure != nil && entry.ProviderFailure.Reason == pf.Reason {
		pf.AttemptCount = entry.ProviderFailure.AttemptCount + 1
		pf.FirstAttemptAt = entry.ProviderFailure.FirstAttemptAt
	}
	entry.ProviderFailure = &pf
	entry.Timestamp = time.Now()
	if err := m.st.Set(store.MapEnrich, key, &entry); err != nil {
		return fmt.Errorf("enrich: persist failure %s: %w", key, err)
	}
	return nil
}

// MarkFailureSkip bumps the skip counter on a memoized failure, implementing
// resolver.Cache.
func (m *Manager) MarkFailureSkip(ctx context.Context, key string) error {
	var entry model.EnrichEntry
	ok, err := m.st.Get(store.MapEnrich, key, &entry)
	if err != nil {
		return fmt.Errorf("enrich: load for mark-failure-skip %s: %w", key, err)
	}
	if !ok || entry.ProviderFailure == nil {
		return nil
	}
	entry.ProviderFailure.SkipCount++
	entry.ProviderFailure.LastSkipAt = time.Now()
	return m.st.Set(store.MapEnrich, key, &entry)
}

// ClearFailure drops any memoized failure, implementing resolver.Cache.
func (m *Manager) ClearFailure(ctx context.Context, key string) error {
	var entry model.EnrichEntry
	ok, err := m.st.Get(store.MapEnrich, key, &entry)
	if err != nil {
		return fmt.Errorf("enrich: load for clear-failure %s: %w", key, err)
	}
	if !ok || entry.ProviderFailure == nil {
		return nil
	}
	entry.ProviderFailure = nil
	return m.st.Set(store.MapEnrich, key, &entry)
}

// PersistNow flushes any debounced writes immediately (spec.md §4.6
// "persistNow() for graceful shutdown").
func (m *Manager) PersistNow(ctx context.Context) error {
	return m.st.PersistNow()
}

// Sweep drops entries whose source file no longer exists and which are
// neither applied nor hidden, along with any RenderedIndex rows that
// referenced them (spec.md §4.6 "sweep()").
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	raw, err := m.st.All(store.MapEnrich)
	if err != nil {
		return 0, fmt.Errorf("enrich: sweep load: %w", err)
	}

	renderedRaw, err := m.st.All(store.MapRenderedIndex)
	if err != nil {
		return 0, fmt.Errorf("enrich: sweep load rendered index: %w", err)
	}

	removed := 0
	for key, msg := range raw {
		var entry model.EnrichEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			continue
		}
		if entry.Applied || entry.Hidden {
			continue
		}
		if _, statErr := os.Stat(key); statErr == nil {
			continue
		}

		if err := m.st.Delete(store.MapEnrich, key); err != nil {
			m.log.Warn("sweep delete enrich entry", "path", key, "error", err)
			continue
		}
		removed++

		for target, rowMsg := range renderedRaw {
			var row model.RenderedIndexRow
			if err := json.Unmarshal(rowMsg, &row); err != nil {
				continue
			}
			if row.Source != key {
				continue
			}
			if err := m.st.Delete(store.MapRenderedIndex, target); err != nil {
				m.log.Warn("sweep delete rendered index row", "target", target, "error", err)
			}
		}
	}

	if removed > 0 {
		m.log.Info("ENRICH_SWEEP", "removed", removed)
	}
	return removed, nil
}
