package enrich

import (
	"context"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// ManualIDs is the store-backed implementation of resolver.ManualIDs.
type ManualIDs struct {
	st *store.Store
}

// NewManualIDs builds a ManualIDs reader over st.
func NewManualIDs(st *store.Store) *ManualIDs {
	return &ManualIDs{st: st}
}

// SeriesIDs looks up manual provider IDs pinned for a normalized series
// title, implementing resolver.ManualIDs.
func (m *ManualIDs) SeriesIDs(ctx context.Context, seriesKey string) (*model.ManualSeriesIDs, bool) {
	var ids model.ManualSeriesIDs
	ok, err := m.st.Get(store.MapManualIDsSeries, seriesKey, &ids)
	if err != nil || !ok {
		return nil, false
	}
	return &ids, true
}

// PathIDs looks up manual provider IDs pinned for one canonical file path,
// implementing resolver.ManualIDs.
func (m *ManualIDs) PathIDs(ctx context.Context, canonicalPath string) (*model.ManualPathIDs, bool) {
	var ids model.ManualPathIDs
	ok, err := m.st.Get(store.MapManualIDsPaths, canonicalPath, &ids)
	if err != nil || !ok {
		return nil, false
	}
	return &ids, true
}

// SetSeriesIDs pins manual provider IDs for a normalized series title.
func (m *ManualIDs) SetSeriesIDs(seriesKey string, ids model.ManualSeriesIDs) error {
	return m.st.Set(store.MapManualIDsSeries, seriesKey, &ids)
}

// SetPathIDs pins manual provider IDs for one canonical file path.
func (m *ManualIDs) SetPathIDs(canonicalPath string, ids model.ManualPathIDs) error {
	return m.st.Set(store.MapManualIDsPaths, canonicalPath, &ids)
}
