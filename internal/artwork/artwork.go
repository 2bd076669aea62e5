// Package artwork implements the approved-series image worker (spec.md
// §4.11, C14): a background loop that caches one cover image per
// (output-root bucket, series) once that series has at least one applied
// entry. The ticker-plus-per-key-lock-plus-cooldown shape is grounded on
// the teacher's internal/download.Manager polling loop and
// internal/events.Bus's per-subscriber concurrency guards.
package artwork

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vmunix/arrgo-renamer/internal/model"
	"github.com/vmunix/arrgo-renamer/internal/providers/anidb"
	"github.com/vmunix/arrgo-renamer/internal/providers/anilist"
	"github.com/vmunix/arrgo-renamer/internal/providers/tmdb"
	"github.com/vmunix/arrgo-renamer/internal/store"
)

// tickInterval and batchSize implement spec.md §4.11's "every 25s fetch up
// to 3 images across all users".
const (
	tickInterval = 25 * time.Second
	batchSize    = 3
	cooldown     = 3 * time.Second
)

// Bucket is one configured output root - the namespace the worker caches
// artwork under (spec.md §6.3 OutputBucket).
type Bucket struct {
	Username string
	Key      string // outputKey, e.g. the bucket's configured short name
	Provider string // "anilist" (default), "tmdb", or "anidb"
}

// Candidate is one (bucket, series) pair that has at least one applied
// entry and no cached image yet.
type Candidate struct {
	Bucket     Bucket
	SeriesKey  string // normalized series name
	SeriesName string // display title used to query providers
}

// CandidateSource supplies pending (bucket, series) pairs to fetch
// artwork for; internal/core's service wires this to the enrich cache.
type CandidateSource interface {
	PendingArtwork(ctx context.Context, limit int) ([]Candidate, error)
}

// Worker runs the background artwork fetch loop.
type Worker struct {
	st     *store.Store
	log    *slog.Logger
	source CandidateSource

	anilistClient *anilist.Client
	tmdbClient    *tmdb.Client
	anidbClient   *anidb.Client // optional; AniDB path is skipped when nil

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	cooldowns map[string]time.Time

	// fetchFn does the actual provider call; a field (not a direct method
	// call) so tests can substitute a stub instead of hitting real
	// provider APIs.
	fetchFn func(ctx context.Context, cand Candidate) (*model.ApprovedSeriesImage, error)
}

// New builds a Worker. anidbClient may be nil if no AniDB credentials are
// configured, in which case AniDB-bucket candidates are skipped.
func New(st *store.Store, source CandidateSource, anilistClient *anilist.Client, tmdbClient *tmdb.Client, anidbClient *anidb.Client, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		st:            st,
		log:           log.With("component", "artwork"),
		source:        source,
		anilistClient: anilistClient,
		tmdbClient:    tmdbClient,
		anidbClient:   anidbClient,
		locks:         make(map[string]*sync.Mutex),
		cooldowns:     make(map[string]time.Time),
	}
	w.fetchFn = w.fetchFromProvider
	return w
}

// Run drives the 25s tick loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	candidates, err := w.source.PendingArtwork(ctx, batchSize)
	if err != nil {
		w.log.Warn("list pending artwork candidates", "error", err)
		return
	}
	for _, cand := range candidates {
		if _, err := w.FetchOne(ctx, cand); err != nil {
			w.log.Warn("fetch artwork", "bucket", cand.Bucket.Key, "series", cand.SeriesKey, "error", err)
		}
	}
}

// storeKey is the persisted ApprovedSeriesImage key (spec.md §3/§4.11
// "outputKey::normalizedSeriesKey").
func storeKey(bucket Bucket, seriesKey string) string {
	return bucket.Key + "::" + seriesKey
}

// lockKey additionally scopes by user, since spec.md §4.11 describes
// "per-key locks (username::outputKey::seriesKey)".
func lockKey(bucket Bucket, seriesKey string) string {
	return bucket.Username + "::" + storeKey(bucket, seriesKey)
}

// FetchOne fetches and persists one series' artwork on demand (spec.md
// §4.11 "on demand via a public entry point for a single series"),
// honoring the per-key lock and cooldown.
func (w *Worker) FetchOne(ctx context.Context, cand Candidate) (*model.ApprovedSeriesImage, error) {
	key := lockKey(cand.Bucket, cand.SeriesKey)

	w.mu.Lock()
	lk, ok := w.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		w.locks[key] = lk
	}
	if until, cooling := w.cooldowns[key]; cooling && time.Now().Before(until) {
		w.mu.Unlock()
		return nil, nil
	}
	w.mu.Unlock()

	if !lk.TryLock() {
		return nil, nil
	}
	defer lk.Unlock()

	defer func() {
		w.mu.Lock()
		w.cooldowns[key] = time.Now().Add(cooldown)
		w.mu.Unlock()
	}()

	img, err := w.fetchFn(ctx, cand)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, nil
	}
	img.FetchedAt = time.Now()
	if err := w.st.Set(store.MapApprovedSeriesImgs, storeKey(cand.Bucket, cand.SeriesKey), img); err != nil {
		return nil, fmt.Errorf("artwork: persist image: %w", err)
	}
	return img, nil
}

func (w *Worker) fetchFromProvider(ctx context.Context, cand Candidate) (*model.ApprovedSeriesImage, error) {
	switch strings.ToLower(cand.Bucket.Provider) {
	case "tmdb":
		return w.fetchTMDB(ctx, cand.SeriesName)
	case "anidb":
		return w.fetchAniDB(ctx, cand.SeriesName)
	default:
		return w.fetchAniList(ctx, cand.SeriesName)
	}
}

func (w *Worker) fetchAniList(ctx context.Context, title string) (*model.ApprovedSeriesImage, error) {
	if w.anilistClient == nil {
		return nil, nil
	}
	art, err := w.anilistClient.FetchArtwork(ctx, title)
	if err != nil {
		return nil, err
	}
	if art == nil || art.ImageURL == "" {
		return nil, nil
	}
	return &model.ApprovedSeriesImage{
		Provider: "anilist",
		ImageURL: art.ImageURL,
		Summary:  art.Summary,
		MediaID:  art.MediaID,
	}, nil
}

func (w *Worker) fetchTMDB(ctx context.Context, title string) (*model.ApprovedSeriesImage, error) {
	if w.tmdbClient == nil {
		return nil, nil
	}
	img, err := w.tmdbClient.FetchPoster(ctx, title)
	if err != nil {
		return nil, err
	}
	if img == nil || img.ImageURL == "" {
		return nil, nil
	}
	return &model.ApprovedSeriesImage{
		Provider: "tmdb",
		ImageURL: img.ImageURL,
		MediaID:  img.MediaID,
	}, nil
}

// fetchAniDB implements spec.md §4.11's AniDB chain: locate the AID via
// AniList's externalLinks for the same title, fetch AniDB's picture
// filename for that AID, and fall back to the AniList cover (cross-
// verified against the same AID) if AniDB has no picture on file.
func (w *Worker) fetchAniDB(ctx context.Context, title string) (*model.ApprovedSeriesImage, error) {
	if w.anidbClient == nil || w.anilistClient == nil {
		return nil, nil
	}
	art, err := w.anilistClient.FetchArtwork(ctx, title)
	if err != nil {
		return nil, err
	}
	if art == nil || art.AniDBID == "" {
		return nil, nil
	}

	url, err := w.anidbClient.PictureURL(ctx, art.AniDBID)
	if err != nil {
		w.log.Warn("anidb picture lookup failed, falling back to anilist", "aid", art.AniDBID, "error", err)
	}
	if url != "" {
		return &model.ApprovedSeriesImage{
			Provider: "anidb",
			ImageURL: url,
			Summary:  art.Summary,
			MediaID:  art.AniDBID,
		}, nil
	}

	if art.ImageURL == "" {
		return nil, nil
	}
	return &model.ApprovedSeriesImage{
		Provider: "anidb",
		ImageURL: art.ImageURL,
		Summary:  art.Summary,
		MediaID:  art.AniDBID,
	}, nil
}
