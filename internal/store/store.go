// Package store implements the persistent KV store (spec.md §4.2, C3): a
// durable map-of-maps where each named map (enrich cache, parsed cache,
// rendered index, scan cache, ...) is backed by one JSON file under the
// data directory (spec.md §6.1). Writes are atomic per map; the enrich map
// additionally supports debounced persistence.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Names of the well-known maps, matching the on-disk filenames in
// spec.md §6.1.
const (
	MapEnrich            = "enrich-store"
	MapParsedCache        = "parsed-cache"
	MapRenderedIndex      = "rendered-index"
	MapScans              = "scans"
	MapScanCache          = "scan-cache"
	MapManualIDsSeries    = "manual-ids-series"
	MapManualIDsPaths     = "manual-ids-paths"
	MapApprovedSeriesImgs = "approved-series-images"
	MapWikiEpisodeCache   = "wiki-episode-cache"
	MapSettings           = "settings"
	MapUsers              = "users"
	MapHideEvents         = "hide-events"
)

// debouncedMaps lists which named maps use debounced persistence instead of
// immediate synchronous flush on every Set.
var debouncedMaps = map[string]bool{
	MapEnrich: true,
}

const debounceInterval = 100 * time.Millisecond

// Store is a map-of-maps KV store, one bucket per named map, persisted as
// one JSON document per map under dataDir.
type Store struct {
	dataDir string
	log     *slog.Logger

	mu      sync.RWMutex
	buckets map[string]map[string]json.RawMessage
	dirty   map[string]bool

	debounceMu sync.Mutex
	timers     map[string]*time.Timer
}

// Open loads (or creates) the store rooted at dataDir.
func Open(dataDir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{
		dataDir: dataDir,
		log:     log,
		buckets: make(map[string]map[string]json.RawMessage),
		dirty:   make(map[string]bool),
		timers:  make(map[string]*time.Timer),
	}
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

func (s *Store) load(name string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	if b, ok := s.buckets[name]; ok {
		s.mu.RUnlock()
		return b, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[name]; ok {
		return b, nil
	}

	bucket := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			s.buckets[name] = bucket
			return bucket, nil
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &bucket); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", name, err)
		}
	}
	s.buckets[name] = bucket
	return bucket, nil
}

// Get reads key from the named map into dst (a pointer). Returns false if
// the key is absent.
func (s *Store) Get(mapName, key string, dst any) (bool, error) {
	bucket, err := s.load(mapName)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	raw, ok := bucket[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s/%s: %w", mapName, key, err)
	}
	return true, nil
}

// All returns a snapshot copy of every key in mapName, raw-JSON encoded.
func (s *Store) All(mapName string) (map[string]json.RawMessage, error) {
	bucket, err := s.load(mapName)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(bucket))
	for k, v := range bucket {
		out[k] = v
	}
	return out, nil
}

// Set writes key=value into the named map and schedules persistence
// (debounced for MapEnrich, synchronous otherwise).
func (s *Store) Set(mapName, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", mapName, key, err)
	}
	bucket, err := s.load(mapName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	bucket[key] = raw
	s.dirty[mapName] = true
	s.mu.Unlock()

	return s.schedulePersist(mapName)
}

// Delete removes key from the named map.
func (s *Store) Delete(mapName, key string) error {
	bucket, err := s.load(mapName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := bucket[key]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(bucket, key)
	s.dirty[mapName] = true
	s.mu.Unlock()

	return s.schedulePersist(mapName)
}

func (s *Store) schedulePersist(mapName string) error {
	if !debouncedMaps[mapName] {
		return s.persistMap(mapName)
	}

	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	if t, ok := s.timers[mapName]; ok {
		t.Stop()
	}
	s.timers[mapName] = time.AfterFunc(debounceInterval, func() {
		if err := s.persistMap(mapName); err != nil {
			s.log.Error("io-persist: debounced flush failed", "map", mapName, "error", err)
		}
	})
	return nil
}

// persistMap writes the named map's bucket to disk atomically and returns
// any failure. Set and Delete pass it back to their callers for maps that
// persist synchronously; the debounced flush only logs it, and PersistNow
// logs it and returns the first one (spec.md §7, io-persist kind).
func (s *Store) persistMap(name string) error {
	s.mu.Lock()
	bucket, ok := s.buckets[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]json.RawMessage, len(bucket))
	for k, v := range bucket {
		snapshot[k] = v
	}
	s.dirty[name] = false
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", name, err)
	}

	pending, err := renameio.NewPendingFile(s.path(name))
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", name, err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", name, err)
	}
	return nil
}

// PersistNow flushes every dirty map synchronously, canceling any pending
// debounce timers first. Intended for graceful shutdown and critical
// operations (spec.md §4.2).
func (s *Store) PersistNow() error {
	s.debounceMu.Lock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.debounceMu.Unlock()

	s.mu.RLock()
	names := make([]string, 0, len(s.buckets))
	for name, dirty := range s.dirty {
		if dirty {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()

	var firstErr error
	for _, name := range names {
		if err := s.persistMap(name); err != nil {
			s.log.Error("io-persist: persistNow failed", "map", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
