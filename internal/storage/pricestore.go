// Package storage provides the shared in-memory price cache and its
// persistence backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/models"
)

// Snapshot errors, shared with the backends.
var (
	ErrSnapshotNotFound = interfaces.ErrSnapshotNotFound
	ErrSnapshotCorrupt  = interfaces.ErrSnapshotCorrupt
)

// PriceStore implements interfaces.PriceStore. All reads return copies, every
// write to one symbol goes through that symbol's mutex, and Persist writes the
// whole map through the backend in one operation.
type PriceStore struct {
	backend interfaces.SnapshotBackend
	logger  *common.Logger

	mu      sync.RWMutex
	entries map[string]*models.SeriesEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	persistMu sync.Mutex
}

// NewPriceStore creates an empty store over backend. Call Load to populate it.
func NewPriceStore(backend interfaces.SnapshotBackend, logger *common.Logger) *PriceStore {
	return &PriceStore{
		backend: backend,
		logger:  logger,
		entries: make(map[string]*models.SeriesEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Load replaces the in-memory map with the persisted snapshot. A missing or
// unreadable snapshot leaves the store empty and is not an error.
func (s *PriceStore) Load(ctx context.Context) error {
	entries, err := s.readBackend(ctx)
	if err != nil {
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
			s.logger.Info().Msg("No price snapshot found, starting with an empty cache")
		case errors.Is(err, ErrSnapshotCorrupt):
			s.logger.Warn().Err(err).Msg("Price snapshot is corrupt, starting with an empty cache")
		default:
			s.logger.Warn().Err(err).Msg("Failed to load price snapshot, starting with an empty cache")
		}
		entries = make(map[string]*models.SeriesEntry)
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.Info().Int("symbols", len(entries)).Msg("Price cache loaded")
	return nil
}

// Reload re-reads the persisted snapshot. On failure the in-memory map is kept
// and the error returned. Entries held in memory that are newer than their
// persisted copy survive the reload.
func (s *PriceStore) Reload(ctx context.Context) error {
	loaded, err := s.readBackend(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Price snapshot reload failed, keeping in-memory cache")
		return fmt.Errorf("reload price snapshot: %w", err)
	}

	s.mu.Lock()
	for symbol, current := range s.entries {
		if disk, ok := loaded[symbol]; !ok || current.LastUpdated.After(disk.LastUpdated) {
			loaded[symbol] = current
		}
	}
	s.entries = loaded
	n := len(loaded)
	s.mu.Unlock()

	s.logger.Debug().Int("symbols", n).Msg("Price cache reloaded")
	return nil
}

func (s *PriceStore) readBackend(ctx context.Context) (map[string]*models.SeriesEntry, error) {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	// Sorted keys keep case-colliding entries ("spy" and "SPY") resolving
	// the same way on every load.
	keys := make([]string, 0, len(snap))
	for key := range snap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make(map[string]*models.SeriesEntry, len(snap))
	for _, key := range keys {
		e, err := snap.Entry(key)
		if err != nil {
			continue
		}
		e.Series = models.NormalizeSeries(e.Series)
		if prev, ok := entries[e.Symbol]; ok {
			s.logger.Warn().Str("symbol", e.Symbol).Str("key", key).Msg("Snapshot holds the symbol under several keys, merging")
			e = combineEntries(prev, e)
		}
		entries[e.Symbol] = e
	}
	return entries, nil
}

// combineEntries folds two snapshot entries for the same symbol. The entry
// with the later LastUpdated wins overlapping dates and metadata; on a tie b
// wins.
func combineEntries(a, b *models.SeriesEntry) *models.SeriesEntry {
	older, newer := a, b
	if a.LastUpdated.After(b.LastUpdated) {
		older, newer = b, a
	}
	out := newer.Clone()
	out.Series = models.MergeSeries(older.Series, newer.Series)
	if out.Name == "" {
		out.Name = older.Name
	}
	if out.Inception == nil && older.Inception != nil {
		inc := *older.Inception
		out.Inception = &inc
	}
	return out
}

// Get returns a copy of the entry for symbol.
func (s *PriceStore) Get(symbol string) (*models.SeriesEntry, bool) {
	s.mu.RLock()
	e, ok := s.entries[models.CanonicalSymbol(symbol)]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Put replaces the entry for symbol.
func (s *PriceStore) Put(symbol string, entry *models.SeriesEntry) {
	key := models.CanonicalSymbol(symbol)
	lock := s.symbolLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing := s.entries[key]
	s.mu.RUnlock()
	s.write(key, existing, entry)
}

// Update runs fn inside symbol's critical section and stores its result.
// fn receives a copy of the current entry (nil when absent); returning
// nil, nil leaves the entry untouched. The stored entry is returned.
func (s *PriceStore) Update(symbol string, fn interfaces.UpdateFunc) (*models.SeriesEntry, error) {
	key := models.CanonicalSymbol(symbol)
	lock := s.symbolLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing := s.entries[key]
	s.mu.RUnlock()

	next, err := fn(existing.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing.Clone(), nil
	}
	return s.write(key, existing, next).Clone(), nil
}

// write stores entry under key. Caller holds key's symbol lock.
func (s *PriceStore) write(key string, existing, entry *models.SeriesEntry) *models.SeriesEntry {
	stored := entry.Clone()
	stored.Symbol = key
	if existing != nil && stored.LastUpdated.Before(existing.LastUpdated) {
		stored.LastUpdated = existing.LastUpdated
	}

	s.mu.Lock()
	s.entries[key] = stored
	s.mu.Unlock()
	return stored
}

func (s *PriceStore) symbolLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Symbols returns the cached symbols, sorted.
func (s *PriceStore) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of cached symbols.
func (s *PriceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Persist writes the current map through the backend. Persists are serialized.
func (s *PriceStore) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	snap := models.SnapshotFromEntries(s.entries)
	s.mu.RUnlock()

	if err := s.backend.Save(ctx, snap); err != nil {
		s.logger.Error().Err(err).Int("symbols", len(snap)).Msg("Failed to persist price snapshot")
		return fmt.Errorf("persist price snapshot: %w", err)
	}
	s.logger.Debug().Int("symbols", len(snap)).Msg("Price snapshot persisted")
	return nil
}

// ReadRaw returns the persisted snapshot bytes.
func (s *PriceStore) ReadRaw(ctx context.Context) ([]byte, error) {
	return s.backend.ReadRaw(ctx)
}

// Close releases the backend.
func (s *PriceStore) Close() error {
	return s.backend.Close()
}
