package models

import (
	"fmt"
	"time"
)

// SnapshotEntry is the persisted form of one symbol's series.
type SnapshotEntry struct {
	LastUpdated time.Time    `json:"lastUpdated"`
	Data        []PricePoint `json:"data"`
	Name        string       `json:"name,omitempty"`
	Inception   *Date        `json:"inception,omitempty"`
}

// Snapshot is the whole persisted cache, keyed by symbol.
type Snapshot map[string]SnapshotEntry

// SnapshotFromEntries builds the persisted form of the given entries.
func SnapshotFromEntries(entries map[string]*SeriesEntry) Snapshot {
	snap := make(Snapshot, len(entries))
	for symbol, e := range entries {
		if e == nil {
			continue
		}
		c := e.Clone()
		snap[symbol] = SnapshotEntry{
			LastUpdated: c.LastUpdated.UTC(),
			Data:        c.Series,
			Name:        c.Name,
			Inception:   c.Inception,
		}
	}
	return snap
}

// Entry converts one persisted record back to a SeriesEntry.
func (s Snapshot) Entry(symbol string) (*SeriesEntry, error) {
	rec, ok := s[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s not in snapshot", symbol)
	}
	data := make([]PricePoint, len(rec.Data))
	copy(data, rec.Data)
	e := &SeriesEntry{
		Symbol:      CanonicalSymbol(symbol),
		Name:        rec.Name,
		LastUpdated: rec.LastUpdated,
		Series:      data,
	}
	if rec.Inception != nil {
		inc := *rec.Inception
		e.Inception = &inc
	}
	return e, nil
}
