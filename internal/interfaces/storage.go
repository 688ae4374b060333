package interfaces

import (
	"context"
	"errors"

	"github.com/bobmcallan/pricecache/internal/models"
)

// Snapshot backend errors
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt")
)

// SnapshotBackend persists the whole price cache as one document.
type SnapshotBackend interface {
	// Load returns the last persisted snapshot. ErrSnapshotNotFound when none
	// exists, ErrSnapshotCorrupt when it cannot be decoded.
	Load(ctx context.Context) (models.Snapshot, error)

	// Save replaces the persisted snapshot atomically.
	Save(ctx context.Context, snap models.Snapshot) error

	// ReadRaw returns the persisted bytes verbatim.
	ReadRaw(ctx context.Context) ([]byte, error)

	Close() error
}

// UpdateFunc computes a new entry from the current one (nil when absent).
// Returning nil, nil leaves the entry unchanged.
type UpdateFunc func(existing *models.SeriesEntry) (*models.SeriesEntry, error)

// PriceStore is the shared in-memory price cache with explicit persistence.
type PriceStore interface {
	Get(symbol string) (*models.SeriesEntry, bool)
	Put(symbol string, entry *models.SeriesEntry)
	Update(symbol string, fn UpdateFunc) (*models.SeriesEntry, error)
	Symbols() []string
	Len() int
	Persist(ctx context.Context) error
	Reload(ctx context.Context) error
	ReadRaw(ctx context.Context) ([]byte, error)
}
