// Package surrealdb implements the SurrealDB-backed price snapshot.
package surrealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/models"
)

const (
	snapshotTable = "price_snapshot"
	snapshotKey   = "current"
)

// maxCBORDocBytes is the maximum encoded document size for SurrealDB's CBOR wire format.
const maxCBORDocBytes = 10_000_000

// snapshotRecord is the SurrealDB record shape. The snapshot is kept as the
// serialized document so ReadRaw returns the same bytes the file backend would.
type snapshotRecord struct {
	Payload   string    `json:"payload"`
	Symbols   int       `json:"symbols"`
	WrittenAt time.Time `json:"written_at"`
}

// SnapshotStore implements interfaces.SnapshotBackend using SurrealDB.
type SnapshotStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	owned  bool
}

// Connect opens a SurrealDB connection and returns a snapshot store that owns it.
func Connect(ctx context.Context, logger *common.Logger, cfg common.SurrealDBConfig) (*SnapshotStore, error) {
	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	s, err := NewSnapshotStore(ctx, db, logger)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	s.owned = true

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB snapshot store initialized")

	return s, nil
}

// NewSnapshotStore wraps an existing connection and ensures the table exists.
func NewSnapshotStore(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*SnapshotStore, error) {
	// SurrealDB v3 errors on querying non-existent tables
	sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", snapshotTable)
	if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
		return nil, fmt.Errorf("failed to define table %s: %w", snapshotTable, err)
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

func (s *SnapshotStore) recordID() surrealmodels.RecordID {
	return surrealmodels.NewRecordID(snapshotTable, snapshotKey)
}

// Load decodes the stored snapshot document.
func (s *SnapshotStore) Load(ctx context.Context) (models.Snapshot, error) {
	raw, err := s.ReadRaw(ctx)
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot record: %v: %w", err, interfaces.ErrSnapshotCorrupt)
	}
	if snap == nil {
		snap = models.Snapshot{}
	}
	return snap, nil
}

// Save replaces the snapshot record. A single-record UPSERT is atomic.
func (s *SnapshotStore) Save(ctx context.Context, snap models.Snapshot) error {
	if snap == nil {
		snap = models.Snapshot{}
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if len(payload) > maxCBORDocBytes {
		return fmt.Errorf("snapshot too large for storage: %d bytes (limit %d)", len(payload), maxCBORDocBytes)
	}

	sql := "UPSERT $rid CONTENT $data"
	vars := map[string]any{
		"rid": s.recordID(),
		"data": snapshotRecord{
			Payload:   string(payload) + "\n",
			Symbols:   len(snap),
			WrittenAt: time.Now().UTC(),
		},
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]snapshotRecord](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn().Int("attempt", attempt).Err(err).Msg("Snapshot upsert failed")
	}
	return fmt.Errorf("failed to save snapshot after retries: %w", lastErr)
}

// ReadRaw returns the stored snapshot document verbatim.
func (s *SnapshotStore) ReadRaw(ctx context.Context) ([]byte, error) {
	rec, err := surrealdb.Select[snapshotRecord](ctx, s.db, s.recordID())
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshot: %w", err)
	}
	if rec == nil || rec.Payload == "" {
		return nil, fmt.Errorf("%s:%s: %w", snapshotTable, snapshotKey, interfaces.ErrSnapshotNotFound)
	}
	return []byte(rec.Payload), nil
}

// Close releases the connection when this store opened it.
func (s *SnapshotStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close(context.Background())
}
