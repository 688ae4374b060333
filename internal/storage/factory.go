package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/storage/marketfs"
	"github.com/bobmcallan/pricecache/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendFile      = "file"
	BackendSurrealDB = "surrealdb"
)

// NewSnapshotBackend creates the snapshot backend selected by configuration.
// Supported backends: "file" (default), "surrealdb".
func NewSnapshotBackend(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.SnapshotBackend, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendFile:
		store, err := marketfs.NewSnapshotStore(logger, config.Storage.File.Path)
		if err != nil {
			return nil, err
		}
		return store, nil

	case BackendSurrealDB:
		store, err := surrealdb.Connect(ctx, logger, config.Storage.SurrealDB)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, surrealdb)", backend)
	}
}
