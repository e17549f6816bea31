package core

import (
	"context"
	"fmt"
	"time"

	"custodyledger/internal/infra/persistence/memory"
	"custodyledger/internal/infra/persistence/postgres"
	"custodyledger/internal/infra/persistence/sqlite"
	"custodyledger/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and parameterises a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
	// Clock overrides the transaction clock; nil uses UTC wall time.
	Clock func() time.Time
}

// OpenPersistentStore opens the configured backend. An empty driver selects
// sqlite.
func OpenPersistentStore(ctx context.Context, opts StorageOptions, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	var memOpts []memory.Option
	if opts.Clock != nil {
		memOpts = append(memOpts, memory.WithClock(opts.Clock))
	}
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, memOpts...), nil
	case StorageSQLite:
		store, err := sqlite.Open(ctx, opts.SQLitePath, engine, memOpts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.Open(ctx, opts.PostgresDSN, engine, memOpts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
