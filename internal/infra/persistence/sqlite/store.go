// Package sqlite opens the ledger on an embedded SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"custodyledger/internal/infra/persistence/memory"
	"custodyledger/internal/infra/persistence/sqlstate"
	"custodyledger/pkg/domain"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "custodyledger.db"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// Open creates (or reopens) the database at path and restores its state.
func Open(ctx context.Context, path string, engine *domain.RulesEngine, opts ...memory.Option) (*sqlstate.Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragmas and serialises writers at the driver.
	db.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, errors.Join(fmt.Errorf("%s: %w", pragma, err), db.Close())
		}
	}
	return sqlstate.Open(ctx, db, sqlstate.SQLite, engine, opts...)
}
