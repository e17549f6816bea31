// Package postgres opens the ledger on a PostgreSQL database through the pgx
// stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver

	"custodyledger/internal/infra/persistence/memory"
	"custodyledger/internal/infra/persistence/sqlstate"
	"custodyledger/pkg/domain"
)

// DefaultDSN targets a local development database.
const DefaultDSN = "postgres://localhost/custodyledger?sslmode=disable"

var sqlOpen = sql.Open

// Open connects to dsn, applies migrations and restores the persisted state.
func Open(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*sqlstate.Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return sqlstate.Open(ctx, db, sqlstate.Postgres, engine, opts...)
}
