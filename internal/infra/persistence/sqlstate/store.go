package sqlstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodyledger/internal/infra/persistence/memory"
	"custodyledger/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Store is a memory.Store whose commits are written through to a database.
// Reads never touch the database after the initial load.
type Store struct {
	*memory.Store
	db *sql.DB
}

// Open migrates db, loads the persisted state and returns a store that
// persists every commit before applying it. The store owns db from here on.
func Open(ctx context.Context, db *sql.DB, d Dialect, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	fail := func(err error) (*Store, error) {
		return nil, errors.Join(err, db.Close())
	}
	if err := db.PingContext(ctx); err != nil {
		return fail(fmt.Errorf("ping %s: %w", d.Name, err))
	}
	if err := Migrate(ctx, db, d); err != nil {
		return fail(err)
	}
	snap, err := Load(ctx, db, d)
	if err != nil {
		return fail(err)
	}
	writer := NewWriter(db, d)
	mem := memory.NewStore(engine, append(opts, memory.WithCommitHook(writer.Persist))...)
	if err := mem.ImportState(snap); err != nil {
		return fail(fmt.Errorf("restore %s state: %w", d.Name, err))
	}
	return &Store{Store: mem, db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
