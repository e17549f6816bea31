// Package sqlstate persists the ledger state aggregate into a SQL database.
// Schema changes are goose migrations embedded per dialect; commits are
// written incrementally, touching only the rows a transaction changed.
package sqlstate

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"

	"custodyledger/internal/infra/persistence/memory"
	"custodyledger/pkg/domain"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialect captures the per-database differences.
type Dialect struct {
	Name        string
	Goose       goose.Dialect
	Placeholder sq.PlaceholderFormat
}

// Supported dialects.
var (
	SQLite   = Dialect{Name: "sqlite", Goose: goose.DialectSQLite3, Placeholder: sq.Question}
	Postgres = Dialect{Name: "postgres", Goose: goose.DialectPostgres, Placeholder: sq.Dollar}
)

const (
	metaRoles = "roles"
	metaCount = "count"
)

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	sub, err := fs.Sub(migrations, "migrations/"+d.Name)
	if err != nil {
		return fmt.Errorf("migrations for %s: %w", d.Name, err)
	}
	provider, err := goose.NewProvider(d.Goose, db, sub)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Writer applies commits to the database.
type Writer struct {
	db *sql.DB
	d  Dialect
}

// NewWriter builds a writer for db.
func NewWriter(db *sql.DB, d Dialect) *Writer {
	return &Writer{db: db, d: d}
}

// Persist writes one commit inside a single database transaction. It has the
// memory.CommitHook signature.
func (w *Writer) Persist(ctx context.Context, c memory.Commit) (retErr error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			retErr = errors.Join(retErr, tx.Rollback())
		}
	}()

	exec := func(b sq.Sqlizer) error {
		query, args, err := b.ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	}
	psq := sq.StatementBuilder.PlaceholderFormat(w.d.Placeholder)

	for _, p := range c.Products {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode product %d: %w", p.ID, err)
		}
		if err := exec(psq.Insert("products").
			Columns("id", "status", "payload").
			Values(p.ID, p.Status.String(), string(payload)).
			Suffix("ON CONFLICT (id) DO UPDATE SET status = excluded.status, payload = excluded.payload")); err != nil {
			return fmt.Errorf("upsert product %d: %w", p.ID, err)
		}
	}
	for _, e := range c.Transactions {
		payload, err := json.Marshal(e.Transaction)
		if err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}
		if err := exec(psq.Insert("product_transactions").
			Columns("product_id", "seq", "payload").
			Values(e.Transaction.ProductID, e.Seq, string(payload))); err != nil {
			return fmt.Errorf("append transaction %d/%d: %w", e.Transaction.ProductID, e.Seq, err)
		}
	}
	for _, u := range c.Users {
		if err := exec(psq.Insert("user_products").
			Columns("identity", "seq", "product_id").
			Values(string(u.Identity), u.Seq, u.ProductID)); err != nil {
			return fmt.Errorf("append user product %s/%d: %w", u.Identity, u.Seq, err)
		}
	}
	for status, ids := range c.Stages {
		payload, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("encode stage %s: %w", status, err)
		}
		if err := exec(psq.Insert("stage_buckets").
			Columns("status", "ids").
			Values(status.String(), string(payload)).
			Suffix("ON CONFLICT (status) DO UPDATE SET ids = excluded.ids")); err != nil {
			return fmt.Errorf("upsert stage %s: %w", status, err)
		}
	}
	meta := map[string]any{metaCount: c.Count}
	if c.Roles != nil {
		meta[metaRoles] = *c.Roles
	}
	for key, value := range meta {
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if err := exec(psq.Insert("ledger_meta").
			Columns("key", "value").
			Values(key, string(payload)).
			Suffix("ON CONFLICT (key) DO UPDATE SET value = excluded.value")); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads the full ledger state back into a snapshot.
func Load(ctx context.Context, db *sql.DB, d Dialect) (memory.Snapshot, error) {
	snap := memory.Snapshot{
		Stages:       make(map[domain.ProductStatus][]uint64),
		Transactions: make(map[uint64][]domain.Transaction),
		Users:        make(map[domain.Identity][]uint64),
	}
	psq := sq.StatementBuilder.PlaceholderFormat(d.Placeholder)

	if err := scanAll(ctx, db, psq.Select("key", "value").From("ledger_meta"), func(rows *sql.Rows) error {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case metaRoles:
			return json.Unmarshal(value, &snap.Roles)
		case metaCount:
			n, err := strconv.ParseUint(string(value), 10, 64)
			if err != nil {
				return fmt.Errorf("decode count: %w", err)
			}
			snap.Count = n
		}
		return nil
	}); err != nil {
		return snap, fmt.Errorf("load meta: %w", err)
	}

	if err := scanAll(ctx, db, psq.Select("payload").From("products").OrderBy("id"), func(rows *sql.Rows) error {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		var p domain.Product
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		snap.Products = append(snap.Products, p)
		return nil
	}); err != nil {
		return snap, fmt.Errorf("load products: %w", err)
	}

	if err := scanAll(ctx, db, psq.Select("status", "ids").From("stage_buckets"), func(rows *sql.Rows) error {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return err
		}
		status, err := domain.ParseStatus(name)
		if err != nil {
			return err
		}
		var ids []uint64
		if err := json.Unmarshal(payload, &ids); err != nil {
			return err
		}
		if len(ids) > 0 {
			snap.Stages[status] = ids
		}
		return nil
	}); err != nil {
		return snap, fmt.Errorf("load stages: %w", err)
	}

	if err := scanAll(ctx, db, psq.Select("product_id", "seq", "payload").From("product_transactions").OrderBy("product_id", "seq"), func(rows *sql.Rows) error {
		var id uint64
		var seq int
		var payload []byte
		if err := rows.Scan(&id, &seq, &payload); err != nil {
			return err
		}
		if seq != len(snap.Transactions[id]) {
			return fmt.Errorf("gap in log of product %d at seq %d", id, seq)
		}
		var entry domain.Transaction
		if err := json.Unmarshal(payload, &entry); err != nil {
			return err
		}
		snap.Transactions[id] = append(snap.Transactions[id], entry)
		return nil
	}); err != nil {
		return snap, fmt.Errorf("load transactions: %w", err)
	}

	if err := scanAll(ctx, db, psq.Select("identity", "product_id").From("user_products").OrderBy("identity", "seq"), func(rows *sql.Rows) error {
		var identity string
		var id uint64
		if err := rows.Scan(&identity, &id); err != nil {
			return err
		}
		key := domain.Identity(identity)
		snap.Users[key] = append(snap.Users[key], id)
		return nil
	}); err != nil {
		return snap, fmt.Errorf("load user products: %w", err)
	}
	return snap, nil
}

func scanAll(ctx context.Context, db *sql.DB, b sq.Sqlizer, fn func(*sql.Rows) error) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
