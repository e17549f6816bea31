package sqlstate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"custodyledger/internal/infra/persistence/memory"
	"custodyledger/pkg/domain"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(context.Background(), db, SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	if err := Migrate(context.Background(), db, SQLite); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPersistThenLoad(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	roles := domain.Roles{Owner: "0xo"}
	w := NewWriter(db, SQLite)

	commit := memory.Commit{
		Count: 1,
		Roles: &roles,
		Products: []domain.Product{{
			ID: 1, Name: "Widget", Price: decimal.NewFromFloat(9.99), Status: domain.StatusCreated, CreatedAt: at,
		}},
		Stages: map[domain.ProductStatus][]uint64{domain.StatusCreated: {1}},
		Transactions: []memory.LogEntry{{
			Seq:         0,
			Transaction: domain.Transaction{ProductID: 1, Type: domain.LabelProductCreated, Performer: "0xm", Timestamp: at},
		}},
		Users: []memory.UserEntry{{Identity: "0xm", Seq: 0, ProductID: 1}},
	}
	if err := w.Persist(ctx, commit); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Second commit rewrites the product and empties the Created bucket.
	moved := commit.Products[0]
	moved.Status = domain.StatusSentByManufacturer
	moved.Stamp(domain.StatusSentByManufacturer, at.Add(time.Hour))
	if err := w.Persist(ctx, memory.Commit{
		Count:    1,
		Products: []domain.Product{moved},
		Stages: map[domain.ProductStatus][]uint64{
			domain.StatusCreated:            {},
			domain.StatusSentByManufacturer: {1},
		},
		Transactions: []memory.LogEntry{{
			Seq:         1,
			Transaction: domain.Transaction{ProductID: 1, Type: domain.LabelSentByManufacturer, Performer: "0xm", Timestamp: at.Add(time.Hour)},
		}},
	}); err != nil {
		t.Fatalf("persist second: %v", err)
	}

	snap, err := Load(ctx, db, SQLite)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Count != 1 || snap.Roles.Owner != "0xo" {
		t.Fatalf("unexpected meta %+v", snap)
	}
	if len(snap.Products) != 1 || snap.Products[0].Status != domain.StatusSentByManufacturer {
		t.Fatalf("unexpected products %+v", snap.Products)
	}
	if _, ok := snap.Stages[domain.StatusCreated]; ok {
		t.Fatalf("empty bucket should not be restored: %v", snap.Stages)
	}
	if len(snap.Transactions[1]) != 2 {
		t.Fatalf("expected two log entries, got %+v", snap.Transactions[1])
	}
	if got := snap.Users["0xm"]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("unexpected users %v", snap.Users)
	}
}

func TestPersistRollsBackOnConflict(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	w := NewWriter(db, SQLite)
	p := domain.Product{ID: 1, Name: "Widget", Price: decimal.NewFromInt(1)}
	entry := memory.LogEntry{Seq: 0, Transaction: domain.Transaction{ProductID: 1, Type: domain.LabelProductCreated}}

	if err := w.Persist(ctx, memory.Commit{Count: 1, Products: []domain.Product{p}, Transactions: []memory.LogEntry{entry}}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	// Replaying the same log position violates the primary key.
	err := w.Persist(ctx, memory.Commit{Count: 2, Transactions: []memory.LogEntry{entry}})
	if err == nil {
		t.Fatalf("expected duplicate log entry to fail")
	}
	snap, err := Load(ctx, db, SQLite)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Count != 1 {
		t.Fatalf("count must not advance on a failed commit, got %d", snap.Count)
	}
}

func TestLoadDetectsLogGap(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	w := NewWriter(db, SQLite)
	err := w.Persist(ctx, memory.Commit{
		Count:        1,
		Products:     []domain.Product{{ID: 1, Name: "Widget", Price: decimal.NewFromInt(1)}},
		Transactions: []memory.LogEntry{{Seq: 3, Transaction: domain.Transaction{ProductID: 1}}},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := Load(ctx, db, SQLite); err == nil {
		t.Fatalf("expected gap to be reported")
	}
}

func TestOpenClosesDatabaseOnCorruptState(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	// Count claims two products but only one row exists.
	err := NewWriter(db, SQLite).Persist(ctx, memory.Commit{
		Count:    2,
		Products: []domain.Product{{ID: 1, Name: "Widget", Price: decimal.NewFromInt(1)}},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	_, err = Open(ctx, db, SQLite, nil)
	if !errors.Is(err, memory.ErrCorruptSnapshot) {
		t.Fatalf("expected corrupt snapshot error, got %v", err)
	}
	if pingErr := db.PingContext(ctx); pingErr == nil {
		t.Fatalf("expected database handle to be closed")
	}
}
