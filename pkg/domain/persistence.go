package domain

import (
	"context"
	"time"
)

// View provides read-only access to committed (or, inside a transaction,
// staged) ledger state. Returned slices are copies.
type View interface {
	Roles() Roles
	ProductCount() uint64
	FindProduct(id uint64) (Product, bool)
	StageOf(id uint64) (ProductStatus, bool)
	ListStage(status ProductStatus) []uint64
	ProductTransactions(id uint64) []Transaction
	UserProducts(identity Identity) []uint64
}

// Tx exposes the mutations a persistence implementation must support within
// an atomic scope. Nothing staged through a Tx is visible to readers until
// the surrounding RunInTransaction commits.
type Tx interface {
	View
	// Now is the commit clock shared by every timestamp written in the unit.
	Now() time.Time
	SetRoles(Roles)
	// CreateProduct assigns the next id and stores the record. It does not
	// index the product; callers add it to its stage explicitly.
	CreateProduct(Product) (Product, error)
	UpdateProduct(id uint64, mutator func(*Product) error) (Product, error)
	AddToStage(id uint64, status ProductStatus) error
	RemoveFromStage(id uint64, status ProductStatus) error
	AppendTransaction(Transaction) error
	AppendUserProduct(identity Identity, id uint64)
	// Emit buffers notifications; they are returned only if the unit commits.
	Emit(events ...Event)
}

// PersistentStore is the durable ledger state aggregate.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Tx) error) (Result, error)
	View(ctx context.Context, fn func(View) error) error
	Close() error
}
