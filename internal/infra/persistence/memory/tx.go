package memory

import (
	"fmt"
	"sort"
	"time"

	"custodyledger/pkg/domain"
)

// LogEntry is a transaction appended during a commit, with its position in
// the product's log.
type LogEntry struct {
	Seq         int
	Transaction domain.Transaction
}

// UserEntry is a product id appended to an identity's user index.
type UserEntry struct {
	Identity  domain.Identity
	Seq       int
	ProductID uint64
}

// Commit describes exactly what a successful transaction changes. Durable
// backends write it before the in-memory state is swapped.
type Commit struct {
	Count        uint64
	Roles        *domain.Roles
	Products     []domain.Product
	Stages       map[domain.ProductStatus][]uint64
	Transactions []LogEntry
	Users        []UserEntry
}

// Empty reports whether the commit carries no writes.
func (c Commit) Empty() bool {
	return c.Roles == nil && len(c.Products) == 0 && len(c.Stages) == 0 &&
		len(c.Transactions) == 0 && len(c.Users) == 0
}

// transaction stages writes over the committed state without copying it.
type transaction struct {
	base     *state
	now      time.Time
	roles    *domain.Roles
	count    uint64
	products map[uint64]domain.Product
	stages   *stageOverlay
	logs     map[uint64][]domain.Transaction
	users    []UserEntry
	changes  []domain.Change
	events   []domain.Event
}

var (
	_ domain.Tx       = (*transaction)(nil)
	_ domain.RuleView = (*transaction)(nil)
)

func newTransaction(base *state, now time.Time) *transaction {
	return &transaction{
		base:     base,
		now:      now,
		count:    base.count,
		products: make(map[uint64]domain.Product),
		stages:   newStageOverlay(base.stages),
		logs:     make(map[uint64][]domain.Transaction),
	}
}

func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) Roles() domain.Roles {
	if tx.roles != nil {
		return *tx.roles
	}
	return tx.base.roles
}

func (tx *transaction) SetRoles(r domain.Roles) {
	before := tx.Roles()
	tx.roles = &r
	tx.changes = append(tx.changes, domain.Change{
		Entity:      domain.EntityRoles,
		Action:      domain.ActionUpdate,
		RolesBefore: &before,
		RolesAfter:  &r,
	})
}

func (tx *transaction) ProductCount() uint64 { return tx.count }

func (tx *transaction) FindProduct(id uint64) (domain.Product, bool) {
	if p, ok := tx.products[id]; ok {
		return p, true
	}
	return tx.base.FindProduct(id)
}

func (tx *transaction) StageOf(id uint64) (domain.ProductStatus, bool) {
	sl, ok := tx.stages.lookup(id)
	return sl.status, ok
}

func (tx *transaction) ListStage(status domain.ProductStatus) []uint64 {
	return tx.stages.list(status)
}

func (tx *transaction) ProductTransactions(id uint64) []domain.Transaction {
	out := tx.base.ProductTransactions(id)
	return append(out, tx.logs[id]...)
}

func (tx *transaction) UserProducts(identity domain.Identity) []uint64 {
	identity = domain.NormalizeIdentity(string(identity))
	out := tx.base.UserProducts(identity)
	for _, e := range tx.users {
		if e.Identity == identity {
			out = append(out, e.ProductID)
		}
	}
	return out
}

func (tx *transaction) CreateProduct(p domain.Product) (domain.Product, error) {
	tx.count++
	p.ID = tx.count
	tx.products[p.ID] = p
	after := p
	tx.changes = append(tx.changes, domain.Change{
		Entity:    domain.EntityProduct,
		Action:    domain.ActionCreate,
		ProductID: p.ID,
		After:     &after,
	})
	return p, nil
}

func (tx *transaction) UpdateProduct(id uint64, mutator func(*domain.Product) error) (domain.Product, error) {
	current, ok := tx.FindProduct(id)
	if !ok {
		return domain.Product{}, &domain.NotFoundError{ID: id}
	}
	updated := current
	if err := mutator(&updated); err != nil {
		return domain.Product{}, err
	}
	if updated.ID != id {
		return domain.Product{}, fmt.Errorf("%w: product id is immutable", domain.ErrInvalidArgument)
	}
	tx.products[id] = updated
	before, after := current, updated
	tx.changes = append(tx.changes, domain.Change{
		Entity:    domain.EntityProduct,
		Action:    domain.ActionUpdate,
		ProductID: id,
		Before:    &before,
		After:     &after,
	})
	return updated, nil
}

func (tx *transaction) AddToStage(id uint64, status domain.ProductStatus) error {
	if _, ok := tx.FindProduct(id); !ok {
		return &domain.NotFoundError{ID: id}
	}
	return tx.stages.add(id, status)
}

func (tx *transaction) RemoveFromStage(id uint64, status domain.ProductStatus) error {
	return tx.stages.remove(id, status)
}

func (tx *transaction) AppendTransaction(entry domain.Transaction) error {
	if _, ok := tx.FindProduct(entry.ProductID); !ok {
		return &domain.NotFoundError{ID: entry.ProductID}
	}
	tx.logs[entry.ProductID] = append(tx.logs[entry.ProductID], entry)
	return nil
}

func (tx *transaction) AppendUserProduct(identity domain.Identity, id uint64) {
	identity = domain.NormalizeIdentity(string(identity))
	seq := len(tx.base.users[identity])
	for _, e := range tx.users {
		if e.Identity == identity {
			seq++
		}
	}
	tx.users = append(tx.users, UserEntry{Identity: identity, Seq: seq, ProductID: id})
}

func (tx *transaction) Emit(events ...domain.Event) {
	tx.events = append(tx.events, events...)
}

func (tx *transaction) commit() Commit {
	c := Commit{
		Count:  tx.count,
		Roles:  tx.roles,
		Stages: tx.stages.touched(),
		Users:  append([]UserEntry(nil), tx.users...),
	}
	if len(c.Stages) == 0 {
		c.Stages = nil
	}
	for _, p := range tx.products {
		c.Products = append(c.Products, p)
	}
	sort.Slice(c.Products, func(i, j int) bool { return c.Products[i].ID < c.Products[j].ID })
	ids := make([]uint64, 0, len(tx.logs))
	for id := range tx.logs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		seq := len(tx.base.logs[id])
		for _, entry := range tx.logs[id] {
			c.Transactions = append(c.Transactions, LogEntry{Seq: seq, Transaction: entry})
			seq++
		}
	}
	return c
}

func (tx *transaction) apply(s *state) {
	if tx.roles != nil {
		s.roles = *tx.roles
	}
	s.count = tx.count
	for id, p := range tx.products {
		s.products[id] = p
	}
	tx.stages.apply(s.stages)
	for id, entries := range tx.logs {
		s.logs[id] = append(s.logs[id], entries...)
	}
	for _, e := range tx.users {
		s.users[e.Identity] = append(s.users[e.Identity], e.ProductID)
	}
}
