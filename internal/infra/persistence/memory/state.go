package memory

import (
	"errors"
	"fmt"
	"sort"

	"custodyledger/pkg/domain"
)

// ErrCorruptSnapshot is returned when an imported snapshot violates a ledger
// invariant.
var ErrCorruptSnapshot = errors.New("corrupt ledger snapshot")

// state is the owned ledger aggregate: product table, id counter, stage
// index, per-product logs, user index and role registry.
type state struct {
	roles    domain.Roles
	count    uint64
	products map[uint64]domain.Product
	stages   *stageIndex
	logs     map[uint64][]domain.Transaction
	users    map[domain.Identity][]uint64
}

func newState() *state {
	return &state{
		products: make(map[uint64]domain.Product),
		stages:   newStageIndex(),
		logs:     make(map[uint64][]domain.Transaction),
		users:    make(map[domain.Identity][]uint64),
	}
}

var _ domain.View = (*state)(nil)

func (s *state) Roles() domain.Roles   { return s.roles }
func (s *state) ProductCount() uint64 { return s.count }

func (s *state) FindProduct(id uint64) (domain.Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

func (s *state) StageOf(id uint64) (domain.ProductStatus, bool) {
	sl, ok := s.stages.lookup(id)
	return sl.status, ok
}

func (s *state) ListStage(status domain.ProductStatus) []uint64 {
	return s.stages.list(status)
}

func (s *state) ProductTransactions(id uint64) []domain.Transaction {
	return append([]domain.Transaction(nil), s.logs[id]...)
}

func (s *state) UserProducts(identity domain.Identity) []uint64 {
	return append([]uint64(nil), s.users[domain.NormalizeIdentity(string(identity))]...)
}

// Snapshot is the serialisable form of the ledger state.
type Snapshot struct {
	Roles        domain.Roles                      `json:"roles"`
	Count        uint64                            `json:"count"`
	Products     []domain.Product                  `json:"products"`
	Stages       map[domain.ProductStatus][]uint64 `json:"stages"`
	Transactions map[uint64][]domain.Transaction   `json:"transactions"`
	Users        map[domain.Identity][]uint64      `json:"users"`
}

func snapshotFromState(s *state) Snapshot {
	snap := Snapshot{
		Roles:        s.roles,
		Count:        s.count,
		Products:     make([]domain.Product, 0, len(s.products)),
		Stages:       make(map[domain.ProductStatus][]uint64, len(s.stages.buckets)),
		Transactions: make(map[uint64][]domain.Transaction, len(s.logs)),
		Users:        make(map[domain.Identity][]uint64, len(s.users)),
	}
	for _, p := range s.products {
		snap.Products = append(snap.Products, p)
	}
	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].ID < snap.Products[j].ID })
	for status, ids := range s.stages.buckets {
		if len(ids) > 0 {
			snap.Stages[status] = append([]uint64(nil), ids...)
		}
	}
	for id, entries := range s.logs {
		snap.Transactions[id] = append([]domain.Transaction(nil), entries...)
	}
	for identity, ids := range s.users {
		snap.Users[identity] = append([]uint64(nil), ids...)
	}
	return snap
}

// stateFromSnapshot rebuilds the aggregate and verifies that ids are dense,
// that every product sits in exactly the bucket of its status, and that logs
// only reference known products.
func stateFromSnapshot(snap Snapshot) (*state, error) {
	s := newState()
	s.roles = snap.Roles
	s.count = snap.Count
	for _, p := range snap.Products {
		if p.ID == 0 || p.ID > snap.Count {
			return nil, fmt.Errorf("%w: product id %d outside [1, %d]", ErrCorruptSnapshot, p.ID, snap.Count)
		}
		if _, dup := s.products[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate product %d", ErrCorruptSnapshot, p.ID)
		}
		s.products[p.ID] = p
	}
	if uint64(len(s.products)) != snap.Count {
		return nil, fmt.Errorf("%w: counter %d but %d products", ErrCorruptSnapshot, snap.Count, len(s.products))
	}
	for status, ids := range snap.Stages {
		s.stages.buckets[status] = append([]uint64(nil), ids...)
	}
	if err := s.stages.rebuild(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	for id, p := range s.products {
		sl, ok := s.stages.lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: product %d missing from stage index", ErrCorruptSnapshot, id)
		}
		if sl.status != p.Status {
			return nil, fmt.Errorf("%w: product %d is %s but indexed under %s", ErrCorruptSnapshot, id, p.Status, sl.status)
		}
	}
	if len(s.stages.slots) != len(s.products) {
		return nil, fmt.Errorf("%w: stage index references unknown products", ErrCorruptSnapshot)
	}
	for id, entries := range snap.Transactions {
		if _, ok := s.products[id]; !ok {
			return nil, fmt.Errorf("%w: log for unknown product %d", ErrCorruptSnapshot, id)
		}
		s.logs[id] = append([]domain.Transaction(nil), entries...)
	}
	for identity, ids := range snap.Users {
		s.users[identity] = append([]uint64(nil), ids...)
	}
	return s, nil
}
