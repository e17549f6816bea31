package core

import (
	"context"
	"fmt"

	"custodyledger/pkg/domain"
)

// Action names one of the custody transitions.
type Action string

// Custody transitions in lifecycle order.
const (
	ActionSendByManufacturer   Action = "send-by-manufacturer"
	ActionReceiveByDistributor Action = "receive-by-distributor"
	ActionSendByDistributor    Action = "send-by-distributor"
	ActionReceiveByRetailer    Action = "receive-by-retailer"
)

// transition is one row of the custody table. The required current status
// comes from the target's entry in the domain predecessor table.
type transition struct {
	role      domain.Role
	to        domain.ProductStatus
	label     string
	kind      domain.EventKind
	indexUser bool
}

var transitions = map[Action]transition{
	ActionSendByManufacturer: {
		role:  domain.RoleManufacturer,
		to:    domain.StatusSentByManufacturer,
		label: domain.LabelSentByManufacturer,
		kind:  domain.EventProductSent,
	},
	ActionReceiveByDistributor: {
		role:      domain.RoleDistributor,
		to:        domain.StatusReceivedByDistributor,
		label:     domain.LabelReceivedByDistributor,
		kind:      domain.EventProductReceived,
		indexUser: true,
	},
	ActionSendByDistributor: {
		role:  domain.RoleDistributor,
		to:    domain.StatusSentByDistributor,
		label: domain.LabelSentByDistributor,
		kind:  domain.EventProductSent,
	},
	ActionReceiveByRetailer: {
		role:      domain.RoleRetailer,
		to:        domain.StatusReceivedByRetailer,
		label:     domain.LabelReceivedByRetailer,
		kind:      domain.EventProductReceived,
		indexUser: true,
	},
}

// ParseAction resolves a transition name.
func ParseAction(v string) (Action, error) {
	a := Action(v)
	if _, ok := transitions[a]; !ok {
		return "", fmt.Errorf("%w: unknown transition %q", domain.ErrInvalidArgument, v)
	}
	return a, nil
}

// Actions lists the transitions in lifecycle order.
func Actions() []Action {
	return []Action{ActionSendByManufacturer, ActionReceiveByDistributor, ActionSendByDistributor, ActionReceiveByRetailer}
}

// findProduct rejects ids outside [1, count].
func findProduct(v domain.View, id uint64) (domain.Product, error) {
	if id == 0 || id > v.ProductCount() {
		return domain.Product{}, &domain.NotFoundError{ID: id}
	}
	p, ok := v.FindProduct(id)
	if !ok {
		return domain.Product{}, &domain.NotFoundError{ID: id}
	}
	return p, nil
}

// CreateProduct records a new product in the Created stage. Manufacturer only.
func (s *Service) CreateProduct(ctx context.Context, caller domain.Identity, details domain.Details) (domain.Product, error) {
	caller = domain.NormalizeIdentity(string(caller))
	var created domain.Product
	_, err := s.run(ctx, "create_product", func(tx domain.Tx) error {
		if err := authorize(tx.Roles(), caller, domain.RoleManufacturer); err != nil {
			return err
		}
		if err := details.Validate(); err != nil {
			return err
		}
		now := tx.Now()
		p := domain.Product{Status: domain.StatusCreated, CreatedAt: now}
		details.Apply(&p)
		p, err := tx.CreateProduct(p)
		if err != nil {
			return err
		}
		if err := tx.AddToStage(p.ID, domain.StatusCreated); err != nil {
			return err
		}
		if err := tx.AppendTransaction(domain.Transaction{
			ProductID: p.ID,
			Type:      domain.LabelProductCreated,
			Performer: caller,
			Timestamp: now,
		}); err != nil {
			return err
		}
		tx.AppendUserProduct(caller, p.ID)
		tx.Emit(
			domain.NewEvent(domain.EventProductCreated, caller, now).ForProduct(p.ID).WithLabel(p.Name),
			domain.NewEvent(domain.EventStatusChanged, caller, now).ForProduct(p.ID).WithStatus(nil, domain.StatusCreated),
			domain.NewEvent(domain.EventStageUpdated, caller, now).ForProduct(p.ID).WithStatus(nil, domain.StatusCreated),
			domain.NewEvent(domain.EventTransactionPerformed, caller, now).ForProduct(p.ID).WithLabel(domain.LabelProductCreated),
		)
		created = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return created, nil
}

// Transition applies a custody transition to product id. The role check, the
// current-status check, the record update, the stage move, the log append
// and the user index append commit together or not at all.
func (s *Service) Transition(ctx context.Context, caller domain.Identity, action Action, id uint64) (domain.Product, error) {
	t, ok := transitions[action]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: unknown transition %q", domain.ErrInvalidArgument, action)
	}
	from, ok := t.to.Predecessor()
	if !ok {
		return domain.Product{}, fmt.Errorf("transition %s targets %s which has no predecessor", action, t.to)
	}
	caller = domain.NormalizeIdentity(string(caller))

	var updated domain.Product
	_, err := s.run(ctx, string(action), func(tx domain.Tx) error {
		if err := authorize(tx.Roles(), caller, t.role); err != nil {
			return err
		}
		current, err := findProduct(tx, id)
		if err != nil {
			return err
		}
		if current.Status != from {
			return &domain.InvalidStateError{ProductID: id, Want: from, Got: current.Status}
		}
		now := tx.Now()
		p, err := tx.UpdateProduct(id, func(p *domain.Product) error {
			p.Status = t.to
			p.Stamp(t.to, now)
			return nil
		})
		if err != nil {
			return err
		}
		if err := tx.RemoveFromStage(id, from); err != nil {
			return err
		}
		if err := tx.AddToStage(id, t.to); err != nil {
			return err
		}
		if err := tx.AppendTransaction(domain.Transaction{ProductID: id, Type: t.label, Performer: caller, Timestamp: now}); err != nil {
			return err
		}
		if t.indexUser {
			tx.AppendUserProduct(caller, id)
		}
		tx.Emit(
			domain.NewEvent(domain.EventStatusChanged, caller, now).ForProduct(id).WithStatus(&from, t.to),
			domain.NewEvent(t.kind, caller, now).ForProduct(id).WithStatus(&from, t.to).WithLabel(t.label),
			domain.NewEvent(domain.EventStageUpdated, caller, now).ForProduct(id).WithStatus(&from, t.to),
			domain.NewEvent(domain.EventTransactionPerformed, caller, now).ForProduct(id).WithLabel(t.label),
		)
		updated = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// SendProductByManufacturer moves a product from Created to SentByManufacturer.
func (s *Service) SendProductByManufacturer(ctx context.Context, caller domain.Identity, id uint64) (domain.Product, error) {
	return s.Transition(ctx, caller, ActionSendByManufacturer, id)
}

// ReceiveProductByDistributor moves a product to ReceivedByDistributor.
func (s *Service) ReceiveProductByDistributor(ctx context.Context, caller domain.Identity, id uint64) (domain.Product, error) {
	return s.Transition(ctx, caller, ActionReceiveByDistributor, id)
}

// SendProductByDistributor moves a product to SentByDistributor.
func (s *Service) SendProductByDistributor(ctx context.Context, caller domain.Identity, id uint64) (domain.Product, error) {
	return s.Transition(ctx, caller, ActionSendByDistributor, id)
}

// ReceiveProductByRetailer moves a product to ReceivedByRetailer.
func (s *Service) ReceiveProductByRetailer(ctx context.Context, caller domain.Identity, id uint64) (domain.Product, error) {
	return s.Transition(ctx, caller, ActionReceiveByRetailer, id)
}

// UpdateProductDetails rewrites name, description and price. Status, stage
// and timestamps are untouched; the edit is still recorded in the product
// log. Owner only.
func (s *Service) UpdateProductDetails(ctx context.Context, caller domain.Identity, id uint64, details domain.Details) (domain.Product, error) {
	caller = domain.NormalizeIdentity(string(caller))
	var updated domain.Product
	_, err := s.run(ctx, "update_product_details", func(tx domain.Tx) error {
		if err := authorize(tx.Roles(), caller, domain.RoleOwner); err != nil {
			return err
		}
		if _, err := findProduct(tx, id); err != nil {
			return err
		}
		if err := details.Validate(); err != nil {
			return err
		}
		now := tx.Now()
		p, err := tx.UpdateProduct(id, func(p *domain.Product) error {
			details.Apply(p)
			return nil
		})
		if err != nil {
			return err
		}
		if err := tx.AppendTransaction(domain.Transaction{ProductID: id, Type: domain.LabelDetailsUpdated, Performer: caller, Timestamp: now}); err != nil {
			return err
		}
		tx.Emit(domain.NewEvent(domain.EventTransactionPerformed, caller, now).ForProduct(id).WithLabel(domain.LabelDetailsUpdated))
		updated = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}
