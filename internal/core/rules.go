package core

import (
	"context"
	"fmt"

	"custodyledger/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in ledger
// invariants.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StageConsistencyRule())
	engine.Register(ForwardOnlyRule())
	engine.Register(CustodyChronologyRule())
	engine.Register(PriceChangeAfterDispatchRule())
	return engine
}

func productChanges(changes []domain.Change) []domain.Change {
	out := make([]domain.Change, 0, len(changes))
	for _, c := range changes {
		if c.Entity == domain.EntityProduct && c.After != nil {
			out = append(out, c)
		}
	}
	return out
}

func block(rule string, id uint64, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:      rule,
		Severity:  domain.SeverityBlock,
		Message:   fmt.Sprintf(format, args...),
		Entity:    domain.EntityProduct,
		ProductID: id,
	}
}

// StageConsistencyRule blocks commits where a touched product is not indexed
// under exactly its current status.
func StageConsistencyRule() domain.Rule { return stageConsistencyRule{} }

type stageConsistencyRule struct{}

func (stageConsistencyRule) Name() string { return "stage_consistency" }

func (r stageConsistencyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range productChanges(changes) {
		p, ok := view.FindProduct(c.ProductID)
		if !ok {
			continue
		}
		st, indexed := view.StageOf(c.ProductID)
		switch {
		case !indexed:
			res.Violations = append(res.Violations, block(r.Name(), c.ProductID, "product %d is %s but not indexed", c.ProductID, p.Status))
		case st != p.Status:
			res.Violations = append(res.Violations, block(r.Name(), c.ProductID, "product %d is %s but indexed under %s", c.ProductID, p.Status, st))
		}
	}
	return res, nil
}

// ForwardOnlyRule blocks status changes that do not follow the predecessor
// table.
func ForwardOnlyRule() domain.Rule { return forwardOnlyRule{} }

type forwardOnlyRule struct{}

func (forwardOnlyRule) Name() string { return "forward_only" }

func (r forwardOnlyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range productChanges(changes) {
		if c.Action == domain.ActionCreate {
			if c.After.Status != domain.StatusCreated {
				res.Violations = append(res.Violations, block(r.Name(), c.ProductID, "product %d created in %s", c.ProductID, c.After.Status))
			}
			continue
		}
		if c.Before == nil || c.Before.Status == c.After.Status {
			continue
		}
		if !domain.CanAdvance(c.Before.Status, c.After.Status) {
			res.Violations = append(res.Violations, block(r.Name(), c.ProductID, "cannot move product %d from %s to %s", c.ProductID, c.Before.Status, c.After.Status))
		}
	}
	return res, nil
}

// CustodyChronologyRule blocks records whose reached lifecycle timestamps are
// missing or go backwards.
func CustodyChronologyRule() domain.Rule { return custodyChronologyRule{} }

type custodyChronologyRule struct{}

func (custodyChronologyRule) Name() string { return "custody_chronology" }

func (r custodyChronologyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range productChanges(changes) {
		p := *c.After
		if p.Status > domain.StatusReceivedByRetailer {
			continue
		}
		history := p.History()
		for i := 0; i <= int(p.Status); i++ {
			if history[i].IsZero() {
				res.Violations = append(res.Violations, block(r.Name(), p.ID, "product %d is %s but %s was never stamped", p.ID, p.Status, domain.ProductStatus(i)))
				break
			}
			if i > 0 && history[i].Before(history[i-1]) {
				res.Violations = append(res.Violations, block(r.Name(), p.ID, "product %d entered %s before %s", p.ID, domain.ProductStatus(i), domain.ProductStatus(i-1)))
				break
			}
		}
	}
	return res, nil
}

// PriceChangeAfterDispatchRule warns when the owner reprices a product that
// has already left the manufacturer.
func PriceChangeAfterDispatchRule() domain.Rule { return priceChangeAfterDispatchRule{} }

type priceChangeAfterDispatchRule struct{}

func (priceChangeAfterDispatchRule) Name() string { return "price_change_after_dispatch" }

func (r priceChangeAfterDispatchRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range productChanges(changes) {
		if c.Before == nil || c.Before.Status == domain.StatusCreated {
			continue
		}
		if !c.Before.Price.Equal(c.After.Price) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:      r.Name(),
				Severity:  domain.SeverityWarn,
				Message:   fmt.Sprintf("price of product %d changed from %s to %s while %s", c.ProductID, c.Before.Price, c.After.Price, c.Before.Status),
				Entity:    domain.EntityProduct,
				ProductID: c.ProductID,
			})
		}
	}
	return res, nil
}
