package core

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodyledger/pkg/domain"
)

type stubView struct {
	products map[uint64]domain.Product
	stages   map[uint64]domain.ProductStatus
}

func (v stubView) FindProduct(id uint64) (domain.Product, bool) {
	p, ok := v.products[id]
	return p, ok
}

func (v stubView) StageOf(id uint64) (domain.ProductStatus, bool) {
	s, ok := v.stages[id]
	return s, ok
}

func update(before, after domain.Product) domain.Change {
	return domain.Change{Entity: domain.EntityProduct, Action: domain.ActionUpdate, ProductID: after.ID, Before: &before, After: &after}
}

func TestStageConsistencyRule(t *testing.T) {
	p := domain.Product{ID: 1, Status: domain.StatusSentByManufacturer}
	rule := StageConsistencyRule()
	changes := []domain.Change{update(p, p)}

	res, err := rule.Evaluate(context.Background(), stubView{
		products: map[uint64]domain.Product{1: p},
		stages:   map[uint64]domain.ProductStatus{1: domain.StatusCreated},
	}, changes)
	require.NoError(t, err)
	require.True(t, res.HasBlocking())
	assert.Contains(t, res.Violations[0].Message, "indexed under created")

	res, err = rule.Evaluate(context.Background(), stubView{products: map[uint64]domain.Product{1: p}}, changes)
	require.NoError(t, err)
	assert.True(t, res.HasBlocking())

	res, err = rule.Evaluate(context.Background(), stubView{
		products: map[uint64]domain.Product{1: p},
		stages:   map[uint64]domain.ProductStatus{1: domain.StatusSentByManufacturer},
	}, changes)
	require.NoError(t, err)
	assert.Empty(t, res.Violations)
}

func TestForwardOnlyRule(t *testing.T) {
	rule := ForwardOnlyRule()
	created := domain.Product{ID: 1, Status: domain.StatusCreated}
	skipped := domain.Product{ID: 1, Status: domain.StatusReceivedByDistributor}
	sent := domain.Product{ID: 1, Status: domain.StatusSentByManufacturer}

	res, err := rule.Evaluate(context.Background(), stubView{}, []domain.Change{update(created, skipped)})
	require.NoError(t, err)
	assert.True(t, res.HasBlocking())

	res, err = rule.Evaluate(context.Background(), stubView{}, []domain.Change{update(sent, created)})
	require.NoError(t, err)
	assert.True(t, res.HasBlocking(), "moving backwards must be blocked")

	res, err = rule.Evaluate(context.Background(), stubView{}, []domain.Change{update(created, sent)})
	require.NoError(t, err)
	assert.False(t, res.HasBlocking())

	res, err = rule.Evaluate(context.Background(), stubView{}, []domain.Change{{
		Entity: domain.EntityProduct, Action: domain.ActionCreate, ProductID: 1, After: &sent,
	}})
	require.NoError(t, err)
	assert.True(t, res.HasBlocking(), "products are born Created")
}

func TestCustodyChronologyRule(t *testing.T) {
	rule := CustodyChronologyRule()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	missing := domain.Product{ID: 1, Status: domain.StatusSentByManufacturer, CreatedAt: at}
	res, err := rule.Evaluate(context.Background(), stubView{}, []domain.Change{update(missing, missing)})
	require.NoError(t, err)
	assert.True(t, res.HasBlocking())

	backwards := domain.Product{ID: 1, Status: domain.StatusSentByManufacturer, CreatedAt: at, SentByManufacturerAt: at.Add(-time.Second)}
	res, err = rule.Evaluate(context.Background(), stubView{}, []domain.Change{update(backwards, backwards)})
	require.NoError(t, err)
	assert.True(t, res.HasBlocking())

	ok := domain.Product{ID: 1, Status: domain.StatusSentByManufacturer, CreatedAt: at, SentByManufacturerAt: at}
	res, err = rule.Evaluate(context.Background(), stubView{}, []domain.Change{update(ok, ok)})
	require.NoError(t, err)
	assert.Empty(t, res.Violations)
}

func TestPriceChangeAfterDispatchWarnsButCommits(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateProduct(ctx, manufacturer, widget("Widget"))
	require.NoError(t, err)
	_, err = svc.SendProductByManufacturer(ctx, manufacturer, p.ID)
	require.NoError(t, err)

	updated, err := svc.UpdateProductDetails(ctx, owner, p.ID, domain.Details{Name: "Widget", Price: decimal.NewFromInt(99)})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(decimal.NewFromInt(99)))

	res, err := PriceChangeAfterDispatchRule().Evaluate(ctx, stubView{}, []domain.Change{update(p, updated)})
	require.NoError(t, err)
	assert.Empty(t, res.Violations, "Created products may be repriced freely")

	sent := p
	sent.Status = domain.StatusSentByManufacturer
	res, err = PriceChangeAfterDispatchRule().Evaluate(ctx, stubView{}, []domain.Change{update(sent, updated)})
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, domain.SeverityWarn, res.Violations[0].Severity)
	assert.False(t, res.HasBlocking())
}

type vetoRule struct{}

func (vetoRule) Name() string { return "veto" }

func (vetoRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityProduct {
			res.Violations = append(res.Violations, block("veto", c.ProductID, "no"))
		}
	}
	return res, nil
}

func TestBlockingRuleAbortsOperation(t *testing.T) {
	engine := NewDefaultRulesEngine()
	engine.Register(vetoRule{})
	store, err := OpenPersistentStore(context.Background(), StorageOptions{Driver: StorageMemory}, engine)
	require.NoError(t, err)
	svc := NewService(store)
	ctx := context.Background()
	_, err = svc.BootstrapOwner(ctx, owner)
	require.NoError(t, err)
	_, err = svc.SetAddresses(ctx, owner, manufacturer, distributor, retailer)
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, manufacturer, widget("Widget"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	var violation domain.RuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "veto", violation.Result.Violations[0].Rule)

	n, err := svc.GetProductCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
