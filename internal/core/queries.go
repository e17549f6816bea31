package core

import (
	"context"
	"fmt"
	"time"

	"custodyledger/pkg/domain"
)

// CustodyRecord is a consistent read of one product with its history and log.
type CustodyRecord struct {
	Product      domain.Product       `json:"product"`
	History      domain.History       `json:"history"`
	Transactions []domain.Transaction `json:"transactions"`
}

// GetProduct returns the record for id.
func (s *Service) GetProduct(ctx context.Context, id uint64) (domain.Product, error) {
	var p domain.Product
	err := s.view(ctx, "get_product", func(v domain.View) error {
		var err error
		p, err = findProduct(v, id)
		return err
	})
	return p, err
}

// GetProductCount returns the number of products ever created.
func (s *Service) GetProductCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.view(ctx, "get_product_count", func(v domain.View) error {
		n = v.ProductCount()
		return nil
	})
	return n, err
}

// GetProductsByStatus returns the ids in the status bucket, in bucket order.
func (s *Service) GetProductsByStatus(ctx context.Context, status domain.ProductStatus) ([]uint64, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, status)
	}
	var ids []uint64
	err := s.view(ctx, "get_products_by_status", func(v domain.View) error {
		ids = v.ListStage(status)
		return nil
	})
	return nonNil(ids), err
}

// GetProductsInStage resolves the status bucket to full records.
func (s *Service) GetProductsInStage(ctx context.Context, status domain.ProductStatus) ([]domain.Product, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, status)
	}
	var out []domain.Product
	err := s.view(ctx, "get_products_in_stage", func(v domain.View) error {
		var err error
		out, err = resolve(v, v.ListStage(status))
		return err
	})
	return out, err
}

// GetProductsCreated lists products in the Created stage.
func (s *Service) GetProductsCreated(ctx context.Context) ([]domain.Product, error) {
	return s.GetProductsInStage(ctx, domain.StatusCreated)
}

// GetProductsSentByManufacturer lists products in transit to the distributor.
func (s *Service) GetProductsSentByManufacturer(ctx context.Context) ([]domain.Product, error) {
	return s.GetProductsInStage(ctx, domain.StatusSentByManufacturer)
}

// GetProductsReceivedByDistributor lists products held by the distributor.
func (s *Service) GetProductsReceivedByDistributor(ctx context.Context) ([]domain.Product, error) {
	return s.GetProductsInStage(ctx, domain.StatusReceivedByDistributor)
}

// GetProductsSentByDistributor lists products in transit to the retailer.
func (s *Service) GetProductsSentByDistributor(ctx context.Context) ([]domain.Product, error) {
	return s.GetProductsInStage(ctx, domain.StatusSentByDistributor)
}

// GetProductsReceivedByRetailer lists products held by the retailer,
// excluding any whose status has moved to ReturnRequested.
func (s *Service) GetProductsReceivedByRetailer(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	err := s.view(ctx, "get_products_received_by_retailer", func(v domain.View) error {
		all, err := resolve(v, v.ListStage(domain.StatusReceivedByRetailer))
		if err != nil {
			return err
		}
		out = make([]domain.Product, 0, len(all))
		for _, p := range all {
			if p.Status != domain.StatusReturnRequested {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// GetProductsByDateRange returns, in ascending id order, the products whose
// creation time falls within [start, end].
func (s *Service) GetProductsByDateRange(ctx context.Context, start, end time.Time) ([]uint64, error) {
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s is after end %s", domain.ErrInvalidArgument, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	ids := []uint64{}
	err := s.view(ctx, "get_products_by_date_range", func(v domain.View) error {
		for id := uint64(1); id <= v.ProductCount(); id++ {
			p, ok := v.FindProduct(id)
			if !ok {
				return fmt.Errorf("product %d missing below counter %d", id, v.ProductCount())
			}
			if !p.CreatedAt.Before(start) && !p.CreatedAt.After(end) {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

// GetUserProducts returns the ids an identity created or received.
func (s *Service) GetUserProducts(ctx context.Context, identity domain.Identity) ([]uint64, error) {
	var ids []uint64
	err := s.view(ctx, "get_user_products", func(v domain.View) error {
		ids = v.UserProducts(domain.NormalizeIdentity(string(identity)))
		return nil
	})
	return nonNil(ids), err
}

// GetProductHistory returns the five lifecycle timestamps of id.
func (s *Service) GetProductHistory(ctx context.Context, id uint64) (domain.History, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.History{}, err
	}
	return p.History(), nil
}

// GetProductTransactions returns the ordered log of id.
func (s *Service) GetProductTransactions(ctx context.Context, id uint64) ([]domain.Transaction, error) {
	var log []domain.Transaction
	err := s.view(ctx, "get_product_transactions", func(v domain.View) error {
		if _, err := findProduct(v, id); err != nil {
			return err
		}
		log = v.ProductTransactions(id)
		return nil
	})
	if log == nil && err == nil {
		log = []domain.Transaction{}
	}
	return log, err
}

// GetCustodyRecord reads product, history and log of id from one snapshot.
func (s *Service) GetCustodyRecord(ctx context.Context, id uint64) (CustodyRecord, error) {
	var rec CustodyRecord
	err := s.view(ctx, "get_custody_record", func(v domain.View) error {
		p, err := findProduct(v, id)
		if err != nil {
			return err
		}
		rec = CustodyRecord{Product: p, History: p.History(), Transactions: v.ProductTransactions(id)}
		return nil
	})
	return rec, err
}

func resolve(v domain.View, ids []uint64) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		p, ok := v.FindProduct(id)
		if !ok {
			return nil, fmt.Errorf("stage index references missing product %d", id)
		}
		out = append(out, p)
	}
	return out, nil
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
