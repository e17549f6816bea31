package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the authoritative custody record for one physical good.
type Product struct {
	ID                      uint64          `json:"id"`
	Name                    string          `json:"name"`
	Description             string          `json:"description"`
	Price                   decimal.Decimal `json:"price"`
	Status                  ProductStatus   `json:"status"`
	CreatedAt               time.Time       `json:"created_at"`
	SentByManufacturerAt    time.Time       `json:"sent_by_manufacturer_at"`
	ReceivedByDistributorAt time.Time       `json:"received_by_distributor_at"`
	SentByDistributorAt     time.Time       `json:"sent_by_distributor_at"`
	ReceivedByRetailerAt    time.Time       `json:"received_by_retailer_at"`
}

// History lists the five lifecycle timestamps in order: created, sent by
// manufacturer, received by distributor, sent by distributor, received by
// retailer. Zero entries have not been reached.
type History [5]time.Time

// History returns the lifecycle timestamps of p.
func (p Product) History() History {
	return History{
		p.CreatedAt,
		p.SentByManufacturerAt,
		p.ReceivedByDistributorAt,
		p.SentByDistributorAt,
		p.ReceivedByRetailerAt,
	}
}

// ReachedAt returns the timestamp recorded when p entered status.
func (p Product) ReachedAt(status ProductStatus) time.Time {
	if status < StatusCreated || status > StatusReceivedByRetailer {
		return time.Time{}
	}
	return p.History()[status]
}

// Stamp records at as the moment p entered status.
func (p *Product) Stamp(status ProductStatus, at time.Time) {
	switch status {
	case StatusCreated:
		p.CreatedAt = at
	case StatusSentByManufacturer:
		p.SentByManufacturerAt = at
	case StatusReceivedByDistributor:
		p.ReceivedByDistributorAt = at
	case StatusSentByDistributor:
		p.SentByDistributorAt = at
	case StatusReceivedByRetailer:
		p.ReceivedByRetailerAt = at
	}
}

// Details are the owner-editable descriptive fields of a product.
type Details struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// Validate rejects an empty name or a non-positive price.
func (d Details) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidArgument)
	}
	if !d.Price.IsPositive() {
		return fmt.Errorf("%w: product price must be positive, got %s", ErrInvalidArgument, d.Price)
	}
	return nil
}

// Apply overwrites the descriptive fields of p.
func (d Details) Apply(p *Product) {
	p.Name = d.Name
	p.Description = d.Description
	p.Price = d.Price
}
