package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a ledger notification.
type EventKind string

// Notification kinds emitted after a successful commit.
const (
	EventProductCreated       EventKind = "product.created"
	EventProductSent          EventKind = "product.sent"
	EventProductReceived      EventKind = "product.received"
	EventStatusChanged        EventKind = "product.status_changed"
	EventTransactionPerformed EventKind = "product.transaction_performed"
	EventStageUpdated         EventKind = "product.stage_updated"
	EventAddressesSet         EventKind = "roles.addresses_set"
	EventOwnershipTransferred EventKind = "roles.ownership_transferred"
)

// Event is an outbound notification. Fields not relevant to a kind are left
// at their zero value and omitted from the wire form.
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	ProductID  uint64         `json:"product_id,omitempty"`
	Actor      Identity       `json:"actor"`
	From       *ProductStatus `json:"from,omitempty"`
	To         *ProductStatus `json:"to,omitempty"`
	Label      string         `json:"label,omitempty"`
	OldRoles   *Roles         `json:"old_roles,omitempty"`
	NewRoles   *Roles         `json:"new_roles,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEvent stamps a fresh event with a unique id.
func NewEvent(kind EventKind, actor Identity, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Actor: actor, OccurredAt: at}
}

// ForProduct sets the product id.
func (e Event) ForProduct(id uint64) Event {
	e.ProductID = id
	return e
}

// WithStatus records a status move. A nil from marks the initial status.
func (e Event) WithStatus(from *ProductStatus, to ProductStatus) Event {
	if from != nil {
		f := *from
		e.From = &f
	}
	e.To = &to
	return e
}

// WithLabel records the transaction label.
func (e Event) WithLabel(label string) Event {
	e.Label = label
	return e
}

// WithRoles records a role registry change.
func (e Event) WithRoles(before, after Roles) Event {
	e.OldRoles = &before
	e.NewRoles = &after
	return e
}
