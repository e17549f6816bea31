package domain

import (
	"context"
	"fmt"
	"strings"
)

// EntityType identifies the kind of record touched by a change.
type EntityType string

// Entity types tracked in change sets.
const (
	EntityProduct EntityType = "product"
	EntityRoles   EntityType = "roles"
)

// Action indicates the type of modification performed.
type Action string

// Change actions captured during a transaction.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Change describes a mutation applied during a transaction. Product changes
// carry Before/After records; role changes carry the role sets.
type Change struct {
	Entity      EntityType
	Action      Action
	ProductID   uint64
	Before      *Product
	After       *Product
	RolesBefore *Roles
	RolesAfter  *Roles
}

// Severity captures rule outcomes.
type Severity string

// Rule severities.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but allows commit.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule      string     `json:"rule"`
	Severity  Severity   `json:"severity"`
	Message   string     `json:"message"`
	Entity    EntityType `json:"entity"`
	ProductID uint64     `json:"product_id,omitempty"`
}

// Result summarises a committed transaction: non-blocking violations and the
// notifications buffered while it ran.
type Result struct {
	Violations []Violation
	Events     []Event
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present. A
// blocked commit means the staged state would break a ledger invariant, so it
// matches ErrInvalidState.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// Is matches ErrInvalidState.
func (e RuleViolationError) Is(target error) bool { return target == ErrInvalidState }

// RuleView provides read-only access to staged state for rule evaluation.
type RuleView interface {
	FindProduct(id uint64) (Product, bool)
	StageOf(id uint64) (ProductStatus, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	if e == nil {
		return combined, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
