package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by every ledger operation. Rejections never leave
// partial state behind.
var (
	ErrUnauthorizedCaller = errors.New("unauthorized caller")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// UnauthorizedError reports a caller lacking the role an operation requires.
type UnauthorizedError struct {
	Caller Identity
	Role   Role
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%s: %q does not hold role %s", ErrUnauthorizedCaller, e.Caller, e.Role)
}

// Is matches ErrUnauthorizedCaller.
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorizedCaller }

// NotFoundError reports a product id outside [1, count].
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUnknownProduct, e.ID)
}

// Is matches ErrUnknownProduct.
func (e *NotFoundError) Is(target error) bool { return target == ErrUnknownProduct }

// InvalidStateError reports a transition attempted from the wrong status.
type InvalidStateError struct {
	ProductID uint64
	Want      ProductStatus
	Got       ProductStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: product %d is %s, operation requires %s", ErrInvalidState, e.ProductID, e.Got, e.Want)
}

// Is matches ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
