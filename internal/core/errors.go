package core

import (
	"errors"

	"custodyledger/pkg/domain"
)

// isDomainError reports whether err is one of the ledger's rejection kinds
// rather than an infrastructure failure.
func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrUnauthorizedCaller) ||
		errors.Is(err, domain.ErrUnknownProduct) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrInvalidArgument)
}
