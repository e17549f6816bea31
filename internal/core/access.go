package core

import (
	"context"
	"fmt"

	"custodyledger/pkg/domain"
)

// authorize is the single permission check used by every mutating operation.
func authorize(roles domain.Roles, caller domain.Identity, role domain.Role) error {
	if roles.HasRole(caller, role) {
		return nil
	}
	return &domain.UnauthorizedError{Caller: caller, Role: role}
}

func requireIdentity(field string, id domain.Identity) (domain.Identity, error) {
	id = domain.NormalizeIdentity(string(id))
	if id.IsZero() {
		return "", fmt.Errorf("%w: %s must be a non-null identity", domain.ErrInvalidArgument, field)
	}
	return id, nil
}

// BootstrapOwner installs owner as the initial owner when the registry has
// none yet. An existing owner is left untouched.
func (s *Service) BootstrapOwner(ctx context.Context, owner domain.Identity) (domain.Roles, error) {
	owner, err := requireIdentity("owner", owner)
	if err != nil {
		return domain.Roles{}, err
	}
	var roles domain.Roles
	_, err = s.run(ctx, "bootstrap_owner", func(tx domain.Tx) error {
		roles = tx.Roles()
		if !roles.Owner.IsZero() {
			return nil
		}
		roles.Owner = owner
		tx.SetRoles(roles)
		return nil
	})
	return roles, err
}

// SetAddresses assigns the manufacturer, distributor and retailer identities
// in one step. Owner only.
func (s *Service) SetAddresses(ctx context.Context, caller, manufacturer, distributor, retailer domain.Identity) (domain.Roles, error) {
	caller = domain.NormalizeIdentity(string(caller))
	var updated domain.Roles
	_, err := s.run(ctx, "set_addresses", func(tx domain.Tx) error {
		before := tx.Roles()
		if err := authorize(before, caller, domain.RoleOwner); err != nil {
			return err
		}
		m, err := requireIdentity("manufacturer", manufacturer)
		if err != nil {
			return err
		}
		d, err := requireIdentity("distributor", distributor)
		if err != nil {
			return err
		}
		r, err := requireIdentity("retailer", retailer)
		if err != nil {
			return err
		}
		updated = before
		updated.Manufacturer, updated.Distributor, updated.Retailer = m, d, r
		tx.SetRoles(updated)
		tx.Emit(domain.NewEvent(domain.EventAddressesSet, caller, tx.Now()).WithRoles(before, updated))
		return nil
	})
	if err != nil {
		return domain.Roles{}, err
	}
	return updated, nil
}

// TransferOwnership hands the owner role to newOwner immediately. Owner only.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner domain.Identity) (domain.Roles, error) {
	caller = domain.NormalizeIdentity(string(caller))
	var updated domain.Roles
	_, err := s.run(ctx, "transfer_ownership", func(tx domain.Tx) error {
		before := tx.Roles()
		if err := authorize(before, caller, domain.RoleOwner); err != nil {
			return err
		}
		owner, err := requireIdentity("new owner", newOwner)
		if err != nil {
			return err
		}
		updated = before
		updated.Owner = owner
		tx.SetRoles(updated)
		tx.Emit(domain.NewEvent(domain.EventOwnershipTransferred, caller, tx.Now()).WithRoles(before, updated))
		return nil
	})
	if err != nil {
		return domain.Roles{}, err
	}
	return updated, nil
}

// Roles returns the committed role registry.
func (s *Service) Roles(ctx context.Context) (domain.Roles, error) {
	var roles domain.Roles
	err := s.view(ctx, "get_roles", func(v domain.View) error {
		roles = v.Roles()
		return nil
	})
	return roles, err
}

// HasRole reports whether identity currently holds role.
func (s *Service) HasRole(ctx context.Context, identity domain.Identity, role domain.Role) (bool, error) {
	roles, err := s.Roles(ctx)
	if err != nil {
		return false, err
	}
	return roles.HasRole(identity, role), nil
}
