package domain

import "fmt"

// Role names one of the four fixed parties of the custody workflow.
type Role string

// Roles recognised by the ledger.
const (
	RoleOwner        Role = "owner"
	RoleManufacturer Role = "manufacturer"
	RoleDistributor  Role = "distributor"
	RoleRetailer     Role = "retailer"
)

// ParseRole resolves a role name.
func ParseRole(v string) (Role, error) {
	switch r := Role(v); r {
	case RoleOwner, RoleManufacturer, RoleDistributor, RoleRetailer:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, v)
}

// Roles is the single global role registry. Owner is fixed at bootstrap and
// transferable; the remaining three are assigned together by the owner.
type Roles struct {
	Owner        Identity `json:"owner"`
	Manufacturer Identity `json:"manufacturer"`
	Distributor  Identity `json:"distributor"`
	Retailer     Identity `json:"retailer"`
}

// Holder returns the identity currently assigned to role.
func (r Roles) Holder(role Role) Identity {
	switch role {
	case RoleOwner:
		return r.Owner
	case RoleManufacturer:
		return r.Manufacturer
	case RoleDistributor:
		return r.Distributor
	case RoleRetailer:
		return r.Retailer
	}
	return ""
}

// HasRole reports whether identity currently holds role. The null identity
// never holds a role, so unassigned roles are unreachable.
func (r Roles) HasRole(identity Identity, role Role) bool {
	if identity.IsZero() {
		return false
	}
	holder := r.Holder(role)
	if holder.IsZero() {
		return false
	}
	return NormalizeIdentity(string(holder)) == NormalizeIdentity(string(identity))
}
