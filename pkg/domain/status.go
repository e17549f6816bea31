package domain

import "fmt"

// ProductStatus is the custody stage of a product. Lifecycle values are
// strictly ordered; ReturnRequested sits outside the forward progression.
type ProductStatus int

// Product statuses in lifecycle order.
const (
	StatusCreated ProductStatus = iota
	StatusSentByManufacturer
	StatusReceivedByDistributor
	StatusSentByDistributor
	StatusReceivedByRetailer
	StatusReturnRequested
)

var statusNames = [...]string{
	StatusCreated:               "created",
	StatusSentByManufacturer:    "sent_by_manufacturer",
	StatusReceivedByDistributor: "received_by_distributor",
	StatusSentByDistributor:     "sent_by_distributor",
	StatusReceivedByRetailer:    "received_by_retailer",
	StatusReturnRequested:       "return_requested",
}

// allowedPredecessor lists, for each reachable status, the only status a
// product may move from. Statuses without an entry have no inbound
// transition.
var allowedPredecessor = map[ProductStatus]ProductStatus{
	StatusSentByManufacturer:    StatusCreated,
	StatusReceivedByDistributor: StatusSentByManufacturer,
	StatusSentByDistributor:     StatusReceivedByDistributor,
	StatusReceivedByRetailer:    StatusSentByDistributor,
}

// Statuses returns every status value, lifecycle order first.
func Statuses() []ProductStatus {
	out := make([]ProductStatus, 0, len(statusNames))
	for s := range statusNames {
		out = append(out, ProductStatus(s))
	}
	return out
}

// Valid reports whether s is a declared status.
func (s ProductStatus) Valid() bool {
	return s >= StatusCreated && int(s) < len(statusNames)
}

func (s ProductStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Predecessor returns the status a product must hold to move into s.
func (s ProductStatus) Predecessor() (ProductStatus, bool) {
	p, ok := allowedPredecessor[s]
	return p, ok
}

// CanAdvance reports whether from → to is a legal forward transition.
func CanAdvance(from, to ProductStatus) bool {
	p, ok := allowedPredecessor[to]
	return ok && p == from
}

// ParseStatus resolves the text form of a status.
func ParseStatus(v string) (ProductStatus, error) {
	for i, name := range statusNames {
		if name == v {
			return ProductStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, v)
}

// MarshalText implements encoding.TextMarshaler.
func (s ProductStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid product status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProductStatus) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
