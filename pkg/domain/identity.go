package domain

import "strings"

// Identity is a resolved caller identity, typically a 0x-prefixed account
// address. Authentication happens upstream; the ledger only compares values.
type Identity string

// NormalizeIdentity trims surrounding whitespace and lower-cases hex
// addresses so that the same account always compares equal.
func NormalizeIdentity(raw string) Identity {
	v := strings.TrimSpace(raw)
	if isHexAddress(v) {
		v = strings.ToLower(v)
	}
	return Identity(v)
}

// IsZero reports whether the identity is the null identity: empty, or a hex
// address made only of zeros.
func (id Identity) IsZero() bool {
	v := strings.TrimSpace(string(id))
	if v == "" {
		return true
	}
	if !isHexAddress(v) {
		return false
	}
	return strings.Trim(v[2:], "0") == ""
}

func (id Identity) String() string { return string(id) }

func isHexAddress(v string) bool {
	if len(v) < 3 || (v[:2] != "0x" && v[:2] != "0X") {
		return false
	}
	for _, r := range v[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
