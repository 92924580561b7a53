// Package role defines the closed set of user roles known to the portal.
package role

import "strings"

// Role is a user category that governs which portal routes are permitted.
// The zero value is Unknown, which every unrecognised wire value decodes to.
type Role uint8

const (
	Unknown Role = iota
	Pending
	Shopkeeper
	WarehouseManager
	Rider
	SuperAdmin
)

var wireNames = map[Role]string{
	Pending:          "PENDING",
	Shopkeeper:       "SHOPKEEPER",
	WarehouseManager: "WAREHOUSE_MANAGER",
	Rider:            "RIDER",
	SuperAdmin:       "SUPER_ADMIN",
}

// All returns every known role, Unknown excluded.
func All() []Role {
	return []Role{Pending, Shopkeeper, WarehouseManager, Rider, SuperAdmin}
}

// Parse maps a wire name to its Role. Matching ignores case and surrounding
// whitespace; anything else is Unknown.
func Parse(s string) Role {
	s = strings.ToUpper(strings.TrimSpace(s))
	for r, name := range wireNames {
		if name == s {
			return r
		}
	}
	return Unknown
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	_, ok := wireNames[r]
	return ok
}

// String implements fmt.Stringer.
func (r Role) String() string {
	if name, ok := wireNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// In reports whether r is a member of set. Unknown is never a member.
func (r Role) In(set []Role) bool {
	if !r.IsValid() {
		return false
	}
	for _, candidate := range set {
		if candidate == r {
			return true
		}
	}
	return false
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return []byte{}, nil
	}
	return []byte(r.String()), nil
}

// UnmarshalText never fails: unrecognised values become Unknown so that a
// role added on the backend fails closed in the guard instead of breaking
// identity decoding.
func (r *Role) UnmarshalText(text []byte) error {
	*r = Parse(string(text))
	return nil
}
