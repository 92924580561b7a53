// Package guard decides whether a navigation to a protected portal path may
// proceed for the current session, and where to send the user otherwise.
package guard

import (
	"github.com/stockway/portal/internal/role"
)

// Decision is the outcome of one navigation attempt.
type Decision uint8

const (
	Unchecked Decision = iota
	Allowed
	RedirectLogin
	RedirectUnauthorized
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RedirectLogin:
		return "redirect-login"
	case RedirectUnauthorized:
		return "redirect-unauthorized"
	default:
		return "unchecked"
	}
}

// Decide runs the authentication check and then the role check.
//
// A nil allowed set means the route is open to any authenticated identity.
// A non-nil set admits only its members, so an empty set admits nobody. A
// missing or unrecognised role is never a member.
func Decide(authenticated bool, r role.Role, allowed []role.Role) Decision {
	if !authenticated {
		return RedirectLogin
	}

	if allowed == nil {
		return Allowed
	}

	if !r.In(allowed) {
		return RedirectUnauthorized
	}

	return Allowed
}
