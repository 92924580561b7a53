package guard

import (
	"net/url"
	"slices"
	"strings"

	"github.com/stockway/portal/internal/role"
)

// Area is a protected subtree of the portal reserved for some roles.
type Area struct {
	Prefix  string
	Allowed []role.Role
	Pages   []string
}

// Areas is the protected route table of the portal.
type Areas []Area

// DefaultAreas returns the four role dashboards with their pages.
func DefaultAreas() Areas {
	return Areas{
		{
			Prefix:  "/shopkeeper",
			Allowed: []role.Role{role.Shopkeeper},
			Pages:   []string{"dashboard", "profile", "warehouses", "inventory", "orders", "orders/create", "orders/*"},
		},
		{
			Prefix:  "/warehouse",
			Allowed: []role.Role{role.WarehouseManager},
			Pages:   []string{"dashboard", "profile", "inventory", "orders", "orders/*", "riders"},
		},
		{
			Prefix:  "/rider",
			Allowed: []role.Role{role.Rider},
			Pages:   []string{"dashboard", "profile", "deliveries", "deliveries/*", "earnings"},
		},
		{
			Prefix:  "/admin",
			Allowed: []role.Role{role.SuperAdmin},
			Pages:   []string{"dashboard", "users", "warehouses"},
		},
	}
}

// Match returns the area that owns path.
func (a Areas) Match(path string) (Area, bool) {
	for _, area := range a {
		if path == area.Prefix || strings.HasPrefix(path, area.Prefix+"/") {
			return area, true
		}
	}
	return Area{}, false
}

// HasPage reports whether the path below the area prefix is a known page.
// A trailing "*" segment matches exactly one path segment.
func (a Area) HasPage(path string) bool {
	rest := strings.Trim(strings.TrimPrefix(path, a.Prefix), "/")
	if rest == "" {
		return false
	}

	segments := strings.Split(rest, "/")
	return slices.ContainsFunc(a.Pages, func(page string) bool {
		pattern := strings.Split(page, "/")
		if len(pattern) != len(segments) {
			return false
		}
		for i, p := range pattern {
			if p != "*" && p != segments[i] {
				return false
			}
		}
		return true
	})
}

// Index is where a request for the bare area prefix goes.
func (a Area) Index() string {
	return a.Prefix + "/dashboard"
}

// LoginURL builds the login redirect target carrying the requested path.
func LoginURL(next string) string {
	next = SafeNext(next)
	if next == "" || next == PathRoot || next == PathLogin {
		return PathLogin
	}

	return PathLogin + "?" + url.Values{"next": {next}}.Encode()
}

// SafeNext returns next when it is a path on this portal, empty otherwise.
func SafeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}

	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}

	return next
}

// AfterLogin picks where a freshly signed-in user goes: the requested next
// path when the guard would let them in, their landing path otherwise.
func (a Areas) AfterLogin(authenticated bool, r role.Role, next string) string {
	landing := LandingPath(authenticated, r)

	next = SafeNext(next)
	if next == "" {
		return landing
	}

	u, _ := url.Parse(next)
	area, ok := a.Match(u.Path)
	if !ok {
		return landing
	}

	if Decide(authenticated, r, area.Allowed) != Allowed {
		return landing
	}

	return next
}

// Resolve answers where a navigation to path ends up. The root resolves to
// the landing path and paths outside every area are not guarded.
func (a Areas) Resolve(authenticated bool, r role.Role, path string) (Decision, string) {
	if path == PathRoot {
		return Allowed, LandingPath(authenticated, r)
	}

	area, ok := a.Match(path)
	if !ok {
		return Allowed, path
	}

	switch d := Decide(authenticated, r, area.Allowed); d {
	case RedirectLogin:
		return d, LoginURL(path)
	case RedirectUnauthorized:
		return d, PathUnauthorized
	default:
		return d, path
	}
}
