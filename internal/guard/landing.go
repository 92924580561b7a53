package guard

import (
	"github.com/stockway/portal/internal/role"
)

const (
	PathRoot         = "/"
	PathLogin        = "/login"
	PathSendOTP      = "/send-otp"
	PathVerifyOTP    = "/verify-otp"
	PathSignUp       = "/signup"
	PathLogout       = "/logout"
	PathUnauthorized = "/unauthorized"
)

var dashboards = map[role.Role]string{
	role.Shopkeeper:       "/shopkeeper/dashboard",
	role.WarehouseManager: "/warehouse/dashboard",
	role.Rider:            "/rider/dashboard",
	role.SuperAdmin:       "/admin/dashboard",
}

// LandingPath maps a session to its default page. Every input has an
// answer; anything without a dashboard, pending accounts included, lands on
// the login page.
func LandingPath(authenticated bool, r role.Role) string {
	if !authenticated {
		return PathLogin
	}

	if path, ok := dashboards[r]; ok {
		return path
	}

	return PathLogin
}
