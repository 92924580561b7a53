package guard

import (
	"context"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/role"
	"github.com/stockway/portal/internal/session"
)

// Source is read on every request so a sign out anywhere takes effect on the
// next navigation.
type Source interface {
	Snapshot() session.Snapshot
}

// ObserveFunc is told about every decision the guard makes.
type ObserveFunc func(ctx context.Context, d Decision)

type Guard struct {
	src     Source
	observe ObserveFunc
}

type Option func(*Guard)

func WithObserver(fn ObserveFunc) Option {
	return func(g *Guard) { g.observe = fn }
}

func New(src Source, opts ...Option) *Guard {
	g := &Guard{src: src}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// RequireAuth admits any authenticated session.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return g.handler(nil, next)
}

// RequireRole admits authenticated sessions holding one of roles. It checks
// authentication itself, so it may be used alone or nested in RequireAuth.
func (g *Guard) RequireRole(roles ...role.Role) func(http.Handler) http.Handler {
	allowed := make([]role.Role, len(roles))
	copy(allowed, roles)

	return func(next http.Handler) http.Handler {
		return g.handler(allowed, next)
	}
}

func (g *Guard) handler(allowed []role.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		snap := g.src.Snapshot()

		decision := Decide(snap.IsAuthenticated(), snap.Role(), allowed)
		if g.observe != nil {
			g.observe(ctx, decision)
		}

		switch decision {
		case Allowed:
			next.ServeHTTP(w, r)
		case RedirectLogin:
			slogctx.Debug(ctx, "Redirecting unauthenticated request to login", "path", r.URL.Path)
			http.Redirect(w, r, LoginURL(r.URL.RequestURI()), http.StatusFound)
		default:
			slogctx.Info(ctx, "Role not allowed for path", "path", r.URL.Path, "role", snap.Role().String())
			http.Redirect(w, r, PathUnauthorized, http.StatusFound)
		}
	})
}
