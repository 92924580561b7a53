// Package portal serves the Stockway portal shell: auth pages, the role
// dashboards behind the navigation guard and a proxy to the backend API.
package portal

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/config"
	"github.com/stockway/portal/internal/guard"
	"github.com/stockway/portal/internal/middleware/requestid"
	"github.com/stockway/portal/internal/session"
	"github.com/stockway/portal/pkg/csrf"
	"github.com/stockway/portal/pkg/fingerprint"
)

const (
	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "csrf_token"

	// RedirectHeader tells a script client where to navigate after a
	// proxied call was rejected.
	RedirectHeader = "X-Portal-Redirect"
)

type Server struct {
	cfg     *config.Config
	store   *session.Store
	guard   *guard.Guard
	areas   guard.Areas
	meters  *meters
	csrfKey []byte
	now     func() time.Time

	// challenges maps a client fingerprint to the email an OTP was sent to.
	challenges *cache.Cache

	proxy *httputil.ReverseProxy
}

type Option func(*Server)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithAreas(areas guard.Areas) Option {
	return func(s *Server) { s.areas = areas }
}

// New builds the portal. backend is the round tripper used for proxied API
// calls and must carry the session bearer token.
func New(ctx context.Context, cfg *config.Config, store *session.Store, backend http.RoundTripper, csrfKey []byte, opts ...Option) (*Server, error) {
	if len(csrfKey) == 0 {
		return nil, errors.New("csrf key must not be empty")
	}

	backendURL, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api base url: %w", err)
	}

	m, err := newMeters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		areas:      guard.DefaultAreas(),
		meters:     m,
		csrfKey:    csrfKey,
		now:        time.Now,
		challenges: cache.New(cfg.Session.OTPTTL, 2*cfg.Session.OTPTTL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.guard = guard.New(store, guard.WithObserver(m.observeDecision))
	s.proxy = newProxy(backendURL, backend)

	store.OnInvalidate(m.observeInvalidation)

	return s, nil
}

// Handler returns the routed and instrumented portal.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", s.meters.instrument("landing", http.HandlerFunc(s.handleLanding)))

	mux.Handle("GET "+guard.PathLogin, s.meters.instrument("login_form", http.HandlerFunc(s.handleLoginForm)))
	mux.Handle("POST "+guard.PathLogin, s.meters.instrument("login", s.requireCSRF(http.HandlerFunc(s.handleLogin))))
	mux.Handle("POST "+guard.PathSendOTP, s.meters.instrument("send_otp", s.requireCSRF(http.HandlerFunc(s.handleSendOTP))))
	mux.Handle("GET "+guard.PathVerifyOTP, s.meters.instrument("verify_otp_form", http.HandlerFunc(s.handleVerifyOTPForm)))
	mux.Handle("POST "+guard.PathVerifyOTP, s.meters.instrument("verify_otp", s.requireCSRF(http.HandlerFunc(s.handleVerifyOTP))))
	mux.Handle("GET "+guard.PathSignUp, s.meters.instrument("signup_form", http.HandlerFunc(s.handleSignUpForm)))
	mux.Handle("POST "+guard.PathSignUp, s.meters.instrument("signup", s.requireCSRF(http.HandlerFunc(s.handleSignUp))))
	mux.Handle("POST "+guard.PathLogout, s.meters.instrument("logout", s.requireCSRF(http.HandlerFunc(s.handleLogout))))
	mux.Handle("GET "+guard.PathUnauthorized, s.meters.instrument("unauthorized", http.HandlerFunc(s.handleUnauthorized)))
	mux.Handle("GET /session", s.meters.instrument("session", http.HandlerFunc(s.handleSession)))

	for _, area := range s.areas {
		h := s.guard.RequireAuth(s.guard.RequireRole(area.Allowed...)(s.areaHandler(area)))
		op := "area" + strings.ReplaceAll(area.Prefix, "/", "_")
		mux.Handle("GET "+area.Prefix, s.meters.instrument(op, h))
		mux.Handle("GET "+area.Prefix+"/", s.meters.instrument(op, h))
	}

	mux.Handle("/api/", s.meters.instrument("api_proxy", s.proxy))

	return requestid.Middleware(fingerprint.Middleware(mux))
}

// issueCSRF sets a fresh token cookie and returns the token for the form.
func (s *Server) issueCSRF(w http.ResponseWriter, r *http.Request) string {
	fp, _ := fingerprint.FromContext(r.Context())
	token := csrf.NewToken(fp, s.csrfKey, s.now())
	http.SetCookie(w, s.cfg.Session.CSRFCookieTemplate.ToCookieFor(token, s.cfg.Session.CSRFTokenMaxAge))
	return token
}

// requireCSRF accepts a request only when the submitted token matches the
// cookie and is valid for this client.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		cookie, err := r.Cookie(s.cfg.Session.CSRFCookieTemplate.Name)
		if err != nil || cookie.Value == "" {
			slogctx.Info(ctx, "Rejecting request without csrf cookie")
			writeError(w, http.StatusForbidden, "Your form has expired, please reload the page")
			return
		}

		submitted := r.Header.Get(csrfHeader)
		if submitted == "" {
			submitted = r.PostFormValue(csrfFormField)
		}

		fp, _ := fingerprint.FromContext(ctx)
		if subtle.ConstantTimeCompare([]byte(submitted), []byte(cookie.Value)) != 1 ||
			!csrf.Validate(submitted, fp, s.csrfKey, s.cfg.Session.CSRFTokenMaxAge, s.now()) {
			slogctx.Info(ctx, "Rejecting request with invalid csrf token")
			writeError(w, http.StatusForbidden, "Your form has expired, please reload the page")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartHTTPServer serves the portal until ctx is done.
func StartHTTPServer(ctx context.Context, cfg *config.Config, portal *Server) error {
	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           portal.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
