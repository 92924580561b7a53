package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/guard"
	"github.com/stockway/portal/internal/serviceerr"
	"github.com/stockway/portal/internal/session"
	"github.com/stockway/portal/pkg/fingerprint"
)

type formView struct {
	Form      string   `json:"form"`
	Fields    []string `json:"fields"`
	CSRFToken string   `json:"csrf_token"`
	Next      string   `json:"next,omitempty"`
	Email     string   `json:"email,omitempty"`
}

type sessionView struct {
	Authenticated bool              `json:"is_authenticated"`
	Loading       bool              `json:"is_loading"`
	User          *session.Identity `json:"user"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Landing       string            `json:"landing"`
}

type pageView struct {
	Area string            `json:"area"`
	Page string            `json:"page"`
	User *session.Identity `json:"user"`
}

type errorView struct {
	Error string `json:"error"`
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	http.Redirect(w, r, guard.LandingPath(snap.IsAuthenticated(), snap.Role()), http.StatusFound)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	next := guard.SafeNext(r.URL.Query().Get("next"))

	if snap := s.store.Snapshot(); snap.IsAuthenticated() {
		target := s.areas.AfterLogin(true, snap.Role(), next)
		if target != guard.PathLogin {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}

	writeJSON(w, http.StatusOK, formView{
		Form:      "login",
		Fields:    []string{"email", "password"},
		CSRFToken: s.issueCSRF(w, r),
		Next:      next,
	})
}

// handleLogin signs in with a password, or with an OTP when one is submitted.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	cred := session.Credential{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		OTP:      strings.TrimSpace(r.PostFormValue("otp")),
	}

	if err := s.store.SignIn(r.Context(), cred); err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	s.redirectAfterLogin(w, r)
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := strings.TrimSpace(r.PostFormValue("email"))

	challenge, err := s.store.RequestOTP(ctx, email)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	if challenge.Email == "" {
		challenge.Email = email
	}

	fp, _ := fingerprint.FromContext(ctx)
	s.challenges.Set(fp, challenge.Email, cache.DefaultExpiration)
	slogctx.Info(ctx, "OTP requested, awaiting verification")

	target := guard.PathVerifyOTP
	if next := guard.SafeNext(r.PostFormValue("next")); next != "" {
		target = withNext(target, next)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleVerifyOTPForm(w http.ResponseWriter, r *http.Request) {
	email, ok := s.pendingChallenge(r)
	if !ok {
		http.Redirect(w, r, guard.PathLogin, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, formView{
		Form:      "verify-otp",
		Fields:    []string{"otp"},
		CSRFToken: s.issueCSRF(w, r),
		Next:      guard.SafeNext(r.URL.Query().Get("next")),
		Email:     email,
	})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email, ok := s.pendingChallenge(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "No code was requested for this browser, start again")
		return
	}

	cred := session.Credential{Email: email, OTP: strings.TrimSpace(r.PostFormValue("otp"))}
	if cred.OTP == "" {
		writeError(w, http.StatusBadRequest, "Enter the code sent to your email")
		return
	}

	if err := s.store.SignIn(ctx, cred); err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	fp, _ := fingerprint.FromContext(ctx)
	s.challenges.Delete(fp)

	s.redirectAfterLogin(w, r)
}

func (s *Server) handleSignUpForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formView{
		Form:      "signup",
		Fields:    []string{"email", "password", "confirm_password"},
		CSRFToken: s.issueCSRF(w, r),
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	cred := session.Credential{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}

	if err := s.store.SignUp(r.Context(), cred, r.PostFormValue("confirm_password")); err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	s.redirectAfterLogin(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SignOut(r.Context()); err != nil {
		slogctx.Error(r.Context(), "Sign out could not clear persisted session", "error", err)
	}

	http.SetCookie(w, s.cfg.Session.CSRFCookieTemplate.Expired())
	http.Redirect(w, r, guard.PathLogin, http.StatusSeeOther)
}

func (s *Server) handleUnauthorized(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusForbidden, "You do not have permission to view this page")
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()

	view := sessionView{
		Authenticated: snap.IsAuthenticated(),
		Loading:       snap.IsLoading,
		User:          snap.Identity,
		Landing:       guard.LandingPath(snap.IsAuthenticated(), snap.Role()),
	}
	if !snap.ExpiresAt.IsZero() {
		view.ExpiresAt = &snap.ExpiresAt
	}

	writeJSON(w, http.StatusOK, view)
}

// areaHandler serves the pages of one role area. It runs behind the guard.
func (s *Server) areaHandler(area guard.Area) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSuffix(r.URL.Path, "/") == area.Prefix {
			http.Redirect(w, r, area.Index(), http.StatusFound)
			return
		}

		if !area.HasPage(r.URL.Path) {
			writeError(w, http.StatusNotFound, "Page not found")
			return
		}

		writeJSON(w, http.StatusOK, pageView{
			Area: strings.TrimPrefix(area.Prefix, "/"),
			Page: strings.Trim(strings.TrimPrefix(r.URL.Path, area.Prefix), "/"),
			User: s.store.Snapshot().Identity,
		})
	})
}

func (s *Server) pendingChallenge(r *http.Request) (string, bool) {
	fp, err := fingerprint.FromContext(r.Context())
	if err != nil {
		return "", false
	}

	v, ok := s.challenges.Get(fp)
	if !ok {
		return "", false
	}

	email, ok := v.(string)
	return email, ok && email != ""
}

func (s *Server) redirectAfterLogin(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	target := s.areas.AfterLogin(snap.IsAuthenticated(), snap.Role(), r.PostFormValue("next"))
	if target == guard.PathLogin {
		// signed in but without a dashboard, such as an account pending approval
		target = guard.PathUnauthorized
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slogctx.Error(r.Context(), "Session operation failed", "error", err)
	} else {
		slogctx.Info(r.Context(), "Session operation refused", "error", err)
	}

	writeError(w, status, serviceerr.DisplayMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, serviceerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, serviceerr.ErrAuthRejected), errors.Is(err, serviceerr.ErrSessionInvalidated):
		return http.StatusUnauthorized
	case errors.Is(err, serviceerr.ErrBusy), errors.Is(err, serviceerr.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, serviceerr.ErrTransport):
		return http.StatusBadGateway
	}

	var apiErr *serviceerr.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func withNext(path, next string) string {
	return path + "?next=" + url.QueryEscape(next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorView{Error: message})
}
