// Package session holds the authentication state of the running portal
// client and mirrors it to durable storage.
//
// Exactly one Store exists per client process. It is constructed at start
// up, hydrated from its Repository before anything reads it, and mutated
// only through SignIn, SignUp, SignOut, RefreshFromServer and Invalidate.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/serviceerr"
)

const DefaultMinPasswordLength = 6

// InvalidateFunc is notified after a forced logout.
type InvalidateFunc func(ctx context.Context, reason string)

type Store struct {
	repo Repository
	api  AuthAPI
	now  func() time.Time

	minPasswordLength int

	mu         sync.Mutex
	current    Session
	inFlight   bool
	generation uint64
	onInvalid  []InvalidateFunc
}

type Option func(*Store)

// WithMinPasswordLength overrides the sign up password length check.
func WithMinPasswordLength(n int) Option {
	return func(s *Store) { s.minPasswordLength = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, api AuthAPI, opts ...Option) *Store {
	s := &Store{
		repo:              repo,
		api:               api,
		now:               time.Now,
		minPasswordLength: DefaultMinPasswordLength,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Hydrate loads the persisted session without any network call. Missing,
// unreadable or inconsistent storage yields an empty session.
func (s *Store) Hydrate(ctx context.Context) Snapshot {
	var hydrated Session

	rec, err := s.repo.Load(ctx)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
		slogctx.Debug(ctx, "No persisted session found")
	case err != nil:
		slogctx.Warn(ctx, "Could not read persisted session, starting logged out", "error", err)
	case !rec.Consistent():
		if !rec.Empty() {
			slogctx.Warn(ctx, "Persisted session is incomplete, starting logged out",
				"has_token", rec.AccessToken != "", "has_identity", rec.Identity != nil)
		}
	default:
		hydrated = Session{
			Identity:     rec.Identity,
			AccessToken:  rec.AccessToken,
			RefreshToken: rec.RefreshToken,
			ExpiresAt:    tokenExpiry(rec.AccessToken),
		}
		slogctx.Debug(ctx, "Hydrated persisted session", "role", hydrated.Role().String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = hydrated

	return s.snapshotLocked()
}

// RequestOTP asks the backend to send a one-time code. The session is not touched.
func (s *Store) RequestOTP(ctx context.Context, email string) (OTPChallenge, error) {
	if err := validateEmail(email); err != nil {
		return OTPChallenge{}, err
	}

	challenge, err := s.api.RequestOTP(ctx, email)
	if err != nil {
		return OTPChallenge{}, fmt.Errorf("requesting otp: %w", err)
	}

	return challenge, nil
}

// SignIn authenticates with a password or, when cred.OTP is set, a one-time
// code. On failure the session is left as it was.
func (s *Store) SignIn(ctx context.Context, cred Credential) error {
	if err := validateEmail(cred.Email); err != nil {
		return err
	}
	if cred.OTP == "" && cred.Password == "" {
		return &serviceerr.ValidationError{Field: "password", Message: "Password is required"}
	}

	gen, err := s.begin()
	if err != nil {
		return err
	}
	defer s.end()

	var tokens Tokens
	if cred.OTP != "" {
		tokens, err = s.api.VerifyOTP(ctx, cred.Email, cred.OTP)
	} else {
		tokens, err = s.api.SignIn(ctx, cred.Email, cred.Password)
	}
	if err != nil {
		slogctx.Info(ctx, "Sign in rejected", "error", err)
		return fmt.Errorf("signing in: %w", err)
	}

	if err := s.establish(ctx, gen, tokens); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	slogctx.Info(ctx, "Signed in", "role", tokens.User.Role.String())

	return nil
}

// SignUp validates the form locally before any request, then behaves like SignIn.
func (s *Store) SignUp(ctx context.Context, cred Credential, confirmation string) error {
	if err := s.validateSignUp(cred, confirmation); err != nil {
		return err
	}

	gen, err := s.begin()
	if err != nil {
		return err
	}
	defer s.end()

	tokens, err := s.api.SignUp(ctx, cred.Email, cred.Password, confirmation)
	if err != nil {
		slogctx.Info(ctx, "Sign up rejected", "error", err)
		return fmt.Errorf("signing up: %w", err)
	}

	if err := s.establish(ctx, gen, tokens); err != nil {
		return fmt.Errorf("signing up: %w", err)
	}

	slogctx.Info(ctx, "Signed up", "role", tokens.User.Role.String())

	return nil
}

// SignOut tells the backend, ignoring its answer, and then always empties the
// session and durable storage. A storage failure is returned but the
// in-memory session is empty regardless.
func (s *Store) SignOut(ctx context.Context) error {
	if s.IsAuthenticated() {
		if err := s.api.Logout(ctx); err != nil {
			slogctx.Warn(ctx, "Backend logout failed, clearing local session anyway", "error", err)
		}
	}

	if err := s.clear(ctx); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}

	slogctx.Info(ctx, "Signed out")

	return nil
}

// RefreshFromServer validates the held token against the backend. Without a
// token it only resets the session. Any failure empties the session and
// durable storage.
func (s *Store) RefreshFromServer(ctx context.Context) error {
	if !s.IsAuthenticated() {
		s.mu.Lock()
		s.current = Session{}
		s.mu.Unlock()

		return nil
	}

	gen, err := s.begin()
	if err != nil {
		return err
	}
	defer s.end()

	identity, err := s.api.CurrentIdentity(ctx)
	if err == nil && !identity.Role.IsValid() {
		err = fmt.Errorf("%w: backend returned an identity without a known role", serviceerr.ErrInconsistentRecord)
	}
	if err != nil {
		slogctx.Warn(ctx, "Session could not be validated, clearing it", "error", err)
		if clearErr := s.clear(ctx); clearErr != nil {
			return errors.Join(fmt.Errorf("refreshing identity: %w", err), clearErr)
		}

		return fmt.Errorf("refreshing identity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return serviceerr.ErrSuperseded
	}

	rec := Record{
		AccessToken:  s.current.AccessToken,
		RefreshToken: s.current.RefreshToken,
		Identity:     &identity,
	}
	if err := s.repo.Store(ctx, rec); err != nil {
		return fmt.Errorf("persisting refreshed identity: %w", err)
	}

	s.current.Identity = &identity

	return nil
}

// Invalidate is the forced logout raised when the backend rejects the held
// token. It never calls the backend.
func (s *Store) Invalidate(ctx context.Context, reason string) {
	if err := s.clear(ctx); err != nil {
		slogctx.Error(ctx, "Failed to clear persisted session on invalidation", "error", err)
	}

	slogctx.Warn(ctx, "Session invalidated", "reason", reason)

	s.mu.Lock()
	listeners := make([]InvalidateFunc, len(s.onInvalid))
	copy(listeners, s.onInvalid)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, reason)
	}
}

// OnInvalidate registers fn to run after every forced logout.
func (s *Store) OnInvalidate(fn InvalidateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onInvalid = append(s.onInvalid, fn)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// AccessToken returns the bearer token, empty when logged out.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current.AccessToken
}

func (s *Store) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inFlight
}

// Reset drops the in-memory state without touching durable storage.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Session{}
	s.inFlight = false
	s.generation++
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Session: s.current.clone(), IsLoading: s.inFlight}
}

// begin takes the single-flight slot shared by the operations that may
// establish a session.
func (s *Store) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return 0, serviceerr.ErrBusy
	}
	s.inFlight = true

	return s.generation, nil
}

func (s *Store) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
}

// establish persists freshly issued tokens and then swaps them in, unless a
// sign out happened since gen was taken.
func (s *Store) establish(ctx context.Context, gen uint64, tokens Tokens) error {
	if tokens.AccessToken == "" {
		return fmt.Errorf("%w: backend returned no access token", serviceerr.ErrInconsistentRecord)
	}
	if !tokens.User.Role.IsValid() {
		return fmt.Errorf("%w: backend returned an identity without a known role", serviceerr.ErrInconsistentRecord)
	}

	identity := tokens.User
	next := Session{
		Identity:     &identity,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    expiryOf(tokens, s.now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		slogctx.Info(ctx, "Discarding authentication result completed after sign out")
		return serviceerr.ErrSuperseded
	}

	rec := Record{
		AccessToken:  next.AccessToken,
		RefreshToken: next.RefreshToken,
		Identity:     next.Identity,
	}
	if err := s.repo.Store(ctx, rec); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	s.current = next

	return nil
}

func (s *Store) clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.current = Session{}

	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("clearing persisted session: %w", err)
	}

	return nil
}

func (s *Store) validateSignUp(cred Credential, confirmation string) error {
	if err := validateEmail(cred.Email); err != nil {
		return err
	}

	if len(cred.Password) < s.minPasswordLength {
		return &serviceerr.ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("Password must be at least %d characters", s.minPasswordLength),
		}
	}

	if cred.Password != confirmation {
		return &serviceerr.ValidationError{Field: "confirm_password", Message: "Passwords do not match"}
	}

	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &serviceerr.ValidationError{Field: "email", Message: "Email is required"}
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return &serviceerr.ValidationError{Field: "email", Message: "Enter a valid email address"}
	}

	return nil
}
