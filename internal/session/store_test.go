package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockway/portal/internal/role"
	"github.com/stockway/portal/internal/serviceerr"
	"github.com/stockway/portal/internal/session"
	sessionmock "github.com/stockway/portal/internal/session/mock"
)

// fakeAuthAPI answers every call from its fields and counts calls. A non-nil
// gate blocks sign in calls until it is closed.
type fakeAuthAPI struct {
	mu sync.Mutex

	tokens    session.Tokens
	identity  session.Identity
	challenge session.OTPChallenge
	err       error
	logoutErr error
	gate      chan struct{}
	entered   chan struct{}

	calls map[string]int
}

var _ = session.AuthAPI(&fakeAuthAPI{})

func (f *fakeAuthAPI) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeAuthAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[name]
}

func (f *fakeAuthAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAuthAPI) wait() {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeAuthAPI) RequestOTP(_ context.Context, _ string) (session.OTPChallenge, error) {
	f.record("RequestOTP")
	return f.challenge, f.err
}

func (f *fakeAuthAPI) VerifyOTP(_ context.Context, _, _ string) (session.Tokens, error) {
	f.record("VerifyOTP")
	f.wait()
	return f.tokens, f.err
}

func (f *fakeAuthAPI) SignIn(_ context.Context, _, _ string) (session.Tokens, error) {
	f.record("SignIn")
	f.wait()
	return f.tokens, f.err
}

func (f *fakeAuthAPI) SignUp(_ context.Context, _, _, _ string) (session.Tokens, error) {
	f.record("SignUp")
	f.wait()
	return f.tokens, f.err
}

func (f *fakeAuthAPI) CurrentIdentity(_ context.Context) (session.Identity, error) {
	f.record("CurrentIdentity")
	return f.identity, f.err
}

func (f *fakeAuthAPI) Logout(_ context.Context) error {
	f.record("Logout")
	return f.logoutErr
}

var (
	shopkeeper = session.Identity{ID: 7, Email: "owner@shop.example", FullName: "Shop Owner", Role: role.Shopkeeper, IsActive: true}
	rider      = session.Identity{ID: 9, Email: "rider@stockway.example", FullName: "Rider", Role: role.Rider, IsActive: true}

	errBackend = errors.New("backend unavailable")
)

func issuedTokens(identity session.Identity) session.Tokens {
	return session.Tokens{
		AccessToken:  "access-" + identity.Email,
		RefreshToken: "refresh-" + identity.Email,
		TokenType:    "Bearer",
		User:         identity,
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return signed
}

func TestHydrate(t *testing.T) {
	persisted := session.Record{AccessToken: "access", RefreshToken: "refresh", Identity: &shopkeeper}

	tests := []struct {
		name       string
		repo       *sessionmock.Repository
		wantAuthed bool
		wantRole   role.Role
	}{
		{
			name: "nothing persisted",
			repo: sessionmock.NewInMemRepository(),
		},
		{
			name:       "token and identity",
			repo:       sessionmock.NewInMemRepository(sessionmock.WithRecord(persisted)),
			wantAuthed: true,
			wantRole:   role.Shopkeeper,
		},
		{
			name: "token without identity",
			repo: sessionmock.NewInMemRepository(sessionmock.WithRecord(session.Record{AccessToken: "access"})),
		},
		{
			name: "identity without token",
			repo: sessionmock.NewInMemRepository(sessionmock.WithRecord(session.Record{Identity: &shopkeeper})),
		},
		{
			name: "unreadable storage",
			repo: sessionmock.NewInMemRepository(sessionmock.WithLoadError(serviceerr.ErrInconsistentRecord)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAuthAPI{}
			store := session.NewStore(tt.repo, api)

			snap := store.Hydrate(t.Context())

			assert.Equal(t, tt.wantAuthed, snap.IsAuthenticated())
			assert.Equal(t, tt.wantAuthed, store.IsAuthenticated())
			assert.Equal(t, tt.wantRole, snap.Role())
			assert.False(t, snap.IsLoading)
			assert.Zero(t, api.total(), "hydrate must not call the backend")
		})
	}
}

func TestHydrate_Idempotent(t *testing.T) {
	repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(session.Record{
		AccessToken: "access", RefreshToken: "refresh", Identity: &shopkeeper,
	}))
	store := session.NewStore(repo, &fakeAuthAPI{})

	first := store.Hydrate(t.Context())
	second := store.Hydrate(t.Context())

	assert.Equal(t, first, second)
	assert.Zero(t, repo.Stores)
	assert.Zero(t, repo.Clears)
}

func TestHydrate_ReadsTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(session.Record{
		AccessToken: signedToken(t, exp), Identity: &shopkeeper,
	}))
	store := session.NewStore(repo, &fakeAuthAPI{})

	snap := store.Hydrate(t.Context())

	assert.True(t, snap.ExpiresAt.Equal(exp))
	assert.False(t, snap.Expired(time.Now()))
	assert.True(t, snap.Expired(exp.Add(time.Second)))
}

func TestSignIn(t *testing.T) {
	ctx := t.Context()

	t.Run("password success persists all three keys", func(t *testing.T) {
		repo := sessionmock.NewInMemRepository()
		api := &fakeAuthAPI{tokens: issuedTokens(shopkeeper)}
		store := session.NewStore(repo, api)

		err := store.SignIn(ctx, session.Credential{Email: shopkeeper.Email, Password: "secret1"})
		require.NoError(t, err)

		snap := store.Snapshot()
		assert.True(t, snap.IsAuthenticated())
		assert.Equal(t, role.Shopkeeper, snap.Role())
		assert.False(t, snap.IsLoading)
		assert.Equal(t, 1, api.count("SignIn"))

		rec, ok := repo.Record()
		require.True(t, ok)
		assert.Equal(t, "access-"+shopkeeper.Email, rec.AccessToken)
		assert.Equal(t, "refresh-"+shopkeeper.Email, rec.RefreshToken)
		require.NotNil(t, rec.Identity)
		assert.Equal(t, shopkeeper, *rec.Identity)
	})

	t.Run("otp selects the verify flow", func(t *testing.T) {
		api := &fakeAuthAPI{tokens: issuedTokens(rider)}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		err := store.SignIn(ctx, session.Credential{Email: rider.Email, OTP: "123456"})
		require.NoError(t, err)

		assert.Equal(t, 1, api.count("VerifyOTP"))
		assert.Zero(t, api.count("SignIn"))
		assert.Equal(t, role.Rider, store.Snapshot().Role())
	})

	t.Run("expiry from expires_in", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		tokens := issuedTokens(shopkeeper)
		tokens.ExpiresIn = 3600
		store := session.NewStore(sessionmock.NewInMemRepository(), &fakeAuthAPI{tokens: tokens},
			session.WithClock(func() time.Time { return now }))

		require.NoError(t, store.SignIn(ctx, session.Credential{Email: shopkeeper.Email, Password: "secret1"}))
		assert.Equal(t, now.Add(time.Hour), store.Snapshot().ExpiresAt)
	})

	t.Run("rejection leaves the previous session", func(t *testing.T) {
		previous := session.Record{AccessToken: "old", Identity: &rider}
		repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(previous))
		api := &fakeAuthAPI{err: serviceerr.NewAPIError(401, "Invalid credentials", serviceerr.ErrAuthRejected)}
		store := session.NewStore(repo, api)
		before := store.Hydrate(ctx)

		err := store.SignIn(ctx, session.Credential{Email: shopkeeper.Email, Password: "wrong"})
		require.ErrorIs(t, err, serviceerr.ErrAuthRejected)
		assert.Equal(t, "Invalid credentials", serviceerr.DisplayMessage(err))

		after := store.Snapshot()
		assert.Equal(t, before, after)
		assert.False(t, store.IsLoading())
		assert.Zero(t, repo.Stores)
	})

	t.Run("invalid email makes no request", func(t *testing.T) {
		api := &fakeAuthAPI{}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		err := store.SignIn(ctx, session.Credential{Email: "not-an-email", Password: "secret1"})
		require.ErrorIs(t, err, serviceerr.ErrValidation)
		assert.Zero(t, api.total())
	})

	t.Run("missing password makes no request", func(t *testing.T) {
		api := &fakeAuthAPI{}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		err := store.SignIn(ctx, session.Credential{Email: shopkeeper.Email})
		var verr *serviceerr.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "password", verr.Field)
		assert.Zero(t, api.total())
	})

	t.Run("response without token is rejected", func(t *testing.T) {
		repo := sessionmock.NewInMemRepository()
		store := session.NewStore(repo, &fakeAuthAPI{tokens: session.Tokens{User: shopkeeper}})

		err := store.SignIn(ctx, session.Credential{Email: shopkeeper.Email, Password: "secret1"})
		require.ErrorIs(t, err, serviceerr.ErrInconsistentRecord)
		assert.False(t, store.IsAuthenticated())
		assert.Zero(t, repo.Stores)
	})

	t.Run("identity without a known role is rejected", func(t *testing.T) {
		previous := session.Record{AccessToken: "old", Identity: &rider}
		repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(previous))
		auditor := shopkeeper
		auditor.Role = role.Unknown
		store := session.NewStore(repo, &fakeAuthAPI{tokens: issuedTokens(auditor)})
		before := store.Hydrate(ctx)

		err := store.SignIn(ctx, session.Credential{Email: shopkeeper.Email, Password: "secret1"})
		require.ErrorIs(t, err, serviceerr.ErrInconsistentRecord)
		assert.Equal(t, before, store.Snapshot())
		assert.Zero(t, repo.Stores)
	})

	t.Run("storage failure keeps the session unchanged", func(t *testing.T) {
		errDisk := errors.New("disk full")
		repo := sessionmock.NewInMemRepository(sessionmock.WithStoreError(errDisk))
		store := session.NewStore(repo, &fakeAuthAPI{tokens: issuedTokens(shopkeeper)})

		err := store.SignIn(ctx, session.Credential{Email: shopkeeper.Email, Password: "secret1"})
		require.ErrorIs(t, err, errDisk)
		assert.False(t, store.IsAuthenticated())
		assert.False(t, store.IsLoading())
	})
}

func TestSignIn_Concurrency(t *testing.T) {
	t.Run("second call while in flight is busy", func(t *testing.T) {
		api := &fakeAuthAPI{
			tokens:  issuedTokens(shopkeeper),
			gate:    make(chan struct{}),
			entered: make(chan struct{}, 1),
		}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		done := make(chan error, 1)
		go func() {
			done <- store.SignIn(t.Context(), session.Credential{Email: shopkeeper.Email, Password: "secret1"})
		}()
		<-api.entered

		assert.True(t, store.IsLoading())
		assert.True(t, store.Snapshot().IsLoading)

		err := store.SignUp(t.Context(), session.Credential{Email: rider.Email, Password: "secret1"}, "secret1")
		require.ErrorIs(t, err, serviceerr.ErrBusy)

		close(api.gate)
		require.NoError(t, <-done)
		assert.False(t, store.IsLoading())
		assert.Equal(t, role.Shopkeeper, store.Snapshot().Role())
	})

	t.Run("completion after sign out is discarded", func(t *testing.T) {
		repo := sessionmock.NewInMemRepository()
		api := &fakeAuthAPI{
			tokens:  issuedTokens(shopkeeper),
			gate:    make(chan struct{}),
			entered: make(chan struct{}, 1),
		}
		store := session.NewStore(repo, api)

		done := make(chan error, 1)
		go func() {
			done <- store.SignIn(t.Context(), session.Credential{Email: shopkeeper.Email, Password: "secret1"})
		}()
		<-api.entered

		require.NoError(t, store.SignOut(t.Context()))
		close(api.gate)

		require.ErrorIs(t, <-done, serviceerr.ErrSuperseded)
		assert.False(t, store.IsAuthenticated())
		_, stored := repo.Record()
		assert.False(t, stored)
	})
}

func TestSignUp_Validation(t *testing.T) {
	tests := []struct {
		name         string
		cred         session.Credential
		confirmation string
		wantField    string
	}{
		{
			name:         "short password",
			cred:         session.Credential{Email: shopkeeper.Email, Password: "abc"},
			confirmation: "xyz",
			wantField:    "password",
		},
		{
			name:         "mismatched confirmation",
			cred:         session.Credential{Email: shopkeeper.Email, Password: "secret1"},
			confirmation: "secret2",
			wantField:    "confirm_password",
		},
		{
			name:         "missing email",
			cred:         session.Credential{Password: "secret1"},
			confirmation: "secret1",
			wantField:    "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAuthAPI{}
			repo := sessionmock.NewInMemRepository()
			store := session.NewStore(repo, api)

			err := store.SignUp(t.Context(), tt.cred, tt.confirmation)

			var verr *serviceerr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Zero(t, api.total(), "validation must fail before any request")
			assert.Zero(t, repo.Stores)
			assert.False(t, store.IsLoading())
		})
	}
}

func TestSignUp(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		pending := shopkeeper
		pending.Role = role.Pending
		api := &fakeAuthAPI{tokens: issuedTokens(pending)}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		err := store.SignUp(t.Context(), session.Credential{Email: pending.Email, Password: "secret1"}, "secret1")
		require.NoError(t, err)

		assert.Equal(t, 1, api.count("SignUp"))
		assert.Equal(t, role.Pending, store.Snapshot().Role())
	})

	t.Run("custom minimum length", func(t *testing.T) {
		api := &fakeAuthAPI{tokens: issuedTokens(shopkeeper)}
		store := session.NewStore(sessionmock.NewInMemRepository(), api, session.WithMinPasswordLength(10))

		err := store.SignUp(t.Context(), session.Credential{Email: shopkeeper.Email, Password: "secret1"}, "secret1")
		require.ErrorIs(t, err, serviceerr.ErrValidation)
		assert.Zero(t, api.total())
	})

	t.Run("backend rejection", func(t *testing.T) {
		api := &fakeAuthAPI{err: serviceerr.NewAPIError(400, "email: user with this email already exists.", serviceerr.ErrValidation)}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		err := store.SignUp(t.Context(), session.Credential{Email: shopkeeper.Email, Password: "secret1"}, "secret1")
		require.Error(t, err)
		assert.False(t, store.IsAuthenticated())
		assert.False(t, store.IsLoading())
	})
}

func TestSignOut(t *testing.T) {
	persisted := session.Record{AccessToken: "access", RefreshToken: "refresh", Identity: &shopkeeper}

	tests := []struct {
		name       string
		repoOpts   []sessionmock.RepositoryOption
		logoutErr  error
		wantLogout int
		errAssert  assert.ErrorAssertionFunc
	}{
		{
			name:       "backend accepts",
			repoOpts:   []sessionmock.RepositoryOption{sessionmock.WithRecord(persisted)},
			wantLogout: 1,
			errAssert:  assert.NoError,
		},
		{
			name:       "backend fails",
			repoOpts:   []sessionmock.RepositoryOption{sessionmock.WithRecord(persisted)},
			logoutErr:  errBackend,
			wantLogout: 1,
			errAssert:  assert.NoError,
		},
		{
			name:       "storage clear fails",
			repoOpts:   []sessionmock.RepositoryOption{sessionmock.WithRecord(persisted), sessionmock.WithClearError(errors.New("io"))},
			wantLogout: 1,
			errAssert:  assert.Error,
		},
		{
			name:       "already signed out",
			wantLogout: 0,
			errAssert:  assert.NoError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := sessionmock.NewInMemRepository(tt.repoOpts...)
			api := &fakeAuthAPI{logoutErr: tt.logoutErr}
			store := session.NewStore(repo, api)
			store.Hydrate(t.Context())

			err := store.SignOut(t.Context())
			tt.errAssert(t, err)

			snap := store.Snapshot()
			assert.False(t, snap.IsAuthenticated())
			assert.Nil(t, snap.Identity)
			assert.Empty(t, snap.RefreshToken)
			assert.Equal(t, tt.wantLogout, api.count("Logout"))
			assert.Equal(t, 1, repo.Clears)
		})
	}
}

func TestRefreshFromServer(t *testing.T) {
	persisted := session.Record{AccessToken: "access", RefreshToken: "refresh", Identity: &shopkeeper}

	t.Run("no token resets without a request", func(t *testing.T) {
		api := &fakeAuthAPI{}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		require.NoError(t, store.RefreshFromServer(t.Context()))
		assert.Zero(t, api.total())
		assert.False(t, store.IsLoading())
	})

	t.Run("updates identity and keeps tokens", func(t *testing.T) {
		promoted := shopkeeper
		promoted.Role = role.WarehouseManager
		repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(persisted))
		store := session.NewStore(repo, &fakeAuthAPI{identity: promoted})
		store.Hydrate(t.Context())

		require.NoError(t, store.RefreshFromServer(t.Context()))

		snap := store.Snapshot()
		assert.Equal(t, "access", snap.AccessToken)
		assert.Equal(t, role.WarehouseManager, snap.Role())

		rec, ok := repo.Record()
		require.True(t, ok)
		assert.Equal(t, role.WarehouseManager, rec.Identity.Role)
		assert.Equal(t, "refresh", rec.RefreshToken)
	})

	t.Run("rejection clears session and storage", func(t *testing.T) {
		repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(persisted))
		api := &fakeAuthAPI{err: serviceerr.NewAPIError(401, "", serviceerr.ErrSessionInvalidated)}
		store := session.NewStore(repo, api)
		require.True(t, store.Hydrate(t.Context()).IsAuthenticated())

		err := store.RefreshFromServer(t.Context())
		require.ErrorIs(t, err, serviceerr.ErrSessionInvalidated)

		snap := store.Snapshot()
		assert.False(t, snap.IsAuthenticated())
		assert.Nil(t, snap.Identity)
		assert.False(t, snap.IsLoading)

		_, stored := repo.Record()
		assert.False(t, stored)
	})

	t.Run("identity without a known role clears the session", func(t *testing.T) {
		repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(persisted))
		store := session.NewStore(repo, &fakeAuthAPI{identity: session.Identity{ID: 7, Email: shopkeeper.Email}})
		store.Hydrate(t.Context())

		err := store.RefreshFromServer(t.Context())
		require.ErrorIs(t, err, serviceerr.ErrInconsistentRecord)
		assert.False(t, store.IsAuthenticated())

		_, stored := repo.Record()
		assert.False(t, stored)
	})

	t.Run("rejection and clear failure are both reported", func(t *testing.T) {
		errIO := errors.New("io")
		repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(persisted), sessionmock.WithClearError(errIO))
		store := session.NewStore(repo, &fakeAuthAPI{err: errBackend})
		store.Hydrate(t.Context())

		err := store.RefreshFromServer(t.Context())
		require.ErrorIs(t, err, errBackend)
		require.ErrorIs(t, err, errIO)
		assert.False(t, store.IsAuthenticated())
	})
}

func TestInvalidate(t *testing.T) {
	persisted := session.Record{AccessToken: "access", RefreshToken: "refresh", Identity: &shopkeeper}
	repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(persisted))
	api := &fakeAuthAPI{}
	store := session.NewStore(repo, api)
	store.Hydrate(t.Context())

	var reasons []string
	store.OnInvalidate(func(_ context.Context, reason string) {
		reasons = append(reasons, reason)
	})

	store.Invalidate(t.Context(), "unauthorized")

	assert.False(t, store.IsAuthenticated())
	assert.Equal(t, []string{"unauthorized"}, reasons)
	assert.Zero(t, api.total(), "invalidation must not call the backend")
	_, stored := repo.Record()
	assert.False(t, stored)
}

func TestRequestOTP(t *testing.T) {
	t.Run("passes the challenge through", func(t *testing.T) {
		want := session.OTPChallenge{Success: true, Message: "OTP sent", Email: rider.Email}
		api := &fakeAuthAPI{challenge: want}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		got, err := store.RequestOTP(t.Context(), rider.Email)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.False(t, store.IsAuthenticated())
	})

	t.Run("invalid email", func(t *testing.T) {
		api := &fakeAuthAPI{}
		store := session.NewStore(sessionmock.NewInMemRepository(), api)

		_, err := store.RequestOTP(t.Context(), "")
		require.ErrorIs(t, err, serviceerr.ErrValidation)
		assert.Zero(t, api.total())
	})
}

func TestSnapshotIsACopy(t *testing.T) {
	repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(session.Record{AccessToken: "access", Identity: &shopkeeper}))
	store := session.NewStore(repo, &fakeAuthAPI{})
	store.Hydrate(t.Context())

	snap := store.Snapshot()
	snap.Identity.Role = role.SuperAdmin

	assert.Equal(t, role.Shopkeeper, store.Snapshot().Role())
}

func TestReset(t *testing.T) {
	repo := sessionmock.NewInMemRepository(sessionmock.WithRecord(session.Record{AccessToken: "access", Identity: &shopkeeper}))
	store := session.NewStore(repo, &fakeAuthAPI{})
	store.Hydrate(t.Context())

	store.Reset()

	assert.False(t, store.IsAuthenticated())
	_, stored := repo.Record()
	assert.True(t, stored, "reset must not touch durable storage")
}
