// Package business wires configuration into the session store, the backend
// client and the portal server.
package business

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/authapi"
	"github.com/stockway/portal/internal/config"
	"github.com/stockway/portal/internal/portal"
	"github.com/stockway/portal/internal/session"
	sessionfile "github.com/stockway/portal/internal/session/file"
	sessionvalkey "github.com/stockway/portal/internal/session/valkey"
	"github.com/stockway/portal/internal/transport"
)

const minCSRFSecretLength = 32

// Client is a hydrated session store together with the transport that
// carries its token to the backend.
type Client struct {
	Store     *session.Store
	Transport http.RoundTripper

	closeFn func()
}

// Close releases the storage connection, if any.
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// InitClient builds the session store from cfg and hydrates it from durable
// storage. No network call is made.
func InitClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	repo, closeFn, err := repositoryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating session repository: %w", err)
	}

	// The auth client and the bearer transport need each other: the store
	// calls the backend through the client, and the client's transport
	// reads the token from the store.
	httpClient := &http.Client{Timeout: cfg.API.Timeout}

	api, err := authapi.New(cfg.API.BaseURL, httpClient, authapi.WithPaths(apiPaths(cfg.API.Paths)))
	if err != nil {
		closeFn()
		return nil, fmt.Errorf("creating auth api client: %w", err)
	}

	store := session.NewStore(repo, api, session.WithMinPasswordLength(cfg.Session.MinPasswordLength))

	bearer := transport.New(nil, store)
	httpClient.Transport = bearer

	snap := store.Hydrate(ctx)
	slogctx.Debug(ctx, "Session store ready", "authenticated", snap.IsAuthenticated())

	return &Client{Store: store, Transport: bearer, closeFn: closeFn}, nil
}

// ServeMain runs the portal server until ctx is done.
func ServeMain(ctx context.Context, cfg *config.Config) error {
	client, err := InitClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session client: %w", err)
	}
	defer client.Close()

	// a restored token is checked once before any page is served
	portal.RevalidateOnce(ctx, client.Store)

	csrfKey, err := loadCSRFKey(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := portal.New(ctx, cfg, client.Store, client.Transport, csrfKey)
	if err != nil {
		return fmt.Errorf("creating portal server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		portal.Revalidate(ctx, client.Store, cfg.Session.RevalidateInterval)
	})

	err = portal.StartHTTPServer(ctx, cfg, srv)
	cancel()
	wg.Wait()

	return err
}

func repositoryFromConfig(cfg *config.Config) (session.Repository, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendFile, "":
		path := os.ExpandEnv(cfg.Storage.File.Path)
		if path == "" {
			return nil, nil, errors.New("storage file path is empty")
		}

		keys := sessionfile.Keys{
			AccessToken:  cfg.Storage.Keys.AccessToken,
			RefreshToken: cfg.Storage.Keys.RefreshToken,
			Identity:     cfg.Storage.Keys.Identity,
		}

		return sessionfile.NewRepository(path, keys), func() {}, nil
	case config.StorageBackendValKey:
		valkeyClient, err := valkeyClientFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}

		keys := sessionvalkey.Keys{
			AccessToken:  cfg.Storage.Keys.AccessToken,
			RefreshToken: cfg.Storage.Keys.RefreshToken,
			Identity:     cfg.Storage.Keys.Identity,
		}

		repo := sessionvalkey.NewRepository(valkeyClient, cfg.Storage.ValKey.Prefix, cfg.Storage.ValKey.Profile, keys)

		return repo, valkeyClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func valkeyClientFromConfig(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.Storage.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.Storage.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.Storage.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.Storage.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.Storage.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}

// loadCSRFKey reads the configured secret. Without one a random key is
// generated, so forms do not survive a restart.
func loadCSRFKey(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if cfg.Session.CSRFSecret.Source == "" {
		slogctx.Warn(ctx, "No csrf secret configured, generating a random one")

		key := make([]byte, minCSRFSecretLength)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating csrf secret: %w", err)
		}

		return key, nil
	}

	key, err := commoncfg.LoadValueFromSourceRef(cfg.Session.CSRFSecret)
	if err != nil {
		return nil, fmt.Errorf("loading csrf token from source ref: %w", err)
	}

	if len(key) < minCSRFSecretLength {
		return nil, fmt.Errorf("CSRF secret must be at least %d bytes", minCSRFSecretLength)
	}

	return key, nil
}

// apiPaths overlays the configured paths on the defaults.
func apiPaths(p config.APIPaths) authapi.Paths {
	paths := authapi.DefaultPaths()
	for dst, src := range map[*string]string{
		&paths.SendOTP:   p.SendOTP,
		&paths.VerifyOTP: p.VerifyOTP,
		&paths.SignIn:    p.SignIn,
		&paths.SignUp:    p.SignUp,
		&paths.Me:        p.Me,
		&paths.Logout:    p.Logout,
	} {
		if src != "" {
			*dst = src
		}
	}

	return paths
}
