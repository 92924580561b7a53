// Package transport attaches the session bearer token to outgoing backend
// requests and forces a logout when the backend rejects it.
package transport

import (
	"context"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

const DefaultTimeout = 30 * time.Second

// TokenSource is the part of the session store the transport needs.
type TokenSource interface {
	AccessToken() string
	Invalidate(ctx context.Context, reason string)
}

// ReasonUnauthorized is passed to Invalidate on a 401.
const ReasonUnauthorized = "backend rejected the access token"

type anonymousKey struct{}

// Anonymous marks requests made with ctx as not belonging to the session:
// no token is attached and their 401 answers never force a logout.
func Anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

func isAnonymous(ctx context.Context) bool {
	anonymous, _ := ctx.Value(anonymousKey{}).(bool)
	return anonymous
}

type Transport struct {
	base http.RoundTripper
	src  TokenSource
}

// New wraps base. A nil base means http.DefaultTransport.
func New(base http.RoundTripper, src TokenSource) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, src: src}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var token string
	if !isAnonymous(req.Context()) {
		token = t.src.AccessToken()
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Only a request that carried a token can prove the token is bad, so a
	// failed sign in never logs anybody out. A token replaced meanwhile by a
	// new sign in is left alone.
	if resp.StatusCode == http.StatusUnauthorized && token != "" && t.src.AccessToken() == token {
		ctx := req.Context()
		slogctx.Warn(ctx, "Backend answered 401 for an authenticated request", "method", req.Method, "path", req.URL.Path)
		t.src.Invalidate(ctx, ReasonUnauthorized)
	}

	return resp, nil
}
