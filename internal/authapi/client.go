// Package authapi talks to the Stockway backend authentication endpoints.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/stockway/portal/internal/serviceerr"
	"github.com/stockway/portal/internal/session"
	"github.com/stockway/portal/internal/transport"
)

const maxBodySize = 1 << 20

// Paths locates each endpoint below the backend base URL.
type Paths struct {
	SendOTP   string
	VerifyOTP string
	SignIn    string
	SignUp    string
	Me        string
	Logout    string
}

func DefaultPaths() Paths {
	return Paths{
		SendOTP:   "/api/auth/send-otp/",
		VerifyOTP: "/api/auth/verify-otp/",
		SignIn:    "/api/auth/signin/",
		SignUp:    "/api/auth/signup/",
		Me:        "/api/auth/me/",
		Logout:    "/api/auth/logout/",
	}
}

// endpointKind decides how a rejection is classified.
type endpointKind int

const (
	// credential endpoints are called without the session token; 401 and
	// 403 mean the submitted credentials were refused.
	credentialEndpoint endpointKind = iota
	// bearer endpoints use the held token; 401 means it is no longer valid.
	bearerEndpoint
)

type Client struct {
	baseURL *url.URL
	http    *http.Client
	paths   Paths
}

var _ = session.AuthAPI(&Client{})

type Option func(*Client)

func WithPaths(paths Paths) Option {
	return func(c *Client) { c.paths = paths }
}

// New creates a client for baseURL. The http client is used as is, so the
// bearer transport and timeout are configured by the caller.
func New(baseURL string, httpClient *http.Client, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", baseURL)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL: u,
		http:    httpClient,
		paths:   DefaultPaths(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

func (c *Client) RequestOTP(ctx context.Context, email string) (session.OTPChallenge, error) {
	var challenge session.OTPChallenge
	err := c.do(ctx, "send_otp", http.MethodPost, c.paths.SendOTP, credentialEndpoint,
		map[string]string{"email": email}, &challenge)
	if err != nil {
		return session.OTPChallenge{}, err
	}

	return challenge, nil
}

func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (session.Tokens, error) {
	var tokens session.Tokens
	err := c.do(ctx, "verify_otp", http.MethodPost, c.paths.VerifyOTP, credentialEndpoint,
		map[string]string{"email": email, "otp": otp}, &tokens)
	if err != nil {
		return session.Tokens{}, err
	}

	return tokens, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (session.Tokens, error) {
	var tokens session.Tokens
	err := c.do(ctx, "sign_in", http.MethodPost, c.paths.SignIn, credentialEndpoint,
		map[string]string{"email": email, "password": password}, &tokens)
	if err != nil {
		return session.Tokens{}, err
	}

	return tokens, nil
}

func (c *Client) SignUp(ctx context.Context, email, password, confirmation string) (session.Tokens, error) {
	var tokens session.Tokens
	err := c.do(ctx, "sign_up", http.MethodPost, c.paths.SignUp, credentialEndpoint,
		map[string]string{"email": email, "password": password, "confirm_password": confirmation}, &tokens)
	if err != nil {
		return session.Tokens{}, err
	}

	return tokens, nil
}

func (c *Client) CurrentIdentity(ctx context.Context) (session.Identity, error) {
	var identity session.Identity
	err := c.do(ctx, "current_identity", http.MethodGet, c.paths.Me, bearerEndpoint, nil, &identity)
	if err != nil {
		return session.Identity{}, err
	}

	return identity, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, c.paths.Logout, bearerEndpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, kind endpointKind, in, out any) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "authapi_"+op)
	defer span.End()

	if kind == credentialEndpoint {
		ctx = transport.Anonymous(ctx)
	}

	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		span.RecordError(err)
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %s %s: %w", serviceerr.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: reading %s response: %w", serviceerr.ErrTransport, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := serviceerr.NewAPIError(resp.StatusCode, ErrorMessage(body), classify(kind, resp.StatusCode))
		span.RecordError(apiErr)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint path %q: %w", path, err)
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

func classify(kind endpointKind, status int) error {
	switch {
	case status == http.StatusUnauthorized && kind == bearerEndpoint:
		return serviceerr.ErrSessionInvalidated
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return serviceerr.ErrAuthRejected
	case status == http.StatusBadRequest:
		return serviceerr.ErrValidation
	default:
		return nil
	}
}

// ErrorMessage extracts the text a user should see from an error body. In
// order it prefers a plain string body, "detail", a string "error", the
// first entry of an "error" object and the first field list. An empty
// result means the caller falls back to the status text.
func ErrorMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	if !json.Valid(body) {
		return string(body)
	}

	var text string
	if err := json.Unmarshal(body, &text); err == nil {
		return text
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return ""
	}

	if detail := asString(data["detail"]); detail != "" {
		return detail
	}

	if raw, ok := data["error"]; ok {
		if msg := asString(raw); msg != "" {
			return msg
		}
		if _, first, ok := firstField(raw); ok {
			if msg := firstString(first); msg != "" {
				return msg
			}
		}
	}

	if key, first, ok := firstField(body); ok {
		var list []json.RawMessage
		if err := json.Unmarshal(first, &list); err == nil && len(list) > 0 {
			return key + ": " + asString(list[0])
		}
	}

	return ""
}

func asString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// firstString unwraps a value that is either a string or a list of strings.
func firstString(raw json.RawMessage) string {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		return asString(list[0])
	}
	return asString(raw)
}

// firstField returns the first member of a JSON object in document order.
func firstField(raw json.RawMessage) (string, json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return "", nil, false
	}

	tok, err = dec.Token()
	if err != nil {
		return "", nil, false
	}
	key, ok := tok.(string)
	if !ok {
		return "", nil, false
	}

	var value json.RawMessage
	if err := dec.Decode(&value); err != nil {
		return "", nil, false
	}

	return key, value, true
}
