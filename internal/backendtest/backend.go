// Package backendtest runs a fake Stockway backend for tests.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stockway/portal/internal/config"
)

const (
	Password = "secret1"
	OTP      = "123456"
)

// Backend serves the auth endpoints and GET /api/orders/. Access tokens are
// "access-" followed by the user's email.
type Backend struct {
	URL string

	// Revoked makes every bearer endpoint answer 401.
	Revoked atomic.Bool

	mu            sync.Mutex
	users         map[string]string
	calls         map[string]int
	authorization string
	sent          map[string]string
}

// Start runs a backend for the lifetime of t with one user per role.
func Start(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		users: map[string]string{
			"owner@shop.example":       "SHOPKEEPER",
			"manager@stockway.example": "WAREHOUSE_MANAGER",
			"rider@stockway.example":   "RIDER",
			"admin@stockway.example":   "SUPER_ADMIN",
			"new@stockway.example":     "PENDING",
		},
		calls: make(map[string]int),
		sent:  make(map[string]string),
	}

	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	b.URL = srv.URL

	return b
}

// Count returns how often path was requested.
func (b *Backend) Count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// LastAuthorization is the Authorization header of the last bearer call.
func (b *Backend) LastAuthorization() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authorization
}

// Authorization is the Authorization header of the last request to path.
func (b *Backend) Authorization(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent[path]
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls[r.URL.Path]++
	b.sent[r.URL.Path] = r.Header.Get("Authorization")
	b.mu.Unlock()

	var body map[string]string
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	switch r.URL.Path {
	case "/api/auth/signin/":
		if _, ok := b.role(body["email"]); !ok || body["password"] != Password {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid login credentials"})
			return
		}
		b.writeTokens(w, http.StatusOK, body["email"])
	case "/api/auth/signup/":
		if _, ok := b.role(body["email"]); ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"email": []string{"user with this email already exists."}})
			return
		}
		b.mu.Lock()
		b.users[body["email"]] = "PENDING"
		b.mu.Unlock()
		b.writeTokens(w, http.StatusCreated, body["email"])
	case "/api/auth/send-otp/":
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "OTP sent successfully to your email",
			"email":   body["email"],
		})
	case "/api/auth/verify-otp/":
		if body["otp"] != OTP {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid OTP"})
			return
		}
		b.writeTokens(w, http.StatusOK, body["email"])
	case "/api/auth/me/":
		email, ok := b.bearer(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, b.user(email))
	case "/api/auth/logout/":
		if _, ok := b.bearer(w, r); !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case "/api/orders/":
		if _, ok := b.bearer(w, r); !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": []any{}})
	default:
		http.NotFound(w, r)
	}
}

func (b *Backend) role(email string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.users[email]
	return r, ok
}

func (b *Backend) user(email string) map[string]any {
	r, _ := b.role(email)
	return map[string]any{
		"id":        len(email),
		"email":     email,
		"full_name": strings.Split(email, "@")[0],
		"role":      r,
		"is_active": true,
	}
}

// bearer authenticates the request and answers 401 when it cannot.
func (b *Backend) bearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")

	b.mu.Lock()
	b.authorization = header
	b.mu.Unlock()

	email, ok := strings.CutPrefix(header, "Bearer access-")
	if _, known := b.role(email); !ok || !known || b.Revoked.Load() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid for any token type"})
		return "", false
	}

	return email, true
}

func (b *Backend) writeTokens(w http.ResponseWriter, status int, email string) {
	writeJSON(w, status, map[string]any{
		"access_token":  "access-" + email,
		"refresh_token": "refresh-" + email,
		"expires_in":    3600,
		"token_type":    "bearer",
		"user":          b.user(email),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Config returns a portal configuration pointing at b with credentials
// stored in a file below t.TempDir.
func (b *Backend) Config(t testing.TB) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.API.BaseURL = b.URL
	cfg.API.Timeout = 5 * time.Second
	cfg.Storage.Backend = config.StorageBackendFile
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "credentials.yaml")
	cfg.Storage.Keys = config.StorageKeys{
		AccessToken:  "stockway_access_token",
		RefreshToken: "stockway_refresh_token",
		Identity:     "stockway_user",
	}
	cfg.Session.MinPasswordLength = 6

	return cfg
}
