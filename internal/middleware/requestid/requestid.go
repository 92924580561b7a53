// Package requestid gives every portal request an identifier that is logged,
// echoed to the client and forwarded to the backend.
package requestid

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"

	slogctx "github.com/veqryn/slog-context"
)

// Header carries the request id in both directions.
const Header = "X-Request-Id"

// Using an unexported type prevents key collisions from other packages.
type contextKey string

const requestIDKey contextKey = "request-id"

// Middleware reuses a well-formed incoming id or creates a new one, and adds
// it to the context logger.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		w.Header().Set(Header, id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = slogctx.With(ctx, commoncfg.AttrRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext retrieves the id stored by Middleware.
func FromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return "", errors.New("request id not found in context")
	}
	return id, nil
}
