package portal

import (
	"context"
	"errors"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/stockway/portal/internal/serviceerr"
	"github.com/stockway/portal/internal/session"
)

// Revalidate re-checks the held token against the backend every interval
// until ctx is done. A rejected token ends the session through the store.
func Revalidate(ctx context.Context, store *session.Store, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			RevalidateOnce(ctx, store)
		case <-ctx.Done():
			return
		}
	}
}

// RevalidateOnce checks the held token now. Failures are logged and never
// returned: a rejected token has already ended the session.
func RevalidateOnce(ctx context.Context, store *session.Store) {
	if !store.IsAuthenticated() {
		return
	}

	slogctx.Debug(ctx, "Triggering session revalidation")

	err := store.RefreshFromServer(ctx)
	switch {
	case err == nil:
	case errors.Is(err, serviceerr.ErrBusy), errors.Is(err, serviceerr.ErrSuperseded):
		slogctx.Debug(ctx, "Skipped session revalidation", "error", err)
	default:
		slogctx.Warn(ctx, "Session revalidation ended the session", "error", err)
	}
}
